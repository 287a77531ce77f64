package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vanakhel/server/internal/auth"
	"github.com/vanakhel/server/internal/flow"
	"github.com/vanakhel/server/internal/flowstore"
	httphandler "github.com/vanakhel/server/internal/http"
	"github.com/vanakhel/server/internal/http/handlers"
	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/session"
	"github.com/vanakhel/server/internal/upstream"
)

const (
	// CorrectOTP is the code FakePlatform accepts.
	CorrectOTP = "123456"
	// KnownEmail and KnownApaarID resolve on the fake platform.
	KnownEmail   = "student@example.com"
	KnownApaarID = "123456789012"

	maskedMobile = "+91******1234"
)

// FakePlatform is an httptest stand-in for the remote platform API,
// speaking its JSON envelope. Behavior is adjustable per test.
type FakePlatform struct {
	Server *httptest.Server

	mu          sync.Mutex
	sendCalls   int
	redirectURL string
	down        bool
	noMobile    bool
	sendBroken  bool
}

// NewFakePlatform starts the fake platform server.
func NewFakePlatform(t *testing.T) *FakePlatform {
	t.Helper()
	p := &FakePlatform{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/verify-user", p.handleVerify)
	mux.HandleFunc("/api/auth/send-otp", p.handleSend)
	mux.HandleFunc("/api/auth/verify-otp", p.handleConfirm)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// SetRedirectURL makes confirm responses carry a redirectUrl.
func (p *FakePlatform) SetRedirectURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirectURL = u
}

// SetDown makes every endpoint drop the connection.
func (p *FakePlatform) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

// SetNoMobile removes the mobile contact from verification responses.
func (p *FakePlatform) SetNoMobile(noMobile bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noMobile = noMobile
}

// SetSendBroken makes OTP dispatch answer HTTP 500 with a JSON error body.
func (p *FakePlatform) SetSendBroken(broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendBroken = broken
}

// SendCalls reports how many OTP dispatches were requested.
func (p *FakePlatform) SendCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendCalls
}

func (p *FakePlatform) failing(w http.ResponseWriter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		hj, ok := w.(http.Hijacker)
		if ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
		}
		return true
	}
	return false
}

func (p *FakePlatform) handleVerify(w http.ResponseWriter, r *http.Request) {
	if p.failing(w) {
		return
	}
	var req struct {
		Type    string `json:"type"`
		DOB     string `json:"dob"`
		Email   string `json:"email"`
		ApaarID string `json:"apaar_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	known := req.Email == KnownEmail || req.ApaarID == KnownApaarID
	if !known {
		writeJSON(w, map[string]any{"status": "0", "message": "No student found for these details."})
		return
	}

	p.mu.Lock()
	noMobile := p.noMobile
	p.mu.Unlock()

	data := map[string]string{"email": KnownEmail}
	if !noMobile {
		data["mobile"] = maskedMobile
	}
	writeJSON(w, map[string]any{"status": "1", "data": data})
}

func (p *FakePlatform) handleSend(w http.ResponseWriter, r *http.Request) {
	if p.failing(w) {
		return
	}
	p.mu.Lock()
	broken := p.sendBroken
	p.mu.Unlock()
	if broken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "internal server error"})
		return
	}
	p.mu.Lock()
	p.sendCalls++
	p.mu.Unlock()
	writeJSON(w, map[string]any{"status": "1", "message": "otp_sent"})
}

func (p *FakePlatform) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if p.failing(w) {
		return
	}
	var req struct {
		OTP string `json:"otp"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.OTP != CorrectOTP {
		writeJSON(w, map[string]any{"status": "0", "message": "Invalid or expired OTP."})
		return
	}

	p.mu.Lock()
	redirect := p.redirectURL
	p.mu.Unlock()

	body := map[string]any{
		"status": "1",
		"data": map[string]string{
			"user_id": "u-42",
			"name":    "Asha",
			"email":   KnownEmail,
			"token":   "platform-token",
		},
	}
	if redirect != "" {
		body["redirectUrl"] = redirect
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// TestServer bundles the gateway under test with its collaborators.
type TestServer struct {
	Server   *httptest.Server
	Platform *FakePlatform
	Sessions *session.MemoryRepo
	Clock    *FakeClock
}

// FakeClock is a mutable time source shared by the flow and assertions.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serverOption func(*serverConfig)

type serverConfig struct {
	signer handlers.TokenSigner
}

// withSigner swaps the token signer the gateway completes logins with.
func withSigner(s handlers.TokenSigner) serverOption {
	return func(c *serverConfig) { c.signer = s }
}

// newTestServer builds the full gateway over a fake platform and an
// in-memory session repo, served by httptest (no real port).
func newTestServer(t *testing.T, opts ...serverOption) *TestServer {
	t.Helper()

	platform := NewFakePlatform(t)
	sessions := session.NewMemoryRepo()
	clock := &FakeClock{now: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}

	client := upstream.New(platform.Server.URL, 5*time.Second)
	loginFlow := flow.New(client, sessions, flow.WithClock(clock.Now))
	flows := flowstore.NewWithClock(15*time.Minute, clock.Now)
	jwtService := auth.NewJWTService("test-secret")

	cfg := serverConfig{signer: jwtService}
	for _, opt := range opts {
		opt(&cfg)
	}

	loginHandler := handlers.NewLoginHandler(flows, loginFlow, cfg.signer, handlers.WithClock(clock.Now))
	router := httphandler.NewRouter(loginHandler, jwtService, sessions)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &TestServer{
		Server:   srv,
		Platform: platform,
		Sessions: sessions,
		Clock:    clock,
	}
}

// BaseURL returns the gateway's base URL.
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// DOB for a user born 2005-01-01 (well inside the age window).
func adultDOB() model.DateOfBirth {
	return model.DateOfBirth{Day: 1, Month: 1, Year: 2005}
}
