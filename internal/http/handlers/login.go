package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vanakhel/server/internal/flow"
	"github.com/vanakhel/server/internal/flowstore"
	"github.com/vanakhel/server/internal/middleware"
	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/observability/metrics"
)

// TokenSigner mints gateway access tokens. *auth.JWTService satisfies it.
type TokenSigner interface {
	SignAccessToken(userID, email string) (string, error)
}

// LoginHandler exposes the login wizard over HTTP. Each endpoint drives one
// state-machine operation on the flow identified in the URL.
type LoginHandler struct {
	flows  *flowstore.Store
	flow   *flow.Flow
	signer TokenSigner

	startLimiter  *middleware.RateLimiter
	submitLimiter *middleware.RateLimiter

	now func() time.Time
}

// Option tweaks a LoginHandler.
type Option func(*LoginHandler)

// WithClock substitutes the time source used to render resend countdowns.
func WithClock(now func() time.Time) Option {
	return func(h *LoginHandler) { h.now = now }
}

// NewLoginHandler creates a login handler.
// IP limits: 10 flow starts and 30 step submissions per 10 minutes.
func NewLoginHandler(flows *flowstore.Store, loginFlow *flow.Flow, signer TokenSigner, opts ...Option) *LoginHandler {
	h := &LoginHandler{
		flows:         flows,
		flow:          loginFlow,
		signer:        signer,
		startLimiter:  middleware.NewRateLimiter(10*time.Minute, 10),
		submitLimiter: middleware.NewRateLimiter(10*time.Minute, 30),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// flowStateResponse is the wizard state rendered to clients after every
// operation. Errors carries per-field messages; contacts are the masked
// values the platform returned.
type flowStateResponse struct {
	FlowID        string            `json:"flow_id"`
	Step          model.Step        `json:"step"`
	Method        model.Method      `json:"method,omitempty"`
	Mobile        string            `json:"mobile,omitempty"`
	Email         string            `json:"email,omitempty"`
	Channels      []model.Channel   `json:"channels,omitempty"`
	Channel       model.Channel     `json:"channel,omitempty"`
	ResendSeconds int               `json:"resend_seconds"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// completeResponse is returned once the OTP is confirmed and the session
// record is persisted.
type completeResponse struct {
	Status      string       `json:"status"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	RedirectURL string       `json:"redirect_url"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type selectMethodRequest struct {
	Method model.Method `json:"method"`
}

type submitIdentifierRequest struct {
	Identifier string            `json:"identifier"`
	DOB        model.DateOfBirth `json:"dob"`
}

type submitChannelRequest struct {
	Channel model.Channel `json:"channel"`
}

type submitOTPRequest struct {
	OTP string `json:"otp"`
}

// HandleStart handles POST /login/start.
func (h *LoginHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !h.startLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	sess := h.flows.Create()
	metrics.FlowsStartedTotal.Inc()
	h.respondState(w, http.StatusCreated, sess)
}

// HandleState handles GET /login/{flowID}.
func (h *LoginHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.flowID(w, r)
	if !ok {
		return
	}
	sess, err := h.flows.Peek(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "login flow not found or expired")
		return
	}
	h.respondState(w, http.StatusOK, sess)
}

// HandleSelectMethod handles POST /login/{flowID}/method.
func (h *LoginHandler) HandleSelectMethod(w http.ResponseWriter, r *http.Request) {
	var req selectMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.step(w, r, "method", func(sess *model.LoginSession) error {
		return h.flow.SelectMethod(sess, req.Method)
	})
}

// HandleSubmitIdentifier handles POST /login/{flowID}/identifier.
func (h *LoginHandler) HandleSubmitIdentifier(w http.ResponseWriter, r *http.Request) {
	var req submitIdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.step(w, r, "identifier", func(sess *model.LoginSession) error {
		return h.flow.SubmitIdentifierAndDob(r.Context(), sess, req.Identifier, req.DOB)
	})
}

// HandleSubmitChannel handles POST /login/{flowID}/channel.
func (h *LoginHandler) HandleSubmitChannel(w http.ResponseWriter, r *http.Request) {
	var req submitChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.step(w, r, "channel", func(sess *model.LoginSession) error {
		return h.flow.SubmitChannel(r.Context(), sess, req.Channel)
	})
}

// HandleResendOTP handles POST /login/{flowID}/otp/resend.
func (h *LoginHandler) HandleResendOTP(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, "resend", func(sess *model.LoginSession) error {
		return h.flow.ResendOTP(r.Context(), sess)
	})
}

// HandleSubmitOTP handles POST /login/{flowID}/otp. On success the flow is
// discarded, the session record is already persisted, and the response
// carries a gateway access token plus the redirect target.
func (h *LoginHandler) HandleSubmitOTP(w http.ResponseWriter, r *http.Request) {
	var req submitOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.submitLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	id, ok := h.flowID(w, r)
	if !ok {
		return
	}
	sess, err := h.flows.Acquire(id)
	if err != nil {
		h.respondFlowError(w, err)
		return
	}
	defer h.flows.Release(id)

	outcome, err := h.flow.SubmitOTP(r.Context(), sess, req.OTP)
	if err != nil {
		if errors.Is(err, flow.ErrStepMismatch) {
			respondWithError(w, http.StatusConflict, "operation not valid for current step")
			return
		}
		log.Printf("flow %s: persist session: %v", id, err)
		respondWithError(w, http.StatusInternalServerError, "could not complete login")
		return
	}
	if outcome == nil {
		metrics.FlowStepsTotal.WithLabelValues("otp", metrics.ResultInvalid).Inc()
		h.respondState(w, http.StatusOK, sess)
		return
	}

	// The OTP is consumed and the session record is persisted; the flow is
	// done regardless of what happens to the token below. Discarding it now
	// keeps a retry from re-confirming the spent code upstream.
	h.flows.Discard(id)

	accessToken, err := h.signer.SignAccessToken(outcome.Record.UserID, outcome.Record.Email)
	if err != nil {
		log.Printf("flow %s: sign access token: %v", id, err)
		respondWithError(w, http.StatusInternalServerError, "could not complete login")
		return
	}

	metrics.FlowStepsTotal.WithLabelValues("otp", metrics.ResultOK).Inc()
	metrics.FlowsCompletedTotal.Inc()

	respondJSON(w, http.StatusOK, completeResponse{
		Status:      "complete",
		AccessToken: accessToken,
		TokenType:   "bearer",
		RedirectURL: outcome.RedirectURL,
		User: userResponse{
			UserID: outcome.Record.UserID,
			Name:   outcome.Record.Name,
			Email:  outcome.Record.Email,
		},
	})
}

// HandleBack handles POST /login/{flowID}/back.
func (h *LoginHandler) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, "back", func(sess *model.LoginSession) error {
		return h.flow.Back(sess)
	})
}

// HandleMe handles GET /me (protected). Returns the persisted session record.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	rec, ok := middleware.GetSession(r.Context())
	if !ok || rec == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, userResponse{
		UserID: rec.UserID,
		Name:   rec.Name,
		Email:  rec.Email,
	})
}

// step runs one state-machine operation under the flow's in-flight guard
// and renders the resulting wizard state.
func (h *LoginHandler) step(w http.ResponseWriter, r *http.Request, name string, op func(*model.LoginSession) error) {
	if !h.submitLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	id, ok := h.flowID(w, r)
	if !ok {
		return
	}
	sess, err := h.flows.Acquire(id)
	if err != nil {
		h.respondFlowError(w, err)
		return
	}
	defer h.flows.Release(id)

	if err := op(sess); err != nil {
		if errors.Is(err, flow.ErrStepMismatch) {
			respondWithError(w, http.StatusConflict, "operation not valid for current step")
			return
		}
		log.Printf("flow %s: %s: %v", id, name, err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result := metrics.ResultOK
	if len(sess.Errors) > 0 {
		result = metrics.ResultInvalid
	}
	metrics.FlowStepsTotal.WithLabelValues(name, result).Inc()

	h.respondState(w, http.StatusOK, sess)
}

func (h *LoginHandler) flowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid flow id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LoginHandler) respondFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flowstore.ErrBusy):
		respondWithError(w, http.StatusConflict, "a submission is already in progress")
	default:
		respondWithError(w, http.StatusNotFound, "login flow not found or expired")
	}
}

func (h *LoginHandler) respondState(w http.ResponseWriter, status int, sess *model.LoginSession) {
	resp := flowStateResponse{
		FlowID:        sess.ID.String(),
		Step:          sess.Step,
		Method:        sess.Method,
		Channel:       sess.Channel,
		ResendSeconds: sess.ResendSeconds(h.now()),
	}
	if sess.Step == model.StepChooseChannel || sess.Step == model.StepConfirmOtp {
		resp.Mobile = sess.ResolvedMobile
		resp.Email = sess.ResolvedEmail
		resp.Channels = flow.AvailableChannels(sess)
	}
	if len(sess.Errors) > 0 {
		resp.Errors = sess.Errors
	}
	respondJSON(w, status, resp)
}

// respondJSON writes a JSON response body with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
