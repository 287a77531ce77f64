package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vanakhel/server/internal/model"
)

const (
	verifyPath  = "/api/auth/verify-user"
	sendPath    = "/api/auth/send-otp"
	confirmPath = "/api/auth/verify-otp"

	// statusOK is the success flag the platform API uses in response bodies.
	statusOK = "1"
)

// ErrUnavailable wraps transport-level failures: the call itself failed or
// the response body could not be decoded. The caller shows a generic
// network-error notice and must not advance the flow.
var ErrUnavailable = errors.New("platform API unavailable")

// RejectedError is a well-formed platform response signalling failure
// (status != "1"). Message carries the server-provided text, if any.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "platform API rejected the request"
	}
	return e.Message
}

// Contacts are the masked destinations the platform has on file for a
// verified identifier. Either may be empty.
type Contacts struct {
	Mobile string
	Email  string
}

// Identity is the authenticated user returned by a successful OTP
// confirmation, plus the redirect target the platform suggests.
type Identity struct {
	UserID      string
	Name        string
	Email       string
	Token       string
	RedirectURL string
}

// Client talks to the remote platform API that owns verification, OTP
// issuance and OTP confirmation.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a platform API client.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client
// (used by tests and by callers that manage transports themselves).
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type verifyRequest struct {
	Type    string `json:"type"`
	DOB     string `json:"dob"`
	Email   string `json:"email,omitempty"`
	ApaarID string `json:"apaar_id,omitempty"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Mobile string `json:"mobile"`
		Email  string `json:"email"`
	} `json:"data"`
}

type sendOTPRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendOTPResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"` // debug value, dev environments only
}

type confirmOTPRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	OTP   string `json:"otp"`
}

type confirmOTPResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
		Token  string `json:"token"`
	} `json:"data"`
	RedirectURL string `json:"redirectUrl"`
}

// VerifyIdentifier resolves an identifier + date of birth to the masked
// contacts on file. dob must be ISO yyyy-mm-dd.
func (c *Client) VerifyIdentifier(ctx context.Context, method model.Method, identifier, dob string) (Contacts, error) {
	req := verifyRequest{Type: string(method), DOB: dob}
	if method == model.MethodNationalID {
		req.ApaarID = identifier
	} else {
		req.Email = identifier
	}

	var res verifyResponse
	if err := c.post(ctx, verifyPath, req, &res); err != nil {
		return Contacts{}, err
	}
	if res.Status != statusOK {
		return Contacts{}, &RejectedError{Message: res.Message}
	}
	return Contacts{Mobile: res.Data.Mobile, Email: res.Data.Email}, nil
}

// SendOTP asks the platform to dispatch a one-time code to the given
// destination over the chosen channel.
func (c *Client) SendOTP(ctx context.Context, channel model.Channel, value string) error {
	var res sendOTPResponse
	if err := c.post(ctx, sendPath, sendOTPRequest{Type: string(channel), Value: value}, &res); err != nil {
		return err
	}
	if res.Status != "" && res.Status != statusOK {
		return &RejectedError{Message: res.Message}
	}
	return nil
}

// ConfirmOTP validates a submitted code and returns the authenticated
// identity on success.
func (c *Client) ConfirmOTP(ctx context.Context, channel model.Channel, value, otp string) (Identity, error) {
	var res confirmOTPResponse
	if err := c.post(ctx, confirmPath, confirmOTPRequest{Type: string(channel), Value: value, OTP: otp}, &res); err != nil {
		return Identity{}, err
	}
	if res.Status != statusOK {
		return Identity{}, &RejectedError{Message: res.Message}
	}
	return Identity{
		UserID:      res.Data.UserID,
		Name:        res.Data.Name,
		Email:       res.Data.Email,
		Token:       res.Data.Token,
		RedirectURL: res.RedirectURL,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var env struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			return &RejectedError{Message: env.Message}
		}
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}
	return nil
}
