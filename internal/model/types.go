package model

import (
	"time"

	"github.com/google/uuid"
)

// Step is the wizard position of a login session.
type Step string

const (
	StepSelectMethod     Step = "select_method"
	StepIdentifierAndDob Step = "identifier_and_dob"
	StepChooseChannel    Step = "choose_channel"
	StepConfirmOtp       Step = "confirm_otp"
)

// Method is the identifier kind chosen in the first step.
type Method string

const (
	MethodUnset        Method = ""
	MethodEmailOrPhone Method = "email"
	MethodNationalID   Method = "apaar"
)

// Channel is the contact route chosen to receive the OTP.
type Channel string

const (
	ChannelUnset  Channel = ""
	ChannelMobile Channel = "mobile"
	ChannelEmail  Channel = "email"
)

// DateOfBirth is the (day, month, year) triple collected in step 2.
type DateOfBirth struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// IsZero reports whether no date has been entered at all.
func (d DateOfBirth) IsZero() bool {
	return d.Day == 0 && d.Month == 0 && d.Year == 0
}

// LoginSession is the transient state of one wizard run. It lives only in
// the flow registry and is discarded on completion or expiry.
type LoginSession struct {
	ID             uuid.UUID
	Step           Step
	Method         Method
	IdentifierRaw  string
	DOB            DateOfBirth
	ResolvedMobile string
	ResolvedEmail  string
	Channel        Channel
	OtpCode        string

	// ResendAt gates OTP re-dispatch; zero means resend is permitted.
	ResendAt time.Time

	// Errors maps field names to human-readable messages. Cleared per-field
	// on edit and wholesale on every transition.
	Errors map[string]string

	CreatedAt time.Time
}

// NewLoginSession returns a fresh session positioned at the first step.
func NewLoginSession(id uuid.UUID, now time.Time) *LoginSession {
	return &LoginSession{
		ID:        id,
		Step:      StepSelectMethod,
		Errors:    map[string]string{},
		CreatedAt: now,
	}
}

// ResendSeconds returns the remaining resend cooldown, never negative.
func (s *LoginSession) ResendSeconds(now time.Time) int {
	if s.ResendAt.IsZero() {
		return 0
	}
	remaining := s.ResendAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// Round up so a client never sees 0 while resend is still blocked.
	return int((remaining + time.Second - 1) / time.Second)
}

// SessionRecord is the persisted identity written after a completed login.
// The rest of the application reads it to decide "is this user logged in".
type SessionRecord struct {
	UserID    string
	Name      string
	Email     string
	Token     string
	CreatedAt time.Time
}
