package flow

import (
	"context"
	"errors"
	"time"

	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/session"
	"github.com/vanakhel/server/internal/upstream"
)

// Field keys under which validation and step errors are reported.
const (
	FieldIdentifier = "identifier"
	FieldDOB        = "dob"
	FieldChannel    = "channel"
	FieldOTP        = "otp"
	// FieldForm carries step-level notices (remote rejections, network
	// failures) that are not tied to a single input.
	FieldForm = "form"
)

const (
	otpLength = 6

	// DefaultSendCooldown gates resend after the initial dispatch.
	DefaultSendCooldown = 60 * time.Second
	// DefaultResendCooldown re-arms the gate after a manual resend.
	DefaultResendCooldown = 30 * time.Second

	// DefaultRedirect is used when the platform does not name a target.
	DefaultRedirect = "/dashboard"
)

const (
	msgNetworkError = "Network error. Please check your connection and try again."
	msgVerifyFailed = "We could not verify your details. Please try again."
	msgOTPInvalid   = "Invalid or expired OTP."
	msgOTPFormat    = "Please enter the 6-digit code."
	msgChannelPick  = "Please choose where to receive the code."
)

// ErrStepMismatch is returned when an operation is invoked from a step it
// does not belong to. Forward movement only ever happens through the
// operation owning the current step.
var ErrStepMismatch = errors.New("operation not valid for current step")

// Platform is the slice of the remote API the flow depends on.
// *upstream.Client satisfies it.
type Platform interface {
	VerifyIdentifier(ctx context.Context, method model.Method, identifier, dob string) (upstream.Contacts, error)
	SendOTP(ctx context.Context, channel model.Channel, value string) error
	ConfirmOTP(ctx context.Context, channel model.Channel, value, otp string) (upstream.Identity, error)
}

// Outcome reports what a successful OTP confirmation produced.
type Outcome struct {
	Record      model.SessionRecord
	RedirectURL string
}

// Flow drives a login session through the wizard. All mutation happens on
// the *model.LoginSession passed in; the caller owns locking (one flow is
// never submitted concurrently).
type Flow struct {
	platform Platform
	sessions session.Repo

	sendCooldown   time.Duration
	resendCooldown time.Duration

	now func() time.Time
}

// Option tweaks a Flow.
type Option func(*Flow)

// WithClock substitutes the time source; tests pin it.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithCooldowns overrides the resend gating windows.
func WithCooldowns(initial, resend time.Duration) Option {
	return func(f *Flow) {
		f.sendCooldown = initial
		f.resendCooldown = resend
	}
}

// New creates a Flow over the given platform client and session repository.
func New(platform Platform, sessions session.Repo, opts ...Option) *Flow {
	f := &Flow{
		platform:       platform,
		sessions:       sessions,
		sendCooldown:   DefaultSendCooldown,
		resendCooldown: DefaultResendCooldown,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SelectMethod records the identifier kind and advances to the identifier
// step. No remote call is involved; it cannot fail validation.
func (f *Flow) SelectMethod(s *model.LoginSession, method model.Method) error {
	if s.Step != model.StepSelectMethod {
		return ErrStepMismatch
	}
	if method != model.MethodEmailOrPhone && method != model.MethodNationalID {
		s.Errors["method"] = "Please choose a sign-in method."
		return nil
	}
	s.Method = method
	f.transition(s, model.StepIdentifierAndDob)
	return nil
}

// SubmitIdentifierAndDob validates the identifier and date of birth, then
// asks the platform to resolve them to masked contacts. The step advances
// only on a successful remote response; every failure mode lands in
// s.Errors and leaves the step unchanged.
func (f *Flow) SubmitIdentifierAndDob(ctx context.Context, s *model.LoginSession, identifierRaw string, dob model.DateOfBirth) error {
	if s.Step != model.StepIdentifierAndDob {
		return ErrStepMismatch
	}
	clearFields(s, FieldIdentifier, FieldDOB, FieldForm)
	s.IdentifierRaw = identifierRaw
	s.DOB = dob

	value, errMsg := validateIdentifier(s.Method, identifierRaw)
	if errMsg != "" {
		s.Errors[FieldIdentifier] = errMsg
	}
	if dobMsg := validateDOB(dob, f.now()); dobMsg != "" {
		s.Errors[FieldDOB] = dobMsg
	}
	if len(s.Errors) > 0 {
		return nil
	}

	contacts, err := f.platform.VerifyIdentifier(ctx, s.Method, value, isoDate(dob))
	if err != nil {
		s.Errors[FieldForm] = stepMessage(err, msgVerifyFailed)
		return nil
	}

	s.ResolvedMobile = contacts.Mobile
	s.ResolvedEmail = contacts.Email
	f.transition(s, model.StepChooseChannel)
	return nil
}

// SubmitChannel dispatches an OTP to the chosen contact route and advances
// to the confirmation step, arming the resend cooldown. A channel with no
// resolved destination is rejected before any remote call.
func (f *Flow) SubmitChannel(ctx context.Context, s *model.LoginSession, channel model.Channel) error {
	if s.Step != model.StepChooseChannel {
		return ErrStepMismatch
	}
	clearFields(s, FieldChannel, FieldForm)

	dest, errMsg := f.destinationFor(s, channel)
	if errMsg != "" {
		s.Errors[FieldChannel] = errMsg
		return nil
	}
	s.Channel = channel

	if err := f.platform.SendOTP(ctx, channel, dest); err != nil {
		s.Errors[FieldForm] = stepMessage(err, "Could not send the code. Please try again.")
		return nil
	}

	f.transition(s, model.StepConfirmOtp)
	s.ResendAt = f.now().Add(f.sendCooldown)
	return nil
}

// SubmitOTP confirms the entered code with the platform. On success the
// session record is persisted and the login session is finished; the
// caller discards it. On rejection the server message becomes the otp
// field error and the typed code is kept as-is.
func (f *Flow) SubmitOTP(ctx context.Context, s *model.LoginSession, code string) (*Outcome, error) {
	if s.Step != model.StepConfirmOtp {
		return nil, ErrStepMismatch
	}
	clearFields(s, FieldOTP, FieldForm)
	s.OtpCode = code

	digits := digitsOnly(code)
	if code == "" || len(digits) != otpLength {
		s.Errors[FieldOTP] = msgOTPFormat
		return nil, nil
	}

	dest, errMsg := f.destinationFor(s, s.Channel)
	if errMsg != "" {
		// Channel state was lost; force the user back a step.
		s.Errors[FieldForm] = msgChannelPick
		return nil, nil
	}

	identity, err := f.platform.ConfirmOTP(ctx, s.Channel, dest, digits)
	if err != nil {
		var rejected *upstream.RejectedError
		if errors.As(err, &rejected) {
			s.Errors[FieldOTP] = stepMessage(err, msgOTPInvalid)
		} else {
			s.Errors[FieldForm] = msgNetworkError
		}
		return nil, nil
	}

	rec := model.SessionRecord{
		UserID:    identity.UserID,
		Name:      identity.Name,
		Email:     identity.Email,
		Token:     identity.Token,
		CreatedAt: f.now(),
	}
	if err := f.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}

	redirect := identity.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirect
	}
	return &Outcome{Record: rec, RedirectURL: redirect}, nil
}

// ResendOTP re-dispatches the code to the already-chosen channel. It is a
// no-op while the cooldown is still running; on success the cooldown
// re-arms to the shorter resend window.
func (f *Flow) ResendOTP(ctx context.Context, s *model.LoginSession) error {
	if s.Step != model.StepConfirmOtp {
		return ErrStepMismatch
	}
	if s.ResendSeconds(f.now()) > 0 {
		return nil
	}
	clearFields(s, FieldOTP, FieldForm)

	dest, errMsg := f.destinationFor(s, s.Channel)
	if errMsg != "" {
		s.Errors[FieldForm] = msgChannelPick
		return nil
	}
	if err := f.platform.SendOTP(ctx, s.Channel, dest); err != nil {
		s.Errors[FieldForm] = stepMessage(err, "Could not resend the code. Please try again.")
		return nil
	}
	s.ResendAt = f.now().Add(f.resendCooldown)
	return nil
}

// Back rewinds one step. It clears errors, the typed code and the resend
// cooldown, but keeps resolved contacts so returning to the channel step
// still shows the masked destinations.
func (f *Flow) Back(s *model.LoginSession) error {
	switch s.Step {
	case model.StepIdentifierAndDob:
		f.transition(s, model.StepSelectMethod)
		s.Method = model.MethodUnset
	case model.StepChooseChannel:
		f.transition(s, model.StepIdentifierAndDob)
	case model.StepConfirmOtp:
		f.transition(s, model.StepChooseChannel)
		s.Channel = model.ChannelUnset
	default:
		return ErrStepMismatch
	}
	return nil
}

// AvailableChannels lists the routes that actually have a destination on
// file. The channel step must only offer these.
func AvailableChannels(s *model.LoginSession) []model.Channel {
	var out []model.Channel
	if s.ResolvedMobile != "" {
		out = append(out, model.ChannelMobile)
	}
	if s.ResolvedEmail != "" {
		out = append(out, model.ChannelEmail)
	}
	return out
}

// transition moves the session to the given step, clearing errors wholesale
// and everything scoped to the OTP step (typed code, countdown).
func (f *Flow) transition(s *model.LoginSession, to model.Step) {
	s.Step = to
	s.Errors = map[string]string{}
	s.OtpCode = ""
	s.ResendAt = time.Time{}
}

func (f *Flow) destinationFor(s *model.LoginSession, channel model.Channel) (string, string) {
	switch channel {
	case model.ChannelMobile:
		if s.ResolvedMobile == "" {
			return "", "No mobile number is on file for this account."
		}
		return s.ResolvedMobile, ""
	case model.ChannelEmail:
		if s.ResolvedEmail == "" {
			return "", "No email address is on file for this account."
		}
		return s.ResolvedEmail, ""
	default:
		return "", msgChannelPick
	}
}

// stepMessage picks the server-provided text of a remote rejection, the
// given fallback when the server sent none, and the generic network notice
// for transport failures.
func stepMessage(err error, fallback string) string {
	var rejected *upstream.RejectedError
	if errors.As(err, &rejected) {
		if rejected.Message != "" {
			return rejected.Message
		}
		return fallback
	}
	return msgNetworkError
}

func clearFields(s *model.LoginSession, fields ...string) {
	if s.Errors == nil {
		s.Errors = map[string]string{}
	}
	for _, f := range fields {
		delete(s.Errors, f)
	}
}
