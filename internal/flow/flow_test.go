package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/session"
	"github.com/vanakhel/server/internal/upstream"
)

// fakePlatform scripts upstream responses and records calls.
type fakePlatform struct {
	contacts   upstream.Contacts
	verifyErr  error
	sendErr    error
	identity   upstream.Identity
	confirmErr error

	verifyCalls  int
	sendCalls    int
	confirmCalls int
	lastOTP      string
	lastValue    string
}

func (p *fakePlatform) VerifyIdentifier(_ context.Context, _ model.Method, _, _ string) (upstream.Contacts, error) {
	p.verifyCalls++
	if p.verifyErr != nil {
		return upstream.Contacts{}, p.verifyErr
	}
	return p.contacts, nil
}

func (p *fakePlatform) SendOTP(_ context.Context, _ model.Channel, value string) error {
	p.sendCalls++
	p.lastValue = value
	return p.sendErr
}

func (p *fakePlatform) ConfirmOTP(_ context.Context, _ model.Channel, value, otp string) (upstream.Identity, error) {
	p.confirmCalls++
	p.lastValue = value
	p.lastOTP = otp
	if p.confirmErr != nil {
		return upstream.Identity{}, p.confirmErr
	}
	return p.identity, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestFlow(p *fakePlatform) (*Flow, *session.MemoryRepo, *testClock) {
	clock := &testClock{now: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	repo := session.NewMemoryRepo()
	f := New(p, repo, WithClock(clock.Now))
	return f, repo, clock
}

func newSession(clock *testClock) *model.LoginSession {
	return model.NewLoginSession(uuid.New(), clock.Now())
}

// reach drives a session to the OTP step against the given platform.
func reach(t *testing.T, f *Flow, p *fakePlatform, s *model.LoginSession, target model.Step) {
	t.Helper()
	ctx := context.Background()

	if s.Step == model.StepSelectMethod && target != model.StepSelectMethod {
		if err := f.SelectMethod(s, model.MethodEmailOrPhone); err != nil {
			t.Fatalf("SelectMethod: %v", err)
		}
	}
	if s.Step == model.StepIdentifierAndDob && target != model.StepIdentifierAndDob {
		err := f.SubmitIdentifierAndDob(ctx, s, "student@example.com", model.DateOfBirth{Day: 1, Month: 1, Year: 2005})
		if err != nil || s.Step != model.StepChooseChannel {
			t.Fatalf("SubmitIdentifierAndDob: err=%v step=%v errors=%v", err, s.Step, s.Errors)
		}
	}
	if s.Step == model.StepChooseChannel && target == model.StepConfirmOtp {
		if err := f.SubmitChannel(ctx, s, model.ChannelEmail); err != nil || s.Step != model.StepConfirmOtp {
			t.Fatalf("SubmitChannel: err=%v step=%v errors=%v", err, s.Step, s.Errors)
		}
	}
	if s.Step != target {
		t.Fatalf("could not reach step %v, at %v", target, s.Step)
	}
}

func defaultPlatform() *fakePlatform {
	return &fakePlatform{
		contacts: upstream.Contacts{Mobile: "+91******1234", Email: "student@example.com"},
		identity: upstream.Identity{
			UserID: "u-42",
			Name:   "Asha",
			Email:  "student@example.com",
			Token:  "platform-token",
		},
	}
}

func TestSelectMethod_advances(t *testing.T) {
	f, _, clock := newTestFlow(defaultPlatform())
	s := newSession(clock)

	if err := f.SelectMethod(s, model.MethodNationalID); err != nil {
		t.Fatalf("SelectMethod: %v", err)
	}
	if s.Step != model.StepIdentifierAndDob || s.Method != model.MethodNationalID {
		t.Errorf("got step=%v method=%v", s.Step, s.Method)
	}

	// Calling it again from the wrong step is a misuse, not a validation error.
	if err := f.SelectMethod(s, model.MethodEmailOrPhone); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("second SelectMethod: got %v, want ErrStepMismatch", err)
	}
}

func TestSubmitIdentifier_validationBlocksRemoteCall(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepIdentifierAndDob)

	err := f.SubmitIdentifierAndDob(context.Background(), s, "a@b", model.DateOfBirth{Day: 1, Month: 1, Year: 2030})
	if err != nil {
		t.Fatalf("SubmitIdentifierAndDob: %v", err)
	}
	if s.Step != model.StepIdentifierAndDob {
		t.Errorf("step advanced on invalid input: %v", s.Step)
	}
	if s.Errors[FieldIdentifier] == "" || s.Errors[FieldDOB] == "" {
		t.Errorf("expected identifier and dob errors, got %v", s.Errors)
	}
	if p.verifyCalls != 0 {
		t.Errorf("remote call made despite validation failure: %d", p.verifyCalls)
	}
}

func TestSubmitIdentifier_remoteRejectionKeepsStep(t *testing.T) {
	p := defaultPlatform()
	p.verifyErr = &upstream.RejectedError{Message: "No student found for these details."}
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepIdentifierAndDob)

	err := f.SubmitIdentifierAndDob(context.Background(), s, "student@example.com", model.DateOfBirth{Day: 1, Month: 1, Year: 2005})
	if err != nil {
		t.Fatalf("SubmitIdentifierAndDob: %v", err)
	}
	if s.Step != model.StepIdentifierAndDob {
		t.Errorf("step advanced on remote rejection: %v", s.Step)
	}
	if got := s.Errors[FieldForm]; got != "No student found for these details." {
		t.Errorf("form error = %q", got)
	}
}

func TestSubmitIdentifier_transportFailure(t *testing.T) {
	p := defaultPlatform()
	p.verifyErr = fmt.Errorf("%w: dial tcp: timeout", upstream.ErrUnavailable)
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepIdentifierAndDob)

	if err := f.SubmitIdentifierAndDob(context.Background(), s, "student@example.com", model.DateOfBirth{Day: 1, Month: 1, Year: 2005}); err != nil {
		t.Fatalf("SubmitIdentifierAndDob: %v", err)
	}
	if s.Step != model.StepIdentifierAndDob || s.Errors[FieldForm] != msgNetworkError {
		t.Errorf("step=%v errors=%v", s.Step, s.Errors)
	}
}

func TestSubmitChannel_rejectsMissingDestination(t *testing.T) {
	p := defaultPlatform()
	p.contacts.Email = "" // nothing on file
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepChooseChannel)

	if err := f.SubmitChannel(context.Background(), s, model.ChannelEmail); err != nil {
		t.Fatalf("SubmitChannel: %v", err)
	}
	if s.Step != model.StepChooseChannel || s.Errors[FieldChannel] == "" {
		t.Errorf("email channel without destination accepted: step=%v errors=%v", s.Step, s.Errors)
	}
	if p.sendCalls != 0 {
		t.Errorf("OTP dispatched despite missing destination")
	}

	if got := AvailableChannels(s); len(got) != 1 || got[0] != model.ChannelMobile {
		t.Errorf("AvailableChannels = %v, want [mobile]", got)
	}
}

func TestSubmitChannel_armsCooldown(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepChooseChannel)

	if err := f.SubmitChannel(context.Background(), s, model.ChannelMobile); err != nil {
		t.Fatalf("SubmitChannel: %v", err)
	}
	if s.Step != model.StepConfirmOtp {
		t.Fatalf("step = %v", s.Step)
	}
	if got := s.ResendSeconds(clock.Now()); got != 60 {
		t.Errorf("resend seconds after dispatch = %d, want 60", got)
	}
	if p.lastValue != "+91******1234" {
		t.Errorf("dispatched to %q", p.lastValue)
	}
}

func TestResendOTP_gating(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	sendsAfterDispatch := p.sendCalls

	// Cooldown running: resend must be a no-op.
	if err := f.ResendOTP(context.Background(), s); err != nil {
		t.Fatalf("ResendOTP: %v", err)
	}
	if p.sendCalls != sendsAfterDispatch {
		t.Errorf("resend dispatched while cooldown active")
	}

	clock.Advance(61 * time.Second)
	if err := f.ResendOTP(context.Background(), s); err != nil {
		t.Fatalf("ResendOTP: %v", err)
	}
	if p.sendCalls != sendsAfterDispatch+1 {
		t.Errorf("resend did not dispatch after cooldown expiry")
	}
	if got := s.ResendSeconds(clock.Now()); got != 30 {
		t.Errorf("resend re-arm = %ds, want 30", got)
	}
}

func TestResendOTP_dispatchFailureLeavesGateOpen(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	clock.Advance(61 * time.Second)
	p.sendErr = fmt.Errorf("%w: connection refused", upstream.ErrUnavailable)

	if err := f.ResendOTP(context.Background(), s); err != nil {
		t.Fatalf("ResendOTP: %v", err)
	}
	if got := s.ResendSeconds(clock.Now()); got != 0 {
		t.Errorf("cooldown re-armed after failed dispatch: %ds", got)
	}
	if s.Errors[FieldForm] == "" {
		t.Error("expected a form error after failed resend")
	}
}

func TestSubmitOTP_validatesFormat(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	for _, code := range []string{"", "12345", "1234567", "abc"} {
		outcome, err := f.SubmitOTP(context.Background(), s, code)
		if err != nil || outcome != nil {
			t.Fatalf("SubmitOTP(%q): outcome=%v err=%v", code, outcome, err)
		}
		if s.Errors[FieldOTP] == "" {
			t.Errorf("SubmitOTP(%q): expected otp field error", code)
		}
	}
	if p.confirmCalls != 0 {
		t.Errorf("remote confirm called for malformed codes")
	}

	// Non-digits are stripped before the length check.
	if _, err := f.SubmitOTP(context.Background(), s, "123 456"); err != nil {
		t.Fatal(err)
	}
	if p.lastOTP != "123456" {
		t.Errorf("confirm got otp %q, want digits only", p.lastOTP)
	}
}

func TestSubmitOTP_successPersistsSession(t *testing.T) {
	p := defaultPlatform()
	p.identity.RedirectURL = "/dashboard/welcome"
	f, repo, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	outcome, err := f.SubmitOTP(context.Background(), s, "123456")
	if err != nil {
		t.Fatalf("SubmitOTP: %v", err)
	}
	if outcome == nil {
		t.Fatalf("no outcome; errors=%v", s.Errors)
	}
	if outcome.RedirectURL != "/dashboard/welcome" {
		t.Errorf("redirect = %q", outcome.RedirectURL)
	}

	rec, err := repo.GetByUserID(context.Background(), "u-42")
	if err != nil {
		t.Fatalf("persisted record missing: %v", err)
	}
	if rec.Token != "platform-token" || rec.Email != "student@example.com" || rec.Name != "Asha" {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestSubmitOTP_defaultRedirect(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	outcome, err := f.SubmitOTP(context.Background(), s, "123456")
	if err != nil || outcome == nil {
		t.Fatalf("SubmitOTP: outcome=%v err=%v", outcome, err)
	}
	if outcome.RedirectURL != DefaultRedirect {
		t.Errorf("redirect = %q, want %q", outcome.RedirectURL, DefaultRedirect)
	}
}

func TestSubmitOTP_rejectionKeepsTypedCode(t *testing.T) {
	p := defaultPlatform()
	p.confirmErr = &upstream.RejectedError{Message: "Invalid or expired OTP."}
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	outcome, err := f.SubmitOTP(context.Background(), s, "999999")
	if err != nil || outcome != nil {
		t.Fatalf("SubmitOTP: outcome=%v err=%v", outcome, err)
	}
	if s.Step != model.StepConfirmOtp {
		t.Errorf("step = %v", s.Step)
	}
	if got := s.Errors[FieldOTP]; got != "Invalid or expired OTP." {
		t.Errorf("otp error = %q", got)
	}
	if s.OtpCode != "999999" {
		t.Errorf("typed code cleared: %q", s.OtpCode)
	}
}

func TestBack_fromConfirmOtpPreservesContacts(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)
	s.OtpCode = "123"
	s.Errors[FieldOTP] = "Invalid or expired OTP."

	if err := f.Back(s); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if s.Step != model.StepChooseChannel {
		t.Errorf("step = %v", s.Step)
	}
	if s.OtpCode != "" || len(s.Errors) != 0 || !s.ResendAt.IsZero() {
		t.Errorf("otp state not cleared: code=%q errors=%v resendAt=%v", s.OtpCode, s.Errors, s.ResendAt)
	}
	if s.ResolvedMobile == "" || s.ResolvedEmail == "" {
		t.Error("resolved contacts must survive Back")
	}
}

func TestBack_walksToStart(t *testing.T) {
	p := defaultPlatform()
	f, _, clock := newTestFlow(p)
	s := newSession(clock)
	reach(t, f, p, s, model.StepConfirmOtp)

	for _, want := range []model.Step{model.StepChooseChannel, model.StepIdentifierAndDob, model.StepSelectMethod} {
		if err := f.Back(s); err != nil {
			t.Fatalf("Back: %v", err)
		}
		if s.Step != want {
			t.Fatalf("step = %v, want %v", s.Step, want)
		}
	}
	if err := f.Back(s); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("Back from first step: got %v, want ErrStepMismatch", err)
	}
}

func TestResendSeconds_neverNegative(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	s := newSession(clock)
	s.ResendAt = clock.Now().Add(2 * time.Second)

	clock.Advance(10 * time.Second)
	if got := s.ResendSeconds(clock.Now()); got != 0 {
		t.Errorf("ResendSeconds after expiry = %d", got)
	}
}
