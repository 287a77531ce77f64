package upstream

import (
	"context"
	"errors"

	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/observability/metrics"
)

// Instrumented wraps a Client and counts every platform call by outcome.
type Instrumented struct {
	*Client
}

// NewInstrumented wraps the client with prometheus counters.
func NewInstrumented(c *Client) *Instrumented {
	return &Instrumented{Client: c}
}

func (i *Instrumented) VerifyIdentifier(ctx context.Context, method model.Method, identifier, dob string) (Contacts, error) {
	contacts, err := i.Client.VerifyIdentifier(ctx, method, identifier, dob)
	metrics.UpstreamRequestsTotal.WithLabelValues("verify_identifier", outcome(err)).Inc()
	return contacts, err
}

func (i *Instrumented) SendOTP(ctx context.Context, channel model.Channel, value string) error {
	err := i.Client.SendOTP(ctx, channel, value)
	metrics.UpstreamRequestsTotal.WithLabelValues("send_otp", outcome(err)).Inc()
	return err
}

func (i *Instrumented) ConfirmOTP(ctx context.Context, channel model.Channel, value, otp string) (Identity, error) {
	identity, err := i.Client.ConfirmOTP(ctx, channel, value, otp)
	metrics.UpstreamRequestsTotal.WithLabelValues("confirm_otp", outcome(err)).Inc()
	return identity, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, new(*RejectedError)):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
