package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrPermanent marks a delivery that would fail the same way on every retry,
// such as a phone number with no digits.
var ErrPermanent = errors.New("permanent delivery failure")

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, toName, subject, htmlBody string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// RunFunc wraps the send on one channel. The notify worker uses it to claim
// each channel separately so a retry never repeats a channel that already
// went out.
type RunFunc func(ctx context.Context, ch Channel, send func(ctx context.Context) error) error

// Result is the outcome on one channel. Err is nil on success.
type Result struct {
	Channel Channel
	Err     error
}

// Dispatcher renders an event and sends it on every channel the patient has
// contact data for. Channels are independent: one failing does not stop the other.
type Dispatcher struct {
	email   EmailSender
	sms     SMSSender
	appName string
	logger  zerolog.Logger
}

func NewDispatcher(email EmailSender, sms SMSSender, appName string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		email:   email,
		sms:     sms,
		appName: appName,
		logger:  logger,
	}
}

// Deliver sends ev on every channel and joins the channel errors.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	results, err := d.Dispatch(ctx, ev, nil)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, r.Err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("deliver %s: %w", ev.Type, err)
	}
	return nil
}

// Dispatch sends ev on each channel through run (nil runs the send directly)
// and reports every channel separately. The returned error is only set when
// the event cannot be rendered; it wraps ErrPermanent.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, run RunFunc) ([]Result, error) {
	msg, err := Render(ev, d.appName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	if run == nil {
		run = func(ctx context.Context, _ Channel, send func(context.Context) error) error {
			return send(ctx)
		}
	}

	var sends []Channel
	if d.email != nil && ev.PatientEmail != "" {
		sends = append(sends, ChannelEmail)
	}
	if d.sms != nil && ev.PatientPhone != "" {
		sends = append(sends, ChannelSMS)
	}

	results := make([]Result, len(sends))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range sends {
		i, ch := i, ch
		results[i].Channel = ch
		g.Go(func() error {
			results[i].Err = run(gctx, ch, func(ctx context.Context) error {
				if ch == ChannelEmail {
					return d.email.SendEmail(ctx, ev.PatientEmail, ev.PatientName, msg.Subject, msg.EmailHTML)
				}
				return d.sms.SendSMS(ctx, ev.PatientPhone, msg.SMS)
			})
			return nil
		})
	}
	_ = g.Wait()

	log := d.logger.With().
		Str("event", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Logger()
	for _, r := range results {
		if r.Err != nil {
			log.Error().Err(r.Err).
				Str("channel", string(r.Channel)).
				Bool("permanent", errors.Is(r.Err, ErrPermanent)).
				Msg("delivery failed")
		}
	}
	return results, nil
}
