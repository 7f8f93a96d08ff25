package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/teleconsult-booking/internal/notify"
	redisclient "github.com/hackgods/teleconsult-booking/internal/redis"
)

type eventStream interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]redisclient.Delivery, error)
	ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]redisclient.Delivery, error)
	Ack(ctx context.Context, ids ...string) error
}

type onceGuard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event, run notify.RunFunc) ([]notify.Result, error)
}

// worker drains the appointment event stream. Each channel of an entry is
// claimed on its own, so a redelivered entry only retries the channels that
// have not gone out yet. An entry is acknowledged once no channel is left
// that a retry could fix; transient failures stay pending and are reclaimed
// later.
type worker struct {
	stream     eventStream
	guard      onceGuard
	dispatcher dispatcher
	block      time.Duration
	log        zerolog.Logger
}

func (w *worker) run(ctx context.Context) {
	lastClaim := time.Time{}
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= claimInterval {
			lastClaim = time.Now()
			stale, err := w.stream.ClaimStale(ctx, claimMinIdle, batchSize)
			if err != nil {
				w.log.Error().Err(err).Msg("claim stale entries failed")
			} else if len(stale) > 0 {
				w.log.Info().Int("count", len(stale)).Msg("reclaimed stale entries")
				w.handle(ctx, stale)
			}
		}

		deliveries, err := w.stream.Read(ctx, batchSize, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("stream read failed")
			sleep(ctx, time.Second)
			continue
		}
		w.handle(ctx, deliveries)
	}
}

// handle processes one batch and returns the IDs it acknowledged.
func (w *worker) handle(ctx context.Context, deliveries []redisclient.Delivery) []string {
	var acked []string
	for _, d := range deliveries {
		log := w.log.With().Str("entry", d.ID).Logger()

		if d.Err != nil {
			log.Error().Err(d.Err).Msg("dropping undecodable entry")
			acked = append(acked, d.ID)
			continue
		}

		ev := d.Event
		results, err := w.dispatcher.Dispatch(ctx, ev, w.claimChannel(d.ID))
		if err != nil {
			log.Error().Err(err).Msg("dropping entry that cannot be rendered")
			acked = append(acked, d.ID)
			continue
		}

		if retry := pendingChannels(results); len(retry) > 0 {
			log.Warn().Strs("channels", retry).Msg("delivery incomplete, leaving entry pending")
			continue
		}
		log.Info().
			Str("event", string(ev.Type)).
			Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification processed")
		acked = append(acked, d.ID)
	}

	if err := w.stream.Ack(ctx, acked...); err != nil {
		w.log.Error().Err(err).Msg("ack failed")
	}
	return acked
}

// claimChannel runs each send at most once per stream entry and channel.
func (w *worker) claimChannel(entryID string) notify.RunFunc {
	return func(ctx context.Context, ch notify.Channel, send func(context.Context) error) error {
		err := w.guard.Do(ctx, entryID+":"+string(ch), send)
		if errors.Is(err, redisclient.ErrAlreadyDelivered) {
			return nil
		}
		return err
	}
}

// pendingChannels lists the channels whose failure a retry could fix.
func pendingChannels(results []notify.Result) []string {
	var out []string
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, notify.ErrPermanent) {
			out = append(out, string(r.Channel))
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
