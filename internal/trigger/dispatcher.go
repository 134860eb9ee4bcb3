// Package trigger turns recorded report writes into trigger invocations.
//
// Every write to a report row is captured by a database trigger into the
// change log. The Dispatcher leases batches of changes, runs the token
// issuance and notification handlers for each, and settles them. Delivery is
// at least once: a change whose lease expires before it is settled is
// claimed again.
package trigger

import (
	"context"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
	"github.com/pesio-ai/be-shift-reviews/internal/service"
)

// ChangeSource leases and settles recorded changes.
type ChangeSource interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]*repository.Change, error)
	MarkProcessed(ctx context.Context, id int64, lastError string) error
	Release(ctx context.Context, id int64, lastError string) error
}

// TokenTrigger issues reviewer tokens for a change.
type TokenTrigger interface {
	HandleChange(ctx context.Context, change *repository.Change) error
}

// NotificationTrigger publishes notifications for a change.
type NotificationTrigger interface {
	HandleChange(ctx context.Context, change *repository.Change, ids *service.IdentityResolver) error
}

// Listener blocks until a change may be available or timeout passes.
type Listener interface {
	Wait(ctx context.Context, timeout time.Duration) error
	Close()
}

// Config controls batching and retries.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	MaxAttempts  int
}

// Dispatcher drains the change log.
type Dispatcher struct {
	changes       ChangeSource
	tokens        TokenTrigger
	notifications NotificationTrigger
	resolvers     func() *service.IdentityResolver
	listener      Listener
	cfg           Config
	log           *logger.Logger
}

// NewDispatcher creates a Dispatcher. resolvers is called once per batch so
// identity lookups are cached for that batch only.
func NewDispatcher(
	changes ChangeSource,
	tokens TokenTrigger,
	notifications NotificationTrigger,
	resolvers func() *service.IdentityResolver,
	cfg Config,
	log *logger.Logger,
) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Dispatcher{
		changes:       changes,
		tokens:        tokens,
		notifications: notifications,
		resolvers:     resolvers,
		cfg:           cfg,
		log:           log,
	}
}

// WithListener makes Run wake on notifications instead of only polling.
func (d *Dispatcher) WithListener(l Listener) *Dispatcher {
	d.listener = l
	return d
}

// Run processes changes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Bool("listen", d.listener != nil).
		Msg("Change dispatcher started")
	defer func() {
		if d.listener != nil {
			d.listener.Close()
		}
	}()

	for {
		n, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("Failed to claim report changes")
		}
		if ctx.Err() != nil {
			d.log.Info().Msg("Change dispatcher stopped")
			return nil
		}
		if err == nil && n == d.cfg.BatchSize {
			continue
		}
		d.wait(ctx)
	}
}

func (d *Dispatcher) wait(ctx context.Context) {
	if d.listener != nil {
		err := d.listener.Wait(ctx, d.cfg.PollInterval)
		if err == nil || ctx.Err() != nil {
			return
		}
		d.log.Warn().Err(err).Msg("Change listener failed, falling back to polling")
	}
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RunOnce claims and processes one batch. It returns the number of changes
// claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	changes, err := d.changes.Claim(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	ids := d.resolvers()
	for _, change := range changes {
		d.process(ctx, change, ids)
	}
	return len(changes), nil
}

// process runs both handlers for one change. A token issuance failure puts
// the change back for another attempt before any notification is sent;
// notification failures are only logged.
func (d *Dispatcher) process(ctx context.Context, change *repository.Change, ids *service.IdentityResolver) {
	log := d.log.With().
		Int64("change_id", change.ID).
		Str("report_id", change.ReportID).
		Str("cause", string(change.Cause)).
		Int("attempt", change.Attempts).
		Logger()

	tokenErr := d.tokens.HandleChange(ctx, change)
	if tokenErr != nil && change.Attempts < d.cfg.MaxAttempts {
		log.Warn().Err(tokenErr).Msg("Token issuance failed, releasing change for retry")
		if err := d.changes.Release(ctx, change.ID, tokenErr.Error()); err != nil {
			log.Error().Err(err).Msg("Failed to release change")
		}
		return
	}

	if err := d.notifications.HandleChange(ctx, change, ids); err != nil {
		log.Warn().Err(err).Msg("Notification fan-out failed")
	}

	lastError := ""
	if tokenErr != nil {
		lastError = tokenErr.Error()
		log.Error().Err(tokenErr).Msg("Token issuance failed, giving up")
	}
	if err := d.changes.MarkProcessed(ctx, change.ID, lastError); err != nil {
		log.Error().Err(err).Msg("Failed to mark change processed")
		return
	}
	log.Debug().Msg("Processed report change")
}
