package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/repository"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/logger"
)

// registrationStore is the transaction primitive the enrollment workflows run on.
type registrationStore interface {
	RunInTx(ctx context.Context, fn func(repository.RegistrationTx) error) error
}

// registrationMetrics receives per-operation outcomes. A nil value disables recording.
type registrationMetrics interface {
	RecordEnrollmentOutcome(operation, outcome string)
	ObserveTxAttempts(operation string, attempts int)
	RecordCounterDrift(sessionID string, delta int)
}

// TxPolicy bounds how a unit of work is retried after serialization conflicts.
type TxPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultTxPolicy retries five times starting at 20ms.
func DefaultTxPolicy() TxPolicy {
	return TxPolicy{MaxAttempts: 5, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 500 * time.Millisecond, Timeout: 10 * time.Second}
}

func (p TxPolicy) normalised() TxPolicy {
	def := DefaultTxPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

type txRunner struct {
	store   registrationStore
	policy  TxPolicy
	metrics registrationMetrics
	logger  *zap.Logger
}

func newTxRunner(store registrationStore, policy TxPolicy, metrics registrationMetrics, logger *zap.Logger) *txRunner {
	return &txRunner{store: store, policy: policy.normalised(), metrics: metrics, logger: logger}
}

// run executes fn as one atomic unit. Only repository.ErrTxConflict is
// retried; everything else stops immediately. The returned error is always an
// *appErrors.Error.
func (r *txRunner) run(ctx context.Context, operation string, fn func(repository.RegistrationTx) error) error {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialBackoff
	b.MaxInterval = r.policy.MaxBackoff

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := r.store.RunInTx(ctx, fn)
		if err == nil || errors.Is(err, repository.ErrTxConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("transaction conflict, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next))
		}),
	)

	if r.metrics != nil {
		r.metrics.ObserveTxAttempts(operation, attempts)
	}
	err = attachContextErr(ctx, err)
	if err != nil && errors.Is(err, repository.ErrTxConflict) {
		logger.FromContext(ctx, r.logger).Warn("transaction retry budget exhausted",
			zap.String("operation", operation),
			zap.Int("attempts", attempts))
	}
	return translateTxError(err, operation)
}

// attachContextErr ties a store failure to the deadline or cancellation that
// caused it. Drivers report an interrupted transaction as their own error
// (sql.ErrTxDone, a cancelled statement) without wrapping ctx.Err().
func attachContextErr(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if err == nil || ctxErr == nil || errors.Is(err, ctxErr) {
		return err
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}

// translateTxError maps store failures onto the caller-visible taxonomy.
func translateTxError(err error, operation string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrTxConflict):
		return appErrors.Wrap(err, appErrors.ErrResourceExhausted.Code, appErrors.ErrResourceExhausted.Status, operation+": "+appErrors.ErrResourceExhausted.Message)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, driver.ErrBadConn):
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, operation+": "+appErrors.ErrUnavailable.Message)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, operation+" failed")
}

// outcomeLabel turns an operation result into a metrics label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(appErrors.FromError(err).Code)
}
