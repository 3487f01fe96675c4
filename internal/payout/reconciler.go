package payout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/provider"
)

// ReconcilerConfig tunes the payout poller.
type ReconcilerConfig struct {
	// Interval between polls when the provider is healthy.
	Interval time.Duration
	// AbandonAfter is how long a pending payout the provider has never seen is kept
	// before it is refunded.
	AbandonAfter time.Duration
	// BatchSize bounds the withdrawals checked per poll.
	BatchSize int
	// MaxBackoff caps the poll interval while the provider is failing.
	MaxBackoff time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 30 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = 8 * c.Interval
	}
	return c
}

// Reconciler polls the provider for withdrawals that are not final yet and drives
// them to completed, failed or reversed.
type Reconciler struct {
	svc    *Service
	cfg    ReconcilerConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler builds a poller on top of the withdrawal service.
func NewReconciler(svc *Service, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		svc:    svc,
		cfg:    cfg.withDefaults(),
		logger: svc.logger.With(slog.String("component", "payout_reconciler")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the poll loop until Stop is called or ctx ends.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop halts the poll loop and waits for the current poll to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	wait := r.cfg.Interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, err := r.RunOnce(ctx)
		switch {
		case err == nil:
			wait = r.cfg.Interval
		case errors.Is(err, provider.ErrExternalService):
			// provider outage: back off so polling does not add to the load
			wait *= 2
			if wait > r.cfg.MaxBackoff {
				wait = r.cfg.MaxBackoff
			}
			r.logger.Warn("provider unavailable, backing off", slog.Duration("next_poll", wait))
		default:
			wait = r.cfg.Interval
		}
		timer.Reset(wait)
	}
}

// RunOnce checks one batch of pending and processing withdrawals, oldest first. It
// returns how many were finalized and the last provider error seen, if any.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	txs, err := r.svc.store.ListTransactionsByStatus(ctx, ledger.KindWithdrawal,
		[]ledger.Status{ledger.StatusPending, ledger.StatusProcessing}, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.svc.metrics.ReconcileRun("error")
		return 0, err
	}

	var (
		finalized int
		lastErr   error
	)
	for _, tx := range txs {
		if ctx.Err() != nil {
			break
		}
		next, err := r.reconcile(ctx, tx)
		if err != nil {
			lastErr = err
			r.logger.Warn("reconcile withdrawal", slog.String("reference", tx.ExternalRef), slog.Any("error", err))
			continue
		}
		if next.Status.Terminal() {
			finalized++
		}
	}

	switch {
	case lastErr != nil:
		r.svc.metrics.ReconcileRun("partial")
	default:
		r.svc.metrics.ReconcileRun("ok")
	}
	if len(txs) > 0 {
		r.logger.Info("payout reconcile run", slog.Int("checked", len(txs)), slog.Int("finalized", finalized))
	}
	return finalized, lastErr
}

// ReconcileReference polls a single withdrawal right away.
func (r *Reconciler) ReconcileReference(ctx context.Context, reference string) error {
	tx, err := r.svc.store.GetTransactionByExternalRef(ctx, reference)
	if err != nil {
		return err
	}
	if tx.Kind != ledger.KindWithdrawal || tx.Status.Terminal() {
		return nil
	}
	_, err = r.reconcile(ctx, tx)
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	transfer, err := r.svc.provider.FetchTransfer(ctx, tx.ExternalRef)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		if tx.Status != ledger.StatusPending || r.now().Sub(tx.CreatedAt) < r.cfg.AbandonAfter {
			return tx, nil
		}
		// the payout request never reached the provider
		next, err := r.svc.compensate(ctx, tx, "provider_not_found")
		if err == nil {
			r.svc.metrics.PayoutReconciled(string(next.Status))
		}
		return next, err
	case err != nil:
		return tx, err
	}

	next, err := r.svc.apply(ctx, tx, transfer)
	if err == nil && next.Status != tx.Status {
		r.svc.metrics.PayoutReconciled(string(next.Status))
	}
	return next, err
}
