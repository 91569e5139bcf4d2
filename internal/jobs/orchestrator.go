// Package jobs serializes background work per subject: at most one score
// recalculation and at most one pending ledger write may be in flight for a
// given subject at any time, which keeps on-ledger writes free of duplicates
// and reorderings.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trustledger/internal/mirror/store"
	"trustledger/internal/scoremodel"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
)

// LedgerWriter commits a recalculated score back to the ledger. The caller
// wires it to the registry and badge services under the orchestrator's own
// verifier identity.
type LedgerWriter interface {
	WriteScore(ctx context.Context, subject id.Address, score uint8, evidencePointer string) error
}

// FailedWrite is a ledger write that exhausted its attempts. It stays
// visible until an operator intervenes and re-enqueues.
type FailedWrite struct {
	Subject         id.Address `json:"subject"`
	Score           uint8      `json:"score"`
	EvidencePointer string     `json:"evidencePointer"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"lastError"`
	FailedAt        time.Time  `json:"failedAt"`
}

type Orchestrator struct {
	model  scoremodel.Client
	mirror store.Store
	writer LedgerWriter

	logger  *slog.Logger
	metrics *Metrics

	deltaThreshold uint8
	maxAttempts    int
	backoffBase    time.Duration
	modelTimeout   time.Duration

	mu             sync.Mutex
	recalcInflight map[id.Address]struct{}
	writeInflight  map[id.Address]struct{}
	failed         map[id.Address]FailedWrite

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithDeltaThreshold(delta uint8) Option {
	return func(o *Orchestrator) { o.deltaThreshold = delta }
}

func WithMaxWriteAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

func WithBackoffBase(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoffBase = d }
}

func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.modelTimeout = d }
}

func New(model scoremodel.Client, mirror store.Store, writer LedgerWriter, opts ...Option) (*Orchestrator, error) {
	if model == nil || mirror == nil || writer == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "score model, mirror store and ledger writer are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		model:          model,
		mirror:         mirror,
		writer:         writer,
		logger:         slog.Default(),
		deltaThreshold: 5,
		maxAttempts:    5,
		backoffBase:    500 * time.Millisecond,
		modelTimeout:   30 * time.Second,
		recalcInflight: make(map[id.Address]struct{}),
		writeInflight:  make(map[id.Address]struct{}),
		failed:         make(map[id.Address]FailedWrite),
		baseCtx:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close stops accepting work and waits for in-flight jobs to finish.
// Pending ledger writes drain their full retry budget before Close returns.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) closed() bool {
	return o.baseCtx.Err() != nil
}

// EnqueueRecalculation kicks off a score recalculation for the subject.
// Returns false without doing anything when one is already queued or
// running. The job asks the score model for a fresh score and, when the
// delta against the mirror exceeds the threshold, enqueues a ledger write.
func (o *Orchestrator) EnqueueRecalculation(subject id.Address) bool {
	if o.closed() {
		return false
	}
	if !o.acquire(o.recalcInflight, subject) {
		if o.metrics != nil {
			o.metrics.SingleFlightSkips.Inc()
		}
		return false
	}
	if o.metrics != nil {
		o.metrics.RecalculationsStarted.Inc()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(o.recalcInflight, subject)
		o.recalculate(o.baseCtx, subject)
	}()
	return true
}

func (o *Orchestrator) recalculate(ctx context.Context, subject id.Address) {
	record, err := o.mirror.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			o.logger.DebugContext(ctx, "recalculation skipped, subject not mirrored", "subject", subject)
			return
		}
		o.logger.ErrorContext(ctx, "recalculation aborted, mirror read failed", "subject", subject, "error", err)
		return
	}

	req := scoremodel.Request{
		Subject:      subject,
		Identifier:   record.Identifier,
		CurrentScore: record.TrustScore,
	}
	for _, account := range record.Accounts {
		req.Accounts = append(req.Accounts, scoremodel.AccountInput{
			Provider: account.Provider,
			Username: account.ExternalUsername,
		})
	}

	modelCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	result, err := o.model.Score(modelCtx, req)
	cancel()
	if err != nil {
		o.logger.ErrorContext(ctx, "score model call failed", "subject", subject, "error", err)
		return
	}

	if delta(result.Score, record.TrustScore) < o.deltaThreshold {
		o.logger.DebugContext(ctx, "recalculated score within threshold, no write",
			"subject", subject, "current", record.TrustScore, "computed", result.Score)
		return
	}
	// Dispatched directly so a recalculation that finishes during shutdown
	// still hands its write over; Close waits for the chained write too.
	o.enqueueWrite(subject, result.Score, result.EvidencePointer)
}

// EnqueueLedgerWrite dispatches a ledger write for the subject unless one
// is already pending. Acquisition is non-blocking: a second call while the
// first is in flight is a no-op and returns false.
func (o *Orchestrator) EnqueueLedgerWrite(subject id.Address, score uint8, evidencePointer string) bool {
	if o.closed() {
		return false
	}
	return o.enqueueWrite(subject, score, evidencePointer)
}

func (o *Orchestrator) enqueueWrite(subject id.Address, score uint8, evidencePointer string) bool {
	if !o.acquire(o.writeInflight, subject) {
		if o.metrics != nil {
			o.metrics.SingleFlightSkips.Inc()
		}
		o.logger.DebugContext(o.baseCtx, "ledger write already pending", "subject", subject)
		return false
	}
	if o.metrics != nil {
		o.metrics.WritesDispatched.Inc()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(o.writeInflight, subject)
		// A write already in flight drains its full attempt budget even
		// when Close is called mid-retry; Close waits on the WaitGroup.
		o.writeWithRetry(context.WithoutCancel(o.baseCtx), subject, score, evidencePointer)
	}()
	return true
}

func (o *Orchestrator) writeWithRetry(ctx context.Context, subject id.Address, score uint8, evidencePointer string) {
	var lastErr error
	attempts := 0
	backoff := o.backoffBase
	for attempts < o.maxAttempts {
		attempts++
		err := o.writer.WriteScore(ctx, subject, score, evidencePointer)
		if err == nil {
			o.clearFailed(subject)
			o.logger.InfoContext(ctx, "ledger write committed",
				"subject", subject, "score", score, "attempts", attempts)
			return
		}
		lastErr = err

		// Authorization and validation rejections will not improve with
		// retries; only transient infrastructure failures are retried.
		if !dErrors.Retryable(err) {
			break
		}
		if o.metrics != nil {
			o.metrics.WriteRetries.Inc()
		}
		o.logger.WarnContext(ctx, "ledger write failed, backing off",
			"subject", subject, "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempts = o.maxAttempts
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	o.recordFailed(FailedWrite{
		Subject:         subject,
		Score:           score,
		EvidencePointer: evidencePointer,
		Attempts:        attempts,
		LastError:       lastErr.Error(),
		FailedAt:        time.Now(),
	})
	if o.metrics != nil {
		o.metrics.TerminalFailures.Inc()
	}
	o.logger.ErrorContext(ctx, "ledger write failed terminally",
		"subject", subject, "score", score, "attempts", attempts, "error", lastErr)
}

// FailedWrites lists terminally failed ledger writes for operator review.
func (o *Orchestrator) FailedWrites() []FailedWrite {
	o.mu.Lock()
	defer o.mu.Unlock()
	failures := make([]FailedWrite, 0, len(o.failed))
	for _, f := range o.failed {
		failures = append(failures, f)
	}
	return failures
}

func (o *Orchestrator) acquire(inflight map[id.Address]struct{}, subject id.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, held := inflight[subject]; held {
		return false
	}
	inflight[subject] = struct{}{}
	return true
}

func (o *Orchestrator) release(inflight map[id.Address]struct{}, subject id.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(inflight, subject)
}

func (o *Orchestrator) recordFailed(f FailedWrite) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[f.Subject] = f
}

func (o *Orchestrator) clearFailed(subject id.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.failed, subject)
}

func delta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
