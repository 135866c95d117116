package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/opportunity"
	"vulture/internal/metrics"
	"vulture/internal/services/profit"
	"vulture/internal/services/risk"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// Selector chooses and validates execution strategies
type Selector interface {
	SelectMode(ctx context.Context, opp *opportunity.Opportunity) (opportunity.Mode, error)
	Validate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) error
}

// GasEstimator derives the fee envelope for an attempt
type GasEstimator interface {
	EstimateGas(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (profit.GasEstimate, error)
}

// OpportunitySource supplies the ranked opportunity snapshot
type OpportunitySource interface {
	Liquidatable() []*opportunity.Opportunity
}

// RiskGate guards execution with operator-level limits
type RiskGate interface {
	Validate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (risk.Decision, error)
	EmergencyStopActive(ctx context.Context) bool
	RecordOutcome(ctx context.Context, res *chain.Result)
}

// Notifier receives operator notifications. Optional.
type Notifier interface {
	NotifySuccess(ctx context.Context, opp *opportunity.Opportunity, res *chain.Result)
	NotifyAbandoned(ctx context.Context, key opportunity.Key, lastErr error)
}

// Locker serializes execution across bot processes sharing a wallet.
// Optional; without it only the in-process in-flight guard applies.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const (
	// executionLockKey guards the operator wallet: two instances
	// submitting concurrently would race on the wallet nonce
	executionLockKey = "executor:wallet"

	// executionLockTTL must outlive a stuck attempt so a crashed holder
	// cannot wedge the fleet
	executionLockTTL = 2 * time.Minute
)

// State is the scheduler's global lifecycle state
type State string

const (
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateShuttingDown State = "shutting_down"
)

// Config tunes the execution loop
type Config struct {
	TickInterval    time.Duration
	SuccessCooldown time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MaxRetries      int
}

// Stats is a point-in-time snapshot of scheduler counters
type Stats struct {
	Attempts           uint64
	Successes          uint64
	Failures           uint64
	Abandoned          uint64
	SkippedEmergency   uint64
	SkippedCooldown    uint64
	SkippedBackoff     uint64
	SkippedLocked      uint64
	DroppedTicks       uint64
	RetriesInFlight    int
	CooldownsInFlight  int
	AvgLatency         time.Duration
	RealizedProfitUSD  decimal.Decimal
	EstimatedProfitUSD decimal.Decimal
}

type retryState struct {
	count        int
	nextEligible time.Time
	lastErr      error
}

// Scheduler drives the liquidation loop: one tick at a time, one attempt
// per tick, never two in flight. This is the invariant that keeps a
// single operator wallet free of nonce races.
type Scheduler struct {
	cfg       Config
	source    OpportunitySource
	selector  Selector
	gas       GasEstimator
	gate      RiskGate
	executors map[opportunity.Mode]chain.Executor
	disposer  chain.Disposer
	notifier  Notifier
	locker    Locker
	log       *logger.Logger

	inFlight atomic.Bool

	mu           sync.Mutex
	state        State
	retries      map[opportunity.Key]*retryState
	cooldowns    map[opportunity.Key]time.Time
	abandoned    map[opportunity.Key]struct{}
	stats        Stats
	totalLatency time.Duration

	cancel context.CancelFunc
	loopWG sync.WaitGroup

	now func() time.Time
}

// Deps bundles the scheduler's collaborators
type Deps struct {
	Source    OpportunitySource
	Selector  Selector
	Gas       GasEstimator
	Gate      RiskGate
	Executors map[opportunity.Mode]chain.Executor
	Disposer  chain.Disposer
	Notifier  Notifier
	Locker    Locker
}

// NewScheduler creates an execution scheduler in the Stopped state
func NewScheduler(cfg Config, deps Deps, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		source:    deps.Source,
		selector:  deps.Selector,
		gas:       deps.Gas,
		gate:      deps.Gate,
		executors: deps.Executors,
		disposer:  deps.Disposer,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		log:       log.With("component", "execution_scheduler"),
		state:     StateStopped,
		retries:   make(map[opportunity.Key]*retryState),
		cooldowns: make(map[opportunity.Key]time.Time),
		abandoned: make(map[opportunity.Key]struct{}),
		stats:     Stats{RealizedProfitUSD: decimal.Zero, EstimatedProfitUSD: decimal.Zero},
		now:       time.Now,
	}
}

// Start moves the scheduler to Running and begins ticking
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "start from state %s", s.state)
	}
	s.state = StateRunning
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.loopWG.Add(1)
	go s.loop(loopCtx)

	s.log.Infow("Scheduler started", "tick_interval", s.cfg.TickInterval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Pause suspends ticking but preserves retry/cooldown state
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return errors.Wrapf(errors.ErrSchedulerStopped, "pause from state %s", s.state)
	}
	s.state = StatePaused
	s.log.Info("Scheduler paused")
	return nil
}

// Resume continues ticking after a pause
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return errors.Wrapf(errors.ErrSchedulerStopped, "resume from state %s", s.state)
	}
	s.state = StateRunning
	s.log.Info("Scheduler resumed")
	return nil
}

// Stop halts the loop and clears transient state. A fresh process start
// should not resume semantically stale backoffs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()

	s.mu.Lock()
	s.clearTransientLocked()
	s.state = StateStopped
	s.mu.Unlock()

	s.log.Info("Scheduler stopped")
}

// Shutdown waits for any in-flight tick to finish, then clears state
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()

	// The loop goroutine is gone, but a manually driven tick may still
	// be running; poll it out.
	for s.inFlight.Load() {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "shutdown wait")
		case <-time.After(50 * time.Millisecond):
		}
	}

	s.mu.Lock()
	s.clearTransientLocked()
	s.state = StateStopped
	s.mu.Unlock()

	s.log.Info("Scheduler shut down")
	return nil
}

func (s *Scheduler) clearTransientLocked() {
	s.retries = make(map[opportunity.Key]*retryState)
	s.cooldowns = make(map[opportunity.Key]time.Time)
	s.abandoned = make(map[opportunity.Key]struct{})
	metrics.RetriesInFlight.Set(0)
	metrics.CooldownsInFlight.Set(0)
}

// State returns the current lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick runs one scheduling pass. Re-entrant fires are dropped, never
// queued: an excess fire while an attempt is outstanding is a no-op.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.DroppedTicks++
		s.mu.Unlock()
		metrics.TickSkips.WithLabelValues("in_flight").Inc()
		s.log.Debug("Tick dropped, previous tick still executing")
		return
	}
	defer s.inFlight.Store(false)

	// A panic anywhere in the pipeline must not kill the loop; the next
	// timer fire gets a clean slate
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Tick panicked", "panic", r)
		}
	}()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.gate.EmergencyStopActive(ctx) {
		s.mu.Lock()
		s.stats.SkippedEmergency++
		s.mu.Unlock()
		metrics.TickSkips.WithLabelValues("emergency_stop").Inc()
		s.log.Warn("Tick skipped, emergency stop active")
		return
	}

	s.purgeExpired()

	opps := s.source.Liquidatable()
	if len(opps) == 0 {
		return
	}

	best := s.pickCandidate(opps)
	if best == nil {
		return
	}

	s.execute(ctx, best)
}

// purgeExpired drops cooldown entries past their expiry
func (s *Scheduler) purgeExpired() {
	now := s.now()
	s.mu.Lock()
	for key, expiry := range s.cooldowns {
		if !now.Before(expiry) {
			delete(s.cooldowns, key)
		}
	}
	metrics.CooldownsInFlight.Set(float64(len(s.cooldowns)))
	s.mu.Unlock()
}

// pickCandidate filters cooling-down, backing-off, and abandoned keys and
// returns the highest-profit remainder. The input is already sorted.
func (s *Scheduler) pickCandidate(opps []*opportunity.Opportunity) *opportunity.Opportunity {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, opp := range opps {
		key := opp.Key()

		if _, done := s.abandoned[key]; done {
			continue
		}
		if expiry, cooling := s.cooldowns[key]; cooling && now.Before(expiry) {
			s.stats.SkippedCooldown++
			metrics.TickSkips.WithLabelValues("cooldown").Inc()
			continue
		}
		if rs, backing := s.retries[key]; backing && now.Before(rs.nextEligible) {
			s.stats.SkippedBackoff++
			metrics.TickSkips.WithLabelValues("backoff").Inc()
			continue
		}
		return opp
	}
	return nil
}

// execute runs exactly one attempt against the chosen opportunity
func (s *Scheduler) execute(ctx context.Context, opp *opportunity.Opportunity) {
	key := opp.Key()
	// The attempt id ties together every log line of one attempt across
	// selection, risk, gas, and execution
	log := s.log.With(
		"attempt_id", uuid.NewString(),
		"borrower", opp.Borrower.Hex(),
		"key", string(key),
	)

	// One wallet, one submitter: the distributed lock extends the
	// in-flight guard across processes
	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, executionLockKey, executionLockTTL)
		if err != nil {
			// Lock backend trouble degrades to single-instance behavior
			log.Warnw("Execution lock unavailable, proceeding unlocked", "error", err)
		} else if !acquired {
			s.mu.Lock()
			s.stats.SkippedLocked++
			s.mu.Unlock()
			metrics.TickSkips.WithLabelValues("lock_held").Inc()
			log.Debugw("Execution lock held by another instance, skipping tick")
			return
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(ctx, executionLockKey); err != nil {
					log.Warnw("Failed to release execution lock, TTL will expire it", "error", err)
				}
			}()
		}
	}

	mode, err := s.selector.SelectMode(ctx, opp)
	if err != nil {
		// Selection-stage infeasibility consumes no retry budget
		log.Warnw("Strategy selection failed, aborting tick", "error", err)
		return
	}

	// State may have drifted since the snapshot; re-validate before
	// committing the attempt
	if err := s.selector.Validate(ctx, opp, mode); err != nil {
		log.Warnw("Strategy validation failed, aborting tick",
			"mode", mode, "error", err)
		return
	}

	decision, err := s.gate.Validate(ctx, opp, mode)
	if err != nil {
		log.Warnw("Risk gate error", "error", err)
		return
	}
	if !decision.CanProceed {
		cause := decision.Cause
		if cause == nil {
			cause = errors.ErrRiskRejected
		}
		err := errors.Wrapf(cause, "checks %v", decision.FailedChecks)
		log.Warnw("Risk gate rejected opportunity", "failed_checks", decision.FailedChecks)
		s.recordFailure(ctx, opp, mode, err)
		return
	}

	gas, err := s.gas.EstimateGas(ctx, opp, mode)
	if err != nil {
		log.Errorw("Gas estimation failed", "error", err)
		s.recordFailure(ctx, opp, mode, err)
		return
	}

	exec, ok := s.executors[mode]
	if !ok {
		s.recordFailure(ctx, opp, mode, errors.Wrapf(errors.ErrInternal, "no executor for mode %s", mode))
		return
	}

	log.Infow("Executing liquidation",
		"mode", mode,
		"repay_amount", opp.RepayAmount.String(),
		"estimated_profit_usd", opp.EstimatedProfitUSD.StringFixed(2),
	)

	start := s.now()
	res, err := exec.Execute(ctx, opp, chain.GasParams{
		GasLimit: gas.GasLimit,
		GasPrice: gas.GasPriceWei,
	})
	latency := s.now().Sub(start)

	if err != nil {
		s.observeAttempt(mode, latency, decimal.Zero, false)
		s.recordFailure(ctx, opp, mode, errors.Wrap(errors.ErrExecutionFailed, err.Error()))
		return
	}
	if res == nil || !res.Success {
		msg := "no result"
		if res != nil {
			msg = res.Err
		}
		s.observeAttempt(mode, latency, decimal.Zero, false)
		s.recordFailure(ctx, opp, mode, errors.Wrap(errors.ErrExecutionFailed, msg))
		return
	}

	res.Latency = latency
	s.observeAttempt(mode, latency, res.ProfitUSD, true)
	s.recordSuccess(ctx, opp, mode, res)
}

func (s *Scheduler) observeAttempt(mode opportunity.Mode, latency time.Duration, profitUSD decimal.Decimal, success bool) {
	s.mu.Lock()
	s.stats.Attempts++
	s.totalLatency += latency
	s.mu.Unlock()

	p, _ := profitUSD.Float64()
	metrics.RecordAttempt(mode.String(), latency, p, success)
}

// recordSuccess clears retry state, starts the cooldown, and triggers
// best-effort collateral disposal
func (s *Scheduler) recordSuccess(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode, res *chain.Result) {
	key := opp.Key()

	s.mu.Lock()
	delete(s.retries, key)
	s.cooldowns[key] = s.now().Add(s.cfg.SuccessCooldown)
	s.stats.Successes++
	s.stats.RealizedProfitUSD = s.stats.RealizedProfitUSD.Add(res.ProfitUSD)
	s.stats.EstimatedProfitUSD = s.stats.EstimatedProfitUSD.Add(opp.EstimatedProfitUSD)
	metrics.RetriesInFlight.Set(float64(len(s.retries)))
	metrics.CooldownsInFlight.Set(float64(len(s.cooldowns)))
	s.mu.Unlock()

	s.log.Infow("Liquidation succeeded",
		"borrower", opp.Borrower.Hex(),
		"mode", mode,
		"tx_hash", res.TxHash.Hex(),
		"profit_usd", res.ProfitUSD.StringFixed(2),
		"latency", res.Latency,
	)

	s.gate.RecordOutcome(ctx, res)

	if s.disposer != nil && res.SeizedAmount != nil && res.SeizedAmount.Sign() > 0 {
		if _, err := s.disposer.Handle(ctx, opp.SeizeToken, res.SeizedAmount, res); err != nil {
			// Disposal failure never invalidates the liquidation itself
			s.log.Warnw("Collateral disposal failed",
				"seize_token", opp.SeizeToken.Hex(), "error", err)
		}
	}

	if s.notifier != nil {
		s.notifier.NotifySuccess(ctx, opp, res)
	}
}

// recordFailure routes any attempt failure into the retry/backoff
// machinery, abandoning the key once the budget is exhausted
func (s *Scheduler) recordFailure(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode, cause error) {
	key := opp.Key()

	s.mu.Lock()
	s.stats.Failures++
	rs, ok := s.retries[key]
	if !ok {
		rs = &retryState{}
		s.retries[key] = rs
	}
	rs.count++
	rs.lastErr = cause

	if rs.count > s.cfg.MaxRetries {
		delete(s.retries, key)
		s.abandoned[key] = struct{}{}
		s.stats.Abandoned++
		metrics.AbandonedKeys.Inc()
		metrics.RetriesInFlight.Set(float64(len(s.retries)))
		s.mu.Unlock()

		exhausted := errors.Wrapf(errors.ErrRetriesExhausted, "last error: %v", cause)
		s.log.Errorw("Opportunity abandoned after exhausting retries",
			"key", string(key), "retries", s.cfg.MaxRetries, "error", exhausted)
		if s.notifier != nil {
			s.notifier.NotifyAbandoned(ctx, key, exhausted)
		}
		s.gate.RecordOutcome(ctx, &chain.Result{Success: false, Err: exhausted.Error()})
		return
	}

	delay := backoffDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, rs.count)
	rs.nextEligible = s.now().Add(delay)
	retryCount := rs.count
	metrics.RetriesInFlight.Set(float64(len(s.retries)))
	s.mu.Unlock()

	s.log.Warnw("Liquidation attempt failed, backing off",
		"key", string(key),
		"mode", mode,
		"retry", retryCount,
		"next_eligible_in", delay,
		"error", cause,
	)
	s.gate.RecordOutcome(ctx, &chain.Result{Success: false, Err: cause.Error()})
}

// backoffDelay computes min(base * 2^(attempt-1), max)
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		return max
	}
	delay := base << uint(shift)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Stats returns a snapshot of the aggregate counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.RetriesInFlight = len(s.retries)
	out.CooldownsInFlight = len(s.cooldowns)
	if s.stats.Attempts > 0 {
		out.AvgLatency = time.Duration(int64(s.totalLatency) / int64(s.stats.Attempts))
	}
	return out
}

// Opportunities exposes the current ranked list for operational tooling
func (s *Scheduler) Opportunities() []*opportunity.Opportunity {
	return s.source.Liquidatable()
}
