package risk

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/opportunity"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

const (
	emergencyStopKey = "vulture:emergency_stop"
	dailyStateKey    = "vulture:risk:daily"
)

// RedisClient is the subset of the Redis adapter the gate needs
type RedisClient interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Config tunes the risk gate
type Config struct {
	DailyLossLimitUSD decimal.Decimal
	MaxPositionUSD    decimal.Decimal
	Blacklist         []common.Address
	EmergencyStopTTL  time.Duration

	// LocalOnly keeps the emergency stop process-local, never reading
	// from or mirroring to Redis
	LocalOnly bool
}

// Decision is the outcome of a pre-execution risk check
type Decision struct {
	CanProceed   bool
	FailedChecks []string

	// Cause is the sentinel for the first failed check so callers can
	// branch with errors.Is
	Cause error
}

// StopNotifier is told when the emergency stop trips. Optional.
type StopNotifier interface {
	NotifyEmergencyStop(ctx context.Context, reason string, dailyPnLUSD float64)
}

type dailyState struct {
	Day            string          `json:"day"`
	RealizedPnLUSD decimal.Decimal `json:"realized_pnl_usd"`
	Attempts       int             `json:"attempts"`
}

// Gate enforces operator-level risk limits: borrower blacklist, maximum
// position size, a daily realized loss limit, and a manually or
// automatically activated emergency stop. The stop flag is mirrored to
// Redis so a restarted process observes a stop set before the restart.
type Gate struct {
	cfg      Config
	redis    RedisClient
	notifier StopNotifier
	log      *logger.Logger

	mu        sync.Mutex
	localStop bool
	blacklist map[common.Address]struct{}
	daily     dailyState
}

// NewGate creates a risk gate. redis may be nil, leaving only local state.
func NewGate(cfg Config, redis RedisClient, log *logger.Logger) *Gate {
	bl := make(map[common.Address]struct{}, len(cfg.Blacklist))
	for _, a := range cfg.Blacklist {
		bl[a] = struct{}{}
	}
	return &Gate{
		cfg:       cfg,
		redis:     redis,
		log:       log.With("component", "risk_gate"),
		blacklist: bl,
		daily:     dailyState{Day: today()},
	}
}

// SetNotifier attaches an operator notifier for stop activations
func (g *Gate) SetNotifier(n StopNotifier) {
	g.notifier = n
}

// Validate runs the pre-execution risk checks for an opportunity
func (g *Gate) Validate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (Decision, error) {
	var d Decision

	fail := func(check string, cause error) {
		d.FailedChecks = append(d.FailedChecks, check)
		if d.Cause == nil {
			d.Cause = cause
		}
	}

	// The scheduler checks the stop up front, but state may flip between
	// the tick-start check and this one
	if g.EmergencyStopActive(ctx) {
		fail("emergency_stop", errors.ErrEmergencyStop)
	}

	if _, black := g.blacklist[opp.Borrower]; black {
		fail("borrower_blacklisted", errors.ErrBorrowerBlacklisted)
	}

	if g.cfg.MaxPositionUSD.Sign() > 0 && opp.RepayValueUSD().GreaterThan(g.cfg.MaxPositionUSD) {
		fail("max_position_size", errors.ErrRiskRejected)
	}

	g.mu.Lock()
	g.rollDayLocked()
	lossLimited := g.cfg.DailyLossLimitUSD.Sign() > 0 &&
		g.daily.RealizedPnLUSD.Neg().GreaterThanOrEqual(g.cfg.DailyLossLimitUSD)
	g.mu.Unlock()
	if lossLimited {
		fail("daily_loss_limit", errors.ErrDailyLossLimit)
	}

	d.CanProceed = len(d.FailedChecks) == 0
	return d, nil
}

// EmergencyStopActive reports whether the emergency stop is set. Redis
// errors fall back to the local flag rather than blocking the tick loop.
func (g *Gate) EmergencyStopActive(ctx context.Context) bool {
	g.mu.Lock()
	local := g.localStop
	g.mu.Unlock()
	if local {
		return true
	}

	if g.redis == nil || g.cfg.LocalOnly {
		return false
	}
	active, err := g.redis.Exists(ctx, emergencyStopKey)
	if err != nil {
		g.log.Warnw("Emergency stop check failed, using local state", "error", err)
		return false
	}
	return active
}

// Activate sets the emergency stop
func (g *Gate) Activate(ctx context.Context, reason string) {
	g.log.Warnw("Emergency stop activated", "reason", reason)

	g.mu.Lock()
	g.localStop = true
	g.mu.Unlock()

	if g.redis != nil && !g.cfg.LocalOnly {
		state := map[string]interface{}{
			"reason":       reason,
			"activated_at": time.Now(),
		}
		if err := g.redis.Set(ctx, emergencyStopKey, state, g.cfg.EmergencyStopTTL); err != nil {
			g.log.Errorw("Failed to persist emergency stop", "error", err)
		}
	}

	if g.notifier != nil {
		pnl, _ := g.DailyPnL()
		f, _ := pnl.Float64()
		g.notifier.NotifyEmergencyStop(ctx, reason, f)
	}
}

// Deactivate clears the emergency stop
func (g *Gate) Deactivate(ctx context.Context) error {
	g.mu.Lock()
	g.localStop = false
	g.mu.Unlock()

	if g.redis != nil && !g.cfg.LocalOnly {
		if err := g.redis.Delete(ctx, emergencyStopKey); err != nil {
			return errors.Wrap(err, "clear emergency stop flag")
		}
	}
	g.log.Info("Emergency stop deactivated")
	return nil
}

// RecordOutcome folds an execution result into the daily PnL counters and
// trips the emergency stop when the loss limit is breached
func (g *Gate) RecordOutcome(ctx context.Context, res *chain.Result) {
	g.mu.Lock()
	g.rollDayLocked()
	g.daily.Attempts++
	if res.Success {
		g.daily.RealizedPnLUSD = g.daily.RealizedPnLUSD.Add(res.ProfitUSD)
	}
	snapshot := g.daily
	tripped := g.cfg.DailyLossLimitUSD.Sign() > 0 &&
		snapshot.RealizedPnLUSD.Neg().GreaterThanOrEqual(g.cfg.DailyLossLimitUSD)
	g.mu.Unlock()

	if g.redis != nil {
		if err := g.redis.Set(ctx, dailyStateKey, snapshot, 48*time.Hour); err != nil {
			g.log.Warnw("Failed to mirror daily risk state", "error", err)
		}
	}

	if tripped {
		g.Activate(ctx, "daily loss limit exceeded")
	}
}

// DailyPnL returns today's realized PnL and attempt count
func (g *Gate) DailyPnL() (decimal.Decimal, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.daily.RealizedPnLUSD, g.daily.Attempts
}

// rollDayLocked resets counters at the UTC day boundary. Caller holds mu.
func (g *Gate) rollDayLocked() {
	if d := today(); g.daily.Day != d {
		g.daily = dailyState{Day: d}
	}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
