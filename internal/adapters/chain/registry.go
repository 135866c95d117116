package chain

import (
	"context"
	"sync"

	"vulture/internal/adapters/config"
	"vulture/internal/domain/opportunity"
	"vulture/pkg/errors"
)

// EventSource opens a protocol event subscription
type EventSource interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Backend bundles the chain-facing collaborators a deployment provides:
// protocol reads, per-mode transaction executors, event subscription,
// and optional collateral disposal.
type Backend struct {
	Reader    Reader
	Executors map[opportunity.Mode]Executor
	Events    EventSource
	Disposer  Disposer
}

// Factory builds a backend from chain configuration
type Factory func(ctx context.Context, cfg config.ChainConfig) (*Backend, error)

var (
	factoryMu sync.RWMutex
	factory   Factory
)

// Register installs the chain backend factory. Called from the init of
// the backend package a binary links in, the same way database/sql
// drivers register themselves.
func Register(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factory = f
}

// Open builds the registered backend
func Open(ctx context.Context, cfg config.ChainConfig) (*Backend, error) {
	factoryMu.RLock()
	f := factory
	factoryMu.RUnlock()

	if f == nil {
		return nil, errors.Wrap(errors.ErrInternal, "no chain backend registered")
	}
	return f(ctx, cfg)
}
