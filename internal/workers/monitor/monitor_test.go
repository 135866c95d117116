package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/market"
	"vulture/internal/domain/position"
	"vulture/internal/events"
	"vulture/internal/testsupport"
	"vulture/pkg/errors"
)

type fakeEvaluator struct {
	mu        sync.Mutex
	positions map[common.Address]*position.AccountPosition
	errs      map[common.Address]error
	calls     []common.Address
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		positions: make(map[common.Address]*position.AccountPosition),
		errs:      make(map[common.Address]error),
	}
}

func (f *fakeEvaluator) Evaluate(_ context.Context, account common.Address) (*position.AccountPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, account)
	if err := f.errs[account]; err != nil {
		return nil, err
	}
	if pos, ok := f.positions[account]; ok {
		return pos, nil
	}
	return &position.AccountPosition{Account: account}, nil
}

func (f *fakeEvaluator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	tracked []common.Address
	updates []common.Address
}

func (f *fakeSink) Update(_ context.Context, pos *position.AccountPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, pos.Account)
}

func (f *fakeSink) Tracked() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked
}

func (f *fakeSink) Counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracked), 0
}

func (f *fakeSink) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestAccountPollerRefreshesTrackedAccounts(t *testing.T) {
	evaluator := newFakeEvaluator()
	sink := &fakeSink{tracked: []common.Address{addr(0x01), addr(0x02), addr(0x03)}}

	poller := NewAccountPoller(evaluator, sink, time.Minute, 1000, true)
	require.NoError(t, poller.Run(context.Background()))

	assert.Equal(t, 3, evaluator.callCount())
	assert.Equal(t, 3, sink.updateCount())
}

func TestAccountPollerSkipsFailedEvaluations(t *testing.T) {
	evaluator := newFakeEvaluator()
	evaluator.errs[addr(0x02)] = errors.ErrLiquidityUnavailable
	sink := &fakeSink{tracked: []common.Address{addr(0x01), addr(0x02)}}

	poller := NewAccountPoller(evaluator, sink, time.Minute, 1000, true)
	require.NoError(t, poller.Run(context.Background()))

	// The failing account does not reach the sink
	assert.Equal(t, 2, evaluator.callCount())
	assert.Equal(t, 1, sink.updateCount())
}

func TestAccountPollerEmptyTrackedSetIsNoop(t *testing.T) {
	evaluator := newFakeEvaluator()
	sink := &fakeSink{}

	poller := NewAccountPoller(evaluator, sink, time.Minute, 1000, true)
	require.NoError(t, poller.Run(context.Background()))

	assert.Equal(t, 0, evaluator.callCount())
}

type fakeRegistry struct {
	mu      sync.Mutex
	markets []market.Market
}

func (f *fakeRegistry) RegisterMarket(m market.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, m)
}

func TestProtocolScannerPagesThroughBorrowers(t *testing.T) {
	reader := testsupport.NewFakeReader()
	for b := byte(1); b <= 5; b++ {
		reader.Borrowers = append(reader.Borrowers, addr(b))
	}
	reader.Markets[addr(0xA1)] = market.Market{
		Address: addr(0xA1), Symbol: "vUSDC", UnderlyingDecimals: 6,
	}

	evaluator := newFakeEvaluator()
	sink := &fakeSink{}
	registry := &fakeRegistry{}

	scanner := NewProtocolScanner(reader, evaluator, sink, registry, time.Hour, 2, true)
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, 5, evaluator.callCount(), "every borrower evaluated once")
	assert.Equal(t, 5, sink.updateCount())
	assert.Len(t, registry.markets, 1)
	// 5 borrowers at page size 2: pages of 2, 2, 1, and the short last
	// page stops the walk
	assert.Equal(t, 3, reader.Calls["GetAllBorrowers"])
}

func TestProtocolScannerPageBoundary(t *testing.T) {
	reader := testsupport.NewFakeReader()
	for b := byte(1); b <= 4; b++ {
		reader.Borrowers = append(reader.Borrowers, addr(b))
	}

	scanner := NewProtocolScanner(reader, newFakeEvaluator(), &fakeSink{}, nil, time.Hour, 2, true)
	require.NoError(t, scanner.Run(context.Background()))

	// Full last page forces one extra empty fetch
	assert.Equal(t, 3, reader.Calls["GetAllBorrowers"])
}

func TestProtocolScannerSurvivesMarketRefreshFailure(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Errs["GetAllMarkets"] = errors.ErrInternal
	reader.Borrowers = []common.Address{addr(0x01)}

	evaluator := newFakeEvaluator()
	scanner := NewProtocolScanner(reader, evaluator, &fakeSink{}, &fakeRegistry{}, time.Hour, 10, true)

	require.NoError(t, scanner.Run(context.Background()))
	assert.Equal(t, 1, evaluator.callCount())
}

func TestProtocolScannerPropagatesBorrowerListFailure(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Errs["GetAllBorrowers"] = errors.ErrInternal

	scanner := NewProtocolScanner(reader, newFakeEvaluator(), &fakeSink{}, nil, time.Hour, 10, true)
	assert.Error(t, scanner.Run(context.Background()))
}

type fakeSubscription struct {
	events chan events.Event
	errs   chan error
	closed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan events.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeSubscription) Events() <-chan events.Event { return f.events }
func (f *fakeSubscription) Err() <-chan error           { return f.errs }
func (f *fakeSubscription) Close() error                { f.closed = true; return nil }

type fakeEventSource struct {
	sub *fakeSubscription
	err error
}

func (f *fakeEventSource) Subscribe(_ context.Context) (chain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func TestEventConsumerRefreshesOnEvents(t *testing.T) {
	sub := newFakeSubscription()
	source := &fakeEventSource{sub: sub}
	evaluator := newFakeEvaluator()
	sink := &fakeSink{}

	consumer := NewEventConsumer(source, evaluator, sink, time.Second, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	sub.events <- events.Borrow{Borrower: addr(0x01), Market: addr(0xA1)}
	sub.events <- events.Liquidate{Borrower: addr(0x02), RepayMarket: addr(0xA1), SeizeMarket: addr(0xB1)}

	require.Eventually(t, func() bool { return sink.updateCount() == 2 },
		time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, sub.closed)
}

func TestEventConsumerReturnsOnStreamError(t *testing.T) {
	sub := newFakeSubscription()
	source := &fakeEventSource{sub: sub}

	consumer := NewEventConsumer(source, newFakeEvaluator(), &fakeSink{}, time.Second, true)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(context.Background()) }()

	sub.errs <- errors.ErrInternal

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not return on stream error")
	}
}

func TestEventConsumerSubscribeFailure(t *testing.T) {
	source := &fakeEventSource{err: errors.ErrInternal}
	consumer := NewEventConsumer(source, newFakeEvaluator(), &fakeSink{}, time.Second, true)

	assert.Error(t, consumer.Run(context.Background()))
}
