package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/egldtax/internal/cache/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSource struct {
	mu       sync.Mutex
	decimals map[string]int
	err      error
	calls    map[string]int
}

func (s *countingSource) GetTokenDecimals(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[id]++
	if s.err != nil {
		return 0, s.err
	}
	d, ok := s.decimals[id]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

func (s *countingSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func TestResolveNativeWithoutIO(t *testing.T) {
	src := &countingSource{}
	r := NewDecimalsResolver(src, nil, memory.NewDecimalsCache(), nil, time.Second, discardLogger())

	assert.Equal(t, 18, r.Resolve(context.Background(), "EGLD"))
	assert.Equal(t, 18, r.Resolve(context.Background(), ""))
	assert.Equal(t, 0, src.total())
}

func TestResolveKnownTable(t *testing.T) {
	src := &countingSource{}
	r := NewDecimalsResolver(src, map[string]int{"USDC-c76f1f": 6}, memory.NewDecimalsCache(), nil, time.Second, discardLogger())

	assert.Equal(t, 6, r.Resolve(context.Background(), "USDC-c76f1f"))
	assert.Equal(t, 0, src.total())
}

func TestResolveCachesUpstreamValue(t *testing.T) {
	src := &countingSource{decimals: map[string]int{"XMEX-fda355": 18, "ZPAY-247875": 12}}
	r := NewDecimalsResolver(src, nil, memory.NewDecimalsCache(), nil, time.Second, discardLogger())

	assert.Equal(t, 12, r.Resolve(context.Background(), "ZPAY-247875"))
	assert.Equal(t, 12, r.Resolve(context.Background(), "ZPAY-247875"))
	assert.Equal(t, 18, r.Resolve(context.Background(), "XMEX-fda355-0a"))
	assert.Equal(t, 18, r.Resolve(context.Background(), "XMEX-fda355-0b"))
	assert.Equal(t, 2, src.total())
}

func TestResolveFailureFallsBackPermanently(t *testing.T) {
	src := &countingSource{err: errors.New("503")}
	r := NewDecimalsResolver(src, nil, memory.NewDecimalsCache(), nil, time.Second, discardLogger())

	assert.Equal(t, 18, r.Resolve(context.Background(), "BAD-000001"))
	assert.Equal(t, 18, r.Resolve(context.Background(), "BAD-000001"))
	assert.Equal(t, 1, src.total())
}

func TestResolveUsesSharedTier(t *testing.T) {
	shared := memory.NewDecimalsCache()
	_ = shared.Set(context.Background(), "ASH-a642d1", 18)
	_ = shared.Set(context.Background(), "BUSD-40b57e", 18)
	src := &countingSource{decimals: map[string]int{"USDT-f8c08c": 6}}
	local := memory.NewDecimalsCache()
	r := NewDecimalsResolver(src, nil, local, shared, time.Second, discardLogger())

	assert.Equal(t, 18, r.Resolve(context.Background(), "ASH-a642d1"))
	assert.Equal(t, 0, src.total())
	_, ok := local.Get(context.Background(), "ASH-a642d1")
	assert.True(t, ok)

	assert.Equal(t, 6, r.Resolve(context.Background(), "USDT-f8c08c"))
	d, ok := shared.Get(context.Background(), "USDT-f8c08c")
	assert.True(t, ok)
	assert.Equal(t, 6, d)
}

func TestResolveCancelledRequestDoesNotPoisonCache(t *testing.T) {
	src := &countingSource{err: context.Canceled}
	local := memory.NewDecimalsCache()
	r := NewDecimalsResolver(src, nil, local, nil, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 18, r.Resolve(ctx, "LATE-000001"))
	_, ok := local.Get(context.Background(), "LATE-000001")
	assert.False(t, ok)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (s *blockingSource) GetTokenDecimals(ctx context.Context, _ string) (int, error) {
	close(s.entered)
	<-s.release
	s.ctxErr = ctx.Err()
	return 6, nil
}

func TestResolveCancelledCallerDoesNotFailOthers(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	local := memory.NewDecimalsCache()
	r := NewDecimalsResolver(src, nil, local, nil, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan int, 1)
	go func() { first <- r.Resolve(ctx, "USDC-c76f1f") }()
	<-src.entered

	second := make(chan int, 1)
	go func() { second <- r.Resolve(context.Background(), "USDC-c76f1f") }()
	// let the second caller join the in-flight lookup
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case d := <-first:
		assert.Equal(t, FallbackDecimals, d)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(src.release)
	select {
	case d := <-second:
		assert.Equal(t, 6, d)
	case <-time.After(time.Second):
		t.Fatal("second caller never resolved")
	}
	assert.NoError(t, src.ctxErr)

	d, ok := local.Get(context.Background(), "USDC-c76f1f")
	assert.True(t, ok)
	assert.Equal(t, 6, d)
}
