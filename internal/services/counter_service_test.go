package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketfold/api/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextCalls      []counterCall
	configureCalls []configureCall
}

type counterCall struct {
	ID   string
	Step int64
}

type configureCall struct {
	ID  string
	Cfg repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, configureCall{ID: counterID, Cfg: cfg})
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestNextOrderNumberFormatsDateScopedSequence(t *testing.T) {
	counters := &stubCounterRepository{}
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{
		Counters: counters,
		Orders:   newStubOrderRepository(),
		Prefix:   "ord",
	})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "ORD2506010007" {
		t.Fatalf("expected ORD2506010007, got %s", number)
	}

	counters.mu.Lock()
	defer counters.mu.Unlock()
	if len(counters.nextCalls) != 1 || counters.nextCalls[0].ID != "orders:250601" {
		t.Fatalf("unexpected counter calls %+v", counters.nextCalls)
	}
}

func TestNextOrderNumberWidensPastFourDigits(t *testing.T) {
	counters := &stubCounterRepository{}
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 12345, nil
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: counters, Orders: newStubOrderRepository()})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "MF25060112345" {
		t.Fatalf("expected sequence to widen, got %s", number)
	}
}

func TestNextOrderNumberUsesConfiguredTimezone(t *testing.T) {
	counters := &stubCounterRepository{}
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 2, nil
	}

	jst := time.FixedZone("JST", 9*60*60)
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{
		Counters: counters,
		Orders:   newStubOrderRepository(),
		Prefix:   "MKT",
		Location: jst,
	})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	// 16:00 UTC on May 31 is already June 1 in JST.
	number, err := svc.NextOrderNumber(context.Background(), time.Date(2025, 5, 31, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "MKT2506010002" {
		t.Fatalf("expected JST day key, got %s", number)
	}
}

func TestNextOrderNumberRecoversFromLedger(t *testing.T) {
	counters := &stubCounterRepository{}
	var nextCalls int
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		nextCalls++
		if nextCalls == 1 {
			// Fresh counter document on a day that already has orders.
			return 1, nil
		}
		return 7, nil
	}

	orders := newStubOrderRepository()
	orders.countFn = func(context.Context, time.Time, time.Time) (int64, error) {
		return 5, nil
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: counters, Orders: orders, Prefix: "ORD"})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "ORD2506010007" {
		t.Fatalf("expected re-issued number past the ledger count, got %s", number)
	}

	counters.mu.Lock()
	defer counters.mu.Unlock()
	if len(counters.configureCalls) != 1 {
		t.Fatalf("expected one configure call, got %d", len(counters.configureCalls))
	}
	cfg := counters.configureCalls[0].Cfg
	if cfg.InitialValue == nil || *cfg.InitialValue != 6 {
		t.Fatalf("expected counter seeded past the ledger count, got %+v", cfg)
	}
}

func TestNextOrderNumberFreshDayNeedsNoRecovery(t *testing.T) {
	counters := &stubCounterRepository{}
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 1, nil
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: counters, Orders: newStubOrderRepository()})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background(), time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "MF2506020001" {
		t.Fatalf("expected first number of the day, got %s", number)
	}

	counters.mu.Lock()
	defer counters.mu.Unlock()
	if len(counters.configureCalls) != 0 {
		t.Fatalf("expected no configure calls on an empty day, got %d", len(counters.configureCalls))
	}
}

func TestNextOrderNumberConcurrentIssuesAreUnique(t *testing.T) {
	var seq int64
	counters := &stubCounterRepository{}
	counters.nextFn = func(_ context.Context, _ string, step int64) (int64, error) {
		return atomic.AddInt64(&seq, step), nil
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: counters, Orders: newStubOrderRepository()})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	const workers = 32
	day := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	numbers := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			number, err := svc.NextOrderNumber(context.Background(), day)
			if err != nil {
				t.Errorf("worker %d: next order number: %v", i, err)
				return
			}
			numbers[i] = number
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int, workers)
	for i, number := range numbers {
		if number == "" {
			continue
		}
		if prev, dup := seen[number]; dup {
			t.Fatalf("workers %d and %d both issued %s", prev, i, number)
		}
		seen[number] = i
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct order numbers, got %d", workers, len(seen))
	}
}

func TestNextOrderNumberMapsCounterErrors(t *testing.T) {
	counters := &stubCounterRepository{}
	counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "limit", nil)
	}

	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: counters, Orders: newStubOrderRepository()})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	_, err = svc.NextOrderNumber(context.Background(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}

	if _, err := svc.NextOrderNumber(context.Background(), time.Time{}); !errors.Is(err, ErrOrderNumberInvalidInput) {
		t.Fatalf("expected invalid input for zero time, got %v", err)
	}
}
