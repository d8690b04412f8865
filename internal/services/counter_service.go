package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketfold/api/internal/repositories"
)

const (
	orderNumberDayFormat  = "060102"
	orderNumberCounterKey = "orders"
	defaultNumberPrefix   = "MF"
)

var (
	// ErrOrderNumberInvalidInput indicates the generator was called with invalid parameters.
	ErrOrderNumberInvalidInput = errors.New("ordernumber: invalid input")
	// ErrOrderNumberExhausted indicates the daily sequence cannot produce further unique numbers.
	ErrOrderNumberExhausted = errors.New("ordernumber: exhausted")
)

// OrderNumberServiceDeps bundles collaborators required to construct the generator.
type OrderNumberServiceDeps struct {
	Counters repositories.CounterRepository
	Orders   repositories.OrderRepository
	Prefix   string
	Location *time.Location
}

type orderNumberService struct {
	counters repositories.CounterRepository
	orders   repositories.OrderRepository
	prefix   string
	location *time.Location
}

// NewOrderNumberService constructs an OrderNumberService issuing
// <prefix><YYMMDD><NNNN> numbers from a per-day atomic counter.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberService, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number service: counter repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order number service: order repository is required")
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultNumberPrefix
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	return &orderNumberService{
		counters: deps.Counters,
		orders:   deps.Orders,
		prefix:   prefix,
		location: location,
	}, nil
}

// NextOrderNumber returns the next date-scoped number. The sequence widens
// past four digits rather than truncating. A fresh daily counter is cross-
// checked against the order ledger so a lost counter document cannot reissue
// numbers already assigned on that day.
func (s *orderNumberService) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	if now.IsZero() {
		return "", fmt.Errorf("%w: timestamp is required", ErrOrderNumberInvalidInput)
	}

	day := now.In(s.location)
	dayKey := day.Format(orderNumberDayFormat)
	counterID := orderNumberCounterKey + ":" + dayKey

	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", s.mapCounterError(err)
	}

	if seq == 1 {
		recovered, rerr := s.recoverFromLedger(ctx, counterID, day)
		if rerr != nil {
			return "", rerr
		}
		if recovered > 0 {
			seq, err = s.counters.Next(ctx, counterID, 1)
			if err != nil {
				return "", s.mapCounterError(err)
			}
		}
	}

	return fmt.Sprintf("%s%s%04d", s.prefix, dayKey, seq), nil
}

// recoverFromLedger seeds a freshly created counter from the persisted order
// count for the day. Returns the seeded count, zero when no seeding happened.
func (s *orderNumberService) recoverFromLedger(ctx context.Context, counterID string, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)
	dayEnd := dayStart.Add(24 * time.Hour)

	created, err := s.orders.CountCreatedOn(ctx, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}
	if created == 0 {
		return 0, nil
	}

	initial := created + 1
	if err := s.counters.Configure(ctx, counterID, repositories.CounterConfig{InitialValue: &initial}); err != nil {
		return 0, s.mapCounterError(err)
	}
	return created, nil
}

func (s *orderNumberService) mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrOrderNumberInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrOrderNumberExhausted, counterErr.Message)
		}
	}
	return err
}
