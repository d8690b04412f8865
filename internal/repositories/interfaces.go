package repositories

import (
	"context"
	"time"

	domain "github.com/marketfold/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Counters() CounterRepository
	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate and provides query helpers for
// customers, sellers, and the order-number generator.
type OrderRepository interface {
	// Insert persists a new order. It fails with a conflict error when the
	// order ID or order number already exists; the order number is reserved
	// in the same transaction as the document write.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	// Update performs an atomic compare-and-swap keyed on order.Version. A
	// stale version yields a conflict error and writes nothing.
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByCustomer(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListBySeller(ctx context.Context, filter SellerOrderFilter) (domain.CursorPage[domain.Order], error)
	// CountCreatedOn reports how many orders were created within the given
	// calendar day, expressed as a half-open [dayStart, dayEnd) interval.
	CountCreatedOn(ctx context.Context, dayStart, dayEnd time.Time) (int64, error)
}

// CatalogRepository resolves purchasable product listings. Checkout snapshots
// the returned values into order items; listings are never consulted again for
// historical orders.
type CatalogRepository interface {
	FindListing(ctx context.Context, productRef string) (domain.ProductListing, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter scopes order listings to one customer with optional filters.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// SellerOrderFilter scopes order listings to orders containing a seller's sub-order.
type SellerOrderFilter struct {
	SellerRef  string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
