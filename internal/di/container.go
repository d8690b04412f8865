package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/marketfold/api/internal/domain"
	"github.com/marketfold/api/internal/platform/config"
	"github.com/marketfold/api/internal/repositories"
	"github.com/marketfold/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	Returns  services.ReturnService
	Payments services.PaymentService
	Numbers  services.OrderNumberService
	Catalog  services.CatalogGateway
	System   services.SystemService
}

// Gateways carries the runtime collaborators that live outside the repository
// registry: the payment gateway adapters, the event publisher, and logging.
type Gateways struct {
	Events     services.OrderEventPublisher
	Authorizer services.PaymentAuthorizer
	Refunder   services.GatewayRefunder
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Build      services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, gw Gateways) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, gw)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, gw Gateways) (Services, error) {
	var svc Services

	location := time.UTC
	if tz := cfg.Orders.NumberTimezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Services{}, fmt.Errorf("load order number timezone: %w", err)
		}
		location = loc
	}

	numberSvc, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Counters: reg.Counters(),
		Orders:   reg.Orders(),
		Prefix:   cfg.Orders.NumberPrefix,
		Location: location,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number service: %w", err)
	}
	svc.Numbers = numberSvc

	catalogGw, err := services.NewCatalogGateway(services.CatalogGatewayDeps{
		Catalog: reg.Catalog(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog gateway: %w", err)
	}
	svc.Catalog = catalogGw

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:                   reg.Orders(),
		Numbers:                  numberSvc,
		Catalog:                  catalogGw,
		Payments:                 gw.Authorizer,
		Clock:                    time.Now,
		Events:                   gw.Events,
		Logger:                   gw.Logger,
		NumberRetryBudget:        cfg.Orders.NumberRetryBudget,
		RetainCommissionOnReturn: cfg.Orders.RetainCommissionOnReturn,
		DisabledMethods:          disabledPaymentMethods(cfg),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Clock:           time.Now,
		Events:          gw.Events,
		Logger:          gw.Logger,
		ConflictRetries: cfg.Orders.ConflictRetries,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:          reg.Orders(),
		Clock:           time.Now,
		Events:          gw.Events,
		Refunder:        gw.Refunder,
		Logger:          gw.Logger,
		ReturnWindow:    cfg.Orders.ReturnWindow,
		ConflictRetries: cfg.Orders.ConflictRetries,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		Clock:           time.Now,
		Events:          gw.Events,
		Logger:          gw.Logger,
		ConflictRetries: cfg.Orders.ConflictRetries,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	build := gw.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func disabledPaymentMethods(cfg config.Config) []domain.PaymentMethod {
	var disabled []domain.PaymentMethod
	if !cfg.Features.EnableCashOnDelivery {
		disabled = append(disabled, domain.PaymentMethodCashOnDelivery)
	}
	return disabled
}
