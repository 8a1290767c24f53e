package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloomora/api/internal/platform/config"
	"github.com/bloomora/api/internal/repositories"
	"github.com/bloomora/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Cancellations services.CancellationService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerDeps carries externally constructed collaborators that the
// container cannot build itself.
type ContainerDeps struct {
	Notifier services.OrderNotifier
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
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

func buildServices(reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	numbers, err := services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Index: reg.Orders(),
		Clock: time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number generator: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:           reg.Orders(),
		Stock:            reg.ProductStock(),
		Numbers:          numbers,
		Notifier:         deps.Notifier,
		Clock:            time.Now,
		Logger:           deps.Logger,
		DeliveryLeadTime: cfg.Orders.DeliveryLeadTime,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Notifier:   deps.Notifier,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	cancellations, err := services.NewCancellationService(services.CancellationServiceDeps{
		Orders:     reg.Orders(),
		Stock:      reg.ProductStock(),
		UnitOfWork: reg,
		Notifier:   deps.Notifier,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cancellation service: %w", err)
	}
	svc.Cancellations = cancellations

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
