package di

import (
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/handler"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/service"
)

// Container holds all dependencies for the registration service
type Container struct {
	// Repositories
	EventRepo        repository.EventRepository
	RegistrationRepo repository.RegistrationRepository

	// Concurrency
	Locker lock.EventLocker

	// Notifications
	EventPublisher service.EventPublisher
	Notifier       *service.AsyncNotifier

	// Services
	RegistrationService service.RegistrationService
	EventService        service.EventService

	// Handlers
	HealthHandler       *handler.HealthHandler
	RegistrationHandler *handler.RegistrationHandler
	EventHandler        *handler.EventHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	EventRepo        repository.EventRepository
	RegistrationRepo repository.RegistrationRepository
	Locker           lock.EventLocker
	EventPublisher   service.EventPublisher
	NotifierConfig   *service.AsyncNotifierConfig
	ServiceConfig    *service.RegistrationServiceConfig
	HealthCheckers   map[string]handler.HealthChecker
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		EventRepo:        cfg.EventRepo,
		RegistrationRepo: cfg.RegistrationRepo,
		Locker:           cfg.Locker,
		EventPublisher:   cfg.EventPublisher,
	}

	if c.Locker == nil {
		c.Locker = lock.NewLocalLocker(0)
	}
	if c.EventPublisher == nil {
		c.EventPublisher = service.NewNoOpEventPublisher()
	}

	// Initialize notification pipeline
	c.Notifier = service.NewAsyncNotifier(c.EventPublisher, cfg.NotifierConfig)

	// Initialize services; both share the locker so deletes serialize with admissions
	c.RegistrationService = service.NewRegistrationService(
		c.EventRepo,
		c.RegistrationRepo,
		c.Locker,
		c.Notifier,
		cfg.ServiceConfig,
	)
	c.EventService = service.NewEventService(
		c.EventRepo,
		c.RegistrationRepo,
		c.Locker,
		cfg.ServiceConfig,
	)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(cfg.HealthCheckers)
	c.RegistrationHandler = handler.NewRegistrationHandler(c.RegistrationService)
	c.EventHandler = handler.NewEventHandler(c.EventService)

	return c
}

// Close drains pending notifications and closes the publisher
func (c *Container) Close() error {
	c.Notifier.Close()
	return c.EventPublisher.Close()
}
