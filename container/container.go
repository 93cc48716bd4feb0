/*
Package container provides dependency injection capabilities for the price
feed backend.

This package implements a simple dependency injection container that helps
manage service dependencies and reduces tight coupling between components.
*/
package container

import (
	"fmt"
	"sync"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/breaker"
	"github.com/tradewatch/price-feed-backend/client"
	"github.com/tradewatch/price-feed-backend/collector"
	"github.com/tradewatch/price-feed-backend/discovery"
	"github.com/tradewatch/price-feed-backend/handlers"
	"github.com/tradewatch/price-feed-backend/handlers/health"
	"github.com/tradewatch/price-feed-backend/processor"
	"github.com/tradewatch/price-feed-backend/queue"
	"github.com/tradewatch/price-feed-backend/ratelimit"
	"github.com/tradewatch/price-feed-backend/utils"
)

// Dependencies carries the constructed services into the container. Every
// field is built by config.NewServices from validated configuration.
type Dependencies struct {
	Logger          *logrus.Logger
	DatastoreClient *datastore.Client
	Limiter         *ratelimit.Limiter
	Breaker         *breaker.Breaker
	QueueStore      queue.Store
	Client          *client.Client
	Writer          *handlers.DatastoreWriter
	Processor       *processor.Processor
	Discovery       *discovery.Discovery
	Collector       *collector.Collector
	Sweeper         *utils.Sweeper
}

// Container holds all service dependencies
type Container struct {
	mu         sync.RWMutex
	services   map[string]interface{}
	factories  map[string]func() (interface{}, error)
	singletons map[string]interface{}
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		services:   make(map[string]interface{}),
		factories:  make(map[string]func() (interface{}, error)),
		singletons: make(map[string]interface{}),
	}
}

// Register registers a service instance
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterFactory registers a factory function for lazy service creation
func (c *Container) RegisterFactory(name string, factory func() (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// RegisterSingleton registers a singleton service
func (c *Container) RegisterSingleton(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singletons[name] = service
}

// Get retrieves a service by name
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Check if service is already registered
	if service, exists := c.services[name]; exists {
		return service, nil
	}

	// Check if it's a singleton
	if singleton, exists := c.singletons[name]; exists {
		return singleton, nil
	}

	// Check if there's a factory for this service
	if factory, exists := c.factories[name]; exists {
		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service %s: %v", name, err)
		}
		return service, nil
	}

	return nil, fmt.Errorf("service %s not found", name)
}

// GetLogger retrieves the logger service
func (c *Container) GetLogger() (*logrus.Logger, error) {
	service, err := c.Get("logger")
	if err != nil {
		return nil, err
	}
	logger, ok := service.(*logrus.Logger)
	if !ok {
		return nil, fmt.Errorf("logger service is not of expected type")
	}
	return logger, nil
}

// GetDatastoreClient retrieves the datastore client service
func (c *Container) GetDatastoreClient() (*datastore.Client, error) {
	service, err := c.Get("datastore")
	if err != nil {
		return nil, err
	}
	client, ok := service.(*datastore.Client)
	if !ok {
		return nil, fmt.Errorf("datastore service is not of expected type")
	}
	return client, nil
}

// GetQueueStore retrieves the work-queue store service
func (c *Container) GetQueueStore() (queue.Store, error) {
	service, err := c.Get("queue")
	if err != nil {
		return nil, err
	}
	store, ok := service.(queue.Store)
	if !ok {
		return nil, fmt.Errorf("queue service is not of expected type")
	}
	return store, nil
}

// GetUpstreamClient retrieves the upstream price API client service
func (c *Container) GetUpstreamClient() (*client.Client, error) {
	service, err := c.Get("upstream")
	if err != nil {
		return nil, err
	}
	upstream, ok := service.(*client.Client)
	if !ok {
		return nil, fmt.Errorf("upstream service is not of expected type")
	}
	return upstream, nil
}

// GetProcessor retrieves the queue processor service
func (c *Container) GetProcessor() (*processor.Processor, error) {
	service, err := c.Get("processor")
	if err != nil {
		return nil, err
	}
	proc, ok := service.(*processor.Processor)
	if !ok {
		return nil, fmt.Errorf("processor service is not of expected type")
	}
	return proc, nil
}

// GetDiscovery retrieves the catalog discovery service
func (c *Container) GetDiscovery() (*discovery.Discovery, error) {
	service, err := c.Get("discovery")
	if err != nil {
		return nil, err
	}
	disc, ok := service.(*discovery.Discovery)
	if !ok {
		return nil, fmt.Errorf("discovery service is not of expected type")
	}
	return disc, nil
}

// GetCollector retrieves the aggregate collector service
func (c *Container) GetCollector() (*collector.Collector, error) {
	service, err := c.Get("collector")
	if err != nil {
		return nil, err
	}
	coll, ok := service.(*collector.Collector)
	if !ok {
		return nil, fmt.Errorf("collector service is not of expected type")
	}
	return coll, nil
}

// GetSweeper retrieves the retention sweeper service
func (c *Container) GetSweeper() (*utils.Sweeper, error) {
	service, err := c.Get("sweeper")
	if err != nil {
		return nil, err
	}
	sweeper, ok := service.(*utils.Sweeper)
	if !ok {
		return nil, fmt.Errorf("sweeper service is not of expected type")
	}
	return sweeper, nil
}

// GetHandler retrieves the ops API handler service
func (c *Container) GetHandler() (*handlers.Handler, error) {
	service, err := c.Get("handler")
	if err != nil {
		return nil, err
	}
	handler, ok := service.(*handlers.Handler)
	if !ok {
		return nil, fmt.Errorf("handler service is not of expected type")
	}
	return handler, nil
}

// GetHealthHandler retrieves the health handler service
func (c *Container) GetHealthHandler() (*health.Handler, error) {
	service, err := c.Get("health")
	if err != nil {
		return nil, err
	}
	handler, ok := service.(*health.Handler)
	if !ok {
		return nil, fmt.Errorf("health service is not of expected type")
	}
	return handler, nil
}

// InitializeServices registers the constructed services and the handler
// factories that depend on them.
func (c *Container) InitializeServices(deps Dependencies) error {
	if deps.Logger == nil || deps.QueueStore == nil || deps.Client == nil {
		return fmt.Errorf("container dependencies are incomplete")
	}

	c.RegisterSingleton("logger", deps.Logger)
	c.RegisterSingleton("datastore", deps.DatastoreClient)
	c.RegisterSingleton("limiter", deps.Limiter)
	c.RegisterSingleton("breaker", deps.Breaker)
	c.RegisterSingleton("queue", deps.QueueStore)
	c.RegisterSingleton("upstream", deps.Client)
	c.RegisterSingleton("writer", deps.Writer)
	c.RegisterSingleton("processor", deps.Processor)
	c.RegisterSingleton("discovery", deps.Discovery)
	c.RegisterSingleton("collector", deps.Collector)
	c.RegisterSingleton("sweeper", deps.Sweeper)

	c.RegisterFactory("handler", func() (interface{}, error) {
		return handlers.NewHandler(deps.QueueStore, deps.Client, deps.Writer, deps.Logger), nil
	})
	c.RegisterFactory("health", func() (interface{}, error) {
		return health.NewHandler(deps.DatastoreClient, deps.Client, deps.Logger), nil
	})

	return nil
}

// Close gracefully closes all service connections
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if service, exists := c.singletons["datastore"]; exists {
		if datastoreClient, ok := service.(*datastore.Client); ok && datastoreClient != nil {
			if err := datastoreClient.Close(); err != nil {
				return fmt.Errorf("failed to close datastore client: %v", err)
			}
		}
	}

	return nil
}
