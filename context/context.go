package context

import (
	context2 "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Context is a small service wrapper that handles the startup/shutdown of the service
// Services are stored in the order passed to it, as slices dont preserve order maps are used.
// Provides cross-service access while still maintaining separation of concerns
type Context struct {
	startOrder map[int]string
	serviceMap map[string]Service
	started    []string
}

// NewCtx Create a new context containing the given services.
func NewCtx(svcs ...Service) (*Context, error) {
	ctx := Context{
		startOrder: make(map[int]string, len(svcs)),
		serviceMap: make(map[string]Service, len(svcs)),
	}

	for _, s := range svcs {
		if err := ctx.Register(s); err != nil {
			return nil, err
		}
	}

	return &ctx, nil
}

// Register a new service into the context and preseve the order passed
func (ctx *Context) Register(service Service) error {
	if _, ok := ctx.serviceMap[service.Id()]; ok {
		return fmt.Errorf("service %s already registered", service.Id())
	}

	currLen := len(ctx.serviceMap) //Starts from 0

	ctx.startOrder[currLen] = service.Id()
	ctx.serviceMap[service.Id()] = service

	return nil
}

// Service Returns the pointer to the given service.
// Note: once returned the service must be cast to the correct service
// Example: ctx.Service(HOST_SVC).(*HostService)
func (ctx *Context) Service(id string) Service {
	return ctx.serviceMap[id]
}

// Run configures and starts every service, then blocks until SIGINT/SIGTERM or
// until parent is cancelled. Started services are shut down in reverse order.
func (ctx *Context) Run(parent context2.Context) error {
	if err := ctx.Boot(); err != nil {
		ctx.Shutdown()
		return err
	}

	runCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	<-runCtx.Done()
	log.Info().Msg("Shutting down")
	ctx.Shutdown()

	return nil
}

// Boot configures then starts every service in registration order.
// Each service is configured first, if any fail here the context will bail out
// Each service is started, if any fail here the context will bail out
func (ctx *Context) Boot() error {
	for i := 0; i < len(ctx.startOrder); i++ {
		svcId := ctx.startOrder[i]

		if err := ctx.Configure(ctx.serviceMap[svcId]); err != nil {
			log.Error().Err(err).Str("service", svcId).Msg("Context Configure Error")
			return err
		}
	}

	for i := 0; i < len(ctx.startOrder); i++ {
		svcId := ctx.startOrder[i]

		if err := ctx.Start(ctx.serviceMap[svcId]); err != nil {
			log.Error().Err(err).Str("service", svcId).Msg("Context Start Error")
			return err
		}
		ctx.started = append(ctx.started, svcId)
	}

	return nil
}

// Shutdown stops started services, last started first.
func (ctx *Context) Shutdown() {
	for i := len(ctx.started) - 1; i >= 0; i-- {
		svcId := ctx.started[i]
		log.Info().Str("service", svcId).Msg("Shutting down")
		ctx.serviceMap[svcId].Shutdown()
	}
	ctx.started = nil
}

// Configure the given service
func (ctx *Context) Configure(svc Service) error {
	log.Info().Str("service", svc.Id()).Msg("Context Configure")

	if err := svc.Configure(ctx); err != nil {
		return err
	}

	return nil
}

// Start the given service
func (ctx *Context) Start(svc Service) error {
	log.Info().Str("service", svc.Id()).Msg("Context Start")

	if err := svc.Start(); err != nil {
		return err
	}

	return nil
}

func (ctx *Context) Services() []string {
	var keys []string
	for k := range ctx.serviceMap {
		keys = append(keys, k)
	}

	return keys
}
