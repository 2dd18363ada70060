package context

// Service is a unit managed by a Context.
type Service interface {
	Id() string
	Configure(ctx *Context) error
	Start() error
	Shutdown()
}

// DefaultService gives embedding services no-op lifecycle hooks and access to
// their siblings through the owning Context.
type DefaultService struct {
	ctx *Context
}

func (svc *DefaultService) Configure(ctx *Context) error {
	svc.ctx = ctx
	return nil
}

func (svc *DefaultService) Start() error {
	return nil
}

func (svc *DefaultService) Shutdown() {}

// Service looks up a sibling service by id. Returns nil before Configure.
func (svc *DefaultService) Service(id string) Service {
	if svc.ctx == nil {
		return nil
	}
	return svc.ctx.Service(id)
}
