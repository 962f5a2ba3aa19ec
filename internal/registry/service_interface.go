package registry

// Service is a component with a managed lifecycle. Start must return once the
// service is running; Stop releases everything Start acquired.
type Service interface {
	Start() error
	Stop() error
}
