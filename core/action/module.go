package action

// Module groups actions under a common name, URL prefix and guards.
// Actions in a module are registered as "module.action".
type Module struct {
	Name        string
	Prefix      string
	Description string
	Guards      GuardSpec
	Actions     []*Definition
}
