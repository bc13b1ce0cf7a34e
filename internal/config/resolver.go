package config

// CoreModuleOrder is the fixed load order for gatewayd's built-in modules.
// Unlike a plugin-oriented module map, this gateway's component graph is
// static: the supervisor must exist before the registry can probe, the
// scheduler needs both, the router needs the scheduler, and the gateway
// front end binds last.
var CoreModuleOrder = []string{
	"supervisor",
	"registry",
	"scheduler",
	"router",
	"gateway",
}
