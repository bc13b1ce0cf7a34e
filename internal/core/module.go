package core

// ModuleID identifies a registered module, e.g. "registry", "supervisor",
// "scheduler", "router", "gateway".
type ModuleID string

// Module is the minimum interface every component of the daemon implements
// so it can be wired into the App lifecycle by ID rather than by import.
type Module interface {
	// ModuleInfo describes how to construct and identify this module.
	ModuleInfo() ModuleInfo
}

// ModuleInfo is the static descriptor a module registers with RegisterModule.
// New must return a fresh, zero-value instance each call; App.LoadModules
// calls it once per configured module ID.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}
