package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept a YAML
// configuration node. Called after instantiation, before Provision.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that resolve collaborators and
// set defaults after instantiation. This is where a module pulls its
// dependencies from the AppContext service registry and registers the
// services it offers to modules loaded after it.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration
// is complete and correct. Called after Provision. Validate should be
// read-only, no side effects.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that run background work (the HTTP
// listener, the scheduling loop). Called after every module is
// provisioned and validated.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules that clean up resources. Called
// during shutdown in reverse load order.
type Stopper interface {
	Stop(ctx context.Context) error
}
