package engine

import (
	"fmt"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/backend/container"
	"github.com/crankshaft-oss/crankshaft/backend/generic"
)

// FromConfig builds and registers one backend per entry in cfgs, in order,
// returning the assembled Engine. A Docker-kind entry connects to a daemon
// configured from the environment; a Generic-kind entry renders its
// submit/monitor/kill templates per entry, as described by the "BackendConfig
// (consumed from external config loader)" contract.
func FromConfig(cfgs []backend.Config, opts ...Option) (*Engine, error) {
	e := New(opts...)

	for _, cfg := range cfgs {
		b, err := buildBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("engine: build backend %q: %w", cfg.Name, err)
		}
		e.WithBackend(cfg.Name, b)
	}

	return e, nil
}

func buildBackend(cfg backend.Config) (backend.Backend, error) {
	switch cfg.Kind {
	case backend.KindDocker:
		return container.NewFromEnv(cfg.Name)
	case backend.KindGeneric:
		if cfg.Generic == nil {
			return nil, fmt.Errorf("crankshaft: generic backend %q missing generic config", cfg.Name)
		}
		return generic.New(cfg.Name, *cfg.Generic, cfg.DefaultCPU, cfg.DefaultRAM, cfg.RuntimeAttrs)
	default:
		return nil, fmt.Errorf("crankshaft: unrecognized backend kind %q for %q", cfg.Kind, cfg.Name)
	}
}
