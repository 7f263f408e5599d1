package kube

import (
	"context"
	"maps"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// SettingEndpoint is the engine setting that receives the address of a
// provisioned server.
const SettingEndpoint = "endpoint"

// Deployer is the part of Provisioner the runner hooks need.
type Deployer interface {
	Deploy(ctx context.Context, spec ServerSpec) (*ServerStatus, error)
	Teardown(ctx context.Context, engine string) error
}

// BeforeEngine returns a runner hook that deploys the server of engines
// with a server section and passes its address in the endpoint setting,
// unless the configuration already sets one.
func BeforeEngine(d Deployer) benchmark.BeforeEngineFunc {
	return func(ctx context.Context, cfg benchmark.EngineConfig) (benchmark.EngineConfig, error) {
		if cfg.Server == nil {
			return cfg, nil
		}
		status, err := d.Deploy(ctx, SpecFor(cfg))
		if err != nil {
			return cfg, err
		}
		settings := make(map[string]any, len(cfg.Settings)+1)
		maps.Copy(settings, cfg.Settings)
		if _, ok := settings[SettingEndpoint]; !ok {
			settings[SettingEndpoint] = status.Endpoint
		}
		cfg.Settings = settings
		return cfg, nil
	}
}

// AfterEngine returns a runner hook that tears the server down again.
func AfterEngine(d Deployer) benchmark.AfterEngineFunc {
	return func(ctx context.Context, cfg benchmark.EngineConfig) error {
		if cfg.Server == nil {
			return nil
		}
		return d.Teardown(ctx, cfg.Name)
	}
}
