package agentgrid

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/scheduler"
	"github.com/agentgrid-dev/agentgrid/state"
	"github.com/agentgrid-dev/agentgrid/transport"
)

// BackendConfig selects a pluggable backend by its registered alias. Every
// other key in the section is passed to the backend factory untouched.
type BackendConfig struct {
	Class  string         `yaml:"class"`
	Params map[string]any `yaml:",inline"`
}

// BootstrapConfig lists agents to create at startup, id to type name. Agents
// that already exist are left alone.
type BootstrapConfig struct {
	Agents map[string]string `yaml:"agents"`
}

// Config is the YAML configuration of a host process.
type Config struct {
	Logging logging.Config `yaml:"logging"`

	// Listen is the address the transport handlers and the metrics endpoint
	// are served on.
	Listen string `yaml:"listen"`

	// LocalShortcut toggles in-process dispatch; nil means enabled.
	LocalShortcut *bool `yaml:"local_shortcut"`

	State *BackendConfig `yaml:"state"`
	// Context is the obsolete name of the state section.
	Context *BackendConfig `yaml:"context"`

	TransportServices []BackendConfig `yaml:"transport_services"`
	// Services is the obsolete name of the transport_services section.
	Services []BackendConfig `yaml:"services"`

	Scheduler *BackendConfig `yaml:"scheduler"`

	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// fileReader reads config bytes, replaceable in tests.
var fileReader = os.ReadFile

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := fileReader(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// NewFromConfig builds and boots a host from cfg. Backends are wired in a
// fixed order: state first, then transports, then the scheduler, then the
// bootstrap agents. A backend that fails to construct is logged and left
// unset rather than aborting the whole host, so one bad section does not take
// the process down with it.
func NewFromConfig(ctx context.Context, cfg *Config) (*Host, error) {
	log := logging.For("config")

	var opts []Option
	if cfg.LocalShortcut != nil {
		opts = append(opts, WithLocalShortcut(*cfg.LocalShortcut))
	}
	h := New(opts...)

	stateCfg := cfg.State
	if stateCfg == nil && cfg.Context != nil {
		log.Warn().Msg("config section 'context' is deprecated, please rename it to 'state'")
		stateCfg = cfg.Context
	}
	if stateCfg == nil {
		stateCfg = &BackendConfig{Class: "MemoryStateFactory"}
	}
	store, err := state.New(stateCfg.Class, stateCfg.Params)
	if err != nil {
		log.Error().Err(err).Strs("available", state.Aliases()).
			Msg("cannot initialize state store")
	} else {
		h.SetStore(store)
	}

	transportCfgs := cfg.TransportServices
	if len(transportCfgs) == 0 && len(cfg.Services) > 0 {
		log.Warn().Msg("config section 'services' is deprecated, please rename it to 'transport_services'")
		transportCfgs = cfg.Services
	}
	for i, tc := range transportCfgs {
		svc, err := transport.New(tc.Class, h, tc.Params)
		if err != nil {
			log.Error().Err(err).Int("index", i).Msg("cannot initialize transport service")
			continue
		}
		h.AddTransport(svc)
	}
	// An outbound-only HTTP transport is always available, so agents can
	// reach remote peers even with an empty transport section.
	if _, err := h.transportFor("http://"); err != nil {
		svc, err := transport.New("HttpService", h, nil)
		if err != nil {
			log.Error().Err(err).Msg("cannot initialize default http transport")
		} else {
			h.AddTransport(svc)
		}
	}

	schedCfg := cfg.Scheduler
	if schedCfg == nil {
		schedCfg = &BackendConfig{Class: "RunnableSchedulerFactory"}
	}
	factory, err := scheduler.New(schedCfg.Class, h, schedCfg.Params)
	if err != nil {
		log.Error().Err(err).Msg("cannot initialize scheduler factory")
	} else {
		h.SetSchedulerFactory(factory)
	}

	for id, typeName := range cfg.Bootstrap.Agents {
		exists, err := h.HasAgent(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("agent", id).Str("type", typeName).
				Msg("cannot check bootstrap agent")
			continue
		}
		if exists {
			continue
		}
		a, err := h.CreateAgent(ctx, typeName, id)
		if err != nil {
			log.Error().Err(err).Str("agent", id).Str("type", typeName).
				Msg("cannot create bootstrap agent")
			continue
		}
		a.Destroy()
	}

	if _, err := h.Store(); err == nil {
		if err := h.Boot(ctx); err != nil {
			log.Error().Err(err).Msg("boot failed")
		}
	}
	return h, nil
}
