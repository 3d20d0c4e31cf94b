// Package configurator looks up configuration sources by name. Sources
// register themselves from init, see localfile.
package configurator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/liam-kelly/luna-sysmgr/configuration"
)

type Factory interface {
	Open(path string) (Configurator, error)
}

type FactoryFunc func(path string) (Configurator, error)

func (f FactoryFunc) Open(path string) (Configurator, error) {
	return f(path)
}

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Names lists the registered sources.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Configurator interface {
	Get(ctx context.Context) (*configuration.Config, error)
}

func Open(name, path string) (Configurator, error) {
	mu.Lock()
	defer mu.Unlock()

	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown configuration source %q", name)
	}
	return factory.Open(path)
}

// OpenSpec opens a "<source>:<path>" spec such as "file:/etc/sentinel.yaml".
// The path may be empty for sources that do not need one.
func OpenSpec(spec string) (Configurator, error) {
	name, path, _ := strings.Cut(spec, ":")
	return Open(name, path)
}

// Load opens spec, fetches the config and validates it.
func Load(ctx context.Context, spec string) (*configuration.Config, error) {
	cfg, err := OpenSpec(spec)
	if err != nil {
		return nil, err
	}
	config, err := cfg.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}
	return config, nil
}
