// Package engine owns the process-wide inference engine and creates it on
// first use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/menta2k/layout-ocr/pkg/client"
)

// ErrInit wraps any failure to bring the engine up
var ErrInit = errors.New("engine initialization failed")

// Factory builds an engine
type Factory func(ctx context.Context) (client.Engine, error)

// Manager initializes its engine lazily. A failed initialization is not
// cached, so the next call tries again.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	engine  client.Engine
	logger  hclog.Logger
}

// NewManager creates a manager that builds its engine with factory
func NewManager(factory Factory, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{factory: factory, logger: logger}
}

// Static returns a manager that always hands out e
func Static(e client.Engine) *Manager {
	return &Manager{engine: e, logger: hclog.NewNullLogger()}
}

// Ready returns the engine, creating it if needed
func (m *Manager) Ready(ctx context.Context) (client.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != nil {
		return m.engine, nil
	}
	if m.factory == nil {
		return nil, fmt.Errorf("%w: no engine configured", ErrInit)
	}

	m.logger.Info("initializing engine")
	e, err := m.factory(ctx)
	if err != nil {
		m.logger.Error("engine initialization failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: factory returned no engine", ErrInit)
	}
	m.engine = e
	m.logger.Info("engine ready")
	return e, nil
}

// Initialized reports whether the engine has been created
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine != nil
}

// Close releases the engine if it holds resources
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return nil
	}
	var err error
	if c, ok := m.engine.(client.Closer); ok {
		err = c.Close()
	}
	if m.factory != nil {
		m.engine = nil
	}
	return err
}
