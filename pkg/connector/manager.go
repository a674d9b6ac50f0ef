package connector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// defaultRatePerMinute bounds source calls when a definition does not
// set its own limit.
const defaultRatePerMinute = 60

// Definition is one connector entry in the connectors file.
type Definition struct {
	Name          string         `yaml:"name"`
	Kind          Kind           `yaml:"kind"`
	RatePerMinute int            `yaml:"rate_per_minute,omitempty"`
	Config        map[string]any `yaml:"config"`
}

// SyncHistoryEntry is one recorded sync, successful or not.
type SyncHistoryEntry struct {
	ConnectorName string         `json:"connector_name"`
	Kind          Kind           `json:"connector_kind"`
	Timestamp     time.Time      `json:"timestamp"`
	Success       bool           `json:"success"`
	Records       map[string]int `json:"records_processed"`
	Duration      time.Duration  `json:"duration"`
	Errors        []string       `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// Manager is the named registry of configured connectors. It builds
// instances from definitions, runs syncs and keeps their history.
type Manager struct {
	loader Loader
	log    *slog.Logger

	mu         sync.Mutex
	connectors map[string]*Connector
	history    []SyncHistoryEntry
}

func NewManager(loader Loader) *Manager {
	return &Manager{
		loader:     loader,
		log:        slog.Default().With("component", "connector.manager"),
		connectors: map[string]*Connector{},
	}
}

// Register builds and registers one connector from its definition.
func (m *Manager) Register(def Definition) error {
	var source Source
	var err error
	switch def.Kind {
	case KindFileExport:
		source, err = NewFileExport(def.Config)
	case KindERP:
		source, err = NewERP(def.Config)
	default:
		return fmt.Errorf("connector: unknown kind %q", def.Kind)
	}
	if err != nil {
		return err
	}

	perMinute := def.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	limit := rate.Every(time.Minute / time.Duration(perMinute))

	m.mu.Lock()
	m.connectors[def.Name] = New(def.Name, source, m.loader, limit, perMinute)
	m.mu.Unlock()

	m.log.Info("connector registered", "name", def.Name, "kind", string(def.Kind))
	return nil
}

// LoadFile registers every definition in a YAML connectors file.
func (m *Manager) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("connector: read connectors file: %w", err)
	}
	var doc struct {
		Connectors []Definition `yaml:"connectors"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("connector: parse connectors file: %w", err)
	}
	for _, def := range doc.Connectors {
		if err := m.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a registered connector by name.
func (m *Manager) Get(name string) (*Connector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[name]
	return c, ok
}

// List reports the status of every registered connector.
func (m *Manager) List() map[string]StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]StatusInfo, len(m.connectors))
	for name, c := range m.connectors {
		out[name] = c.Status()
	}
	return out
}

// Test probes one connector's source system.
func (m *Manager) Test(ctx context.Context, name string) error {
	c, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("connector: not registered: %s", name)
	}
	return c.TestConnection(ctx)
}

// Sync runs one connector and records the outcome in the history. An
// unknown name yields a failed result, mirroring how sync failures are
// reported.
func (m *Manager) Sync(ctx context.Context, name string, opts ExtractOptions) *SyncResult {
	c, ok := m.Get(name)
	if !ok {
		return &SyncResult{
			Success:   false,
			Name:      name,
			Timestamp: time.Now().UTC(),
			Records:   map[string]int{},
			Errors:    []string{fmt.Sprintf("connector not registered: %s", name)},
		}
	}

	result := c.Sync(ctx, opts)

	m.mu.Lock()
	m.history = append(m.history, SyncHistoryEntry{
		ConnectorName: name,
		Kind:          result.Kind,
		Timestamp:     result.Timestamp,
		Success:       result.Success,
		Records:       result.Records,
		Duration:      result.Duration,
		Errors:        result.Errors,
		Warnings:      result.Warnings,
	})
	m.mu.Unlock()
	return result
}

// History returns the most recent syncs, optionally filtered by
// connector name.
func (m *Manager) History(name string, limit int) []SyncHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SyncHistoryEntry
	for _, h := range m.history {
		if name == "" || h.ConnectorName == name {
			out = append(out, h)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
