package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/agent"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 5 * time.Second
	defaultStopGrace        = 5 * time.Second
)

// Entry configures one out-of-process provider. Exactly one of Path (a
// binary to launch) or Address ("unix:///path" or "tcp://host:port") is set.
type Entry struct {
	Name    string
	Path    string
	Args    []string
	Address string
	Enabled bool
}

type managed struct {
	entry   Entry
	process *Process
	client  *Client
}

// Manager launches or connects configured providers and owns their
// lifecycle.
type Manager struct {
	mu      sync.Mutex
	plugins map[string]*managed
	logger  *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{plugins: make(map[string]*managed), logger: logger}
}

// LoadAll loads every enabled entry and returns the resulting providers.
// Providers that fail to load are reported together; the ones that did
// load are still returned.
func (m *Manager) LoadAll(ctx context.Context, entries []Entry) ([]agent.Provider, error) {
	var (
		out  []agent.Provider
		errs []error
	)
	for _, e := range entries {
		if !e.Enabled {
			m.logger.Info("provider disabled, skipping", zap.String("provider", e.Name))
			continue
		}
		p, err := m.Load(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// Load launches or connects a single provider.
func (m *Manager) Load(ctx context.Context, entry Entry) (agent.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[entry.Name]; exists {
		return nil, fmt.Errorf("provider %q already loaded", entry.Name)
	}

	var (
		client *Client
		proc   *Process
		err    error
		mode   string
	)
	switch {
	case entry.Path != "" && entry.Address != "":
		return nil, fmt.Errorf("provider %q: set either path or address, not both", entry.Name)
	case entry.Path != "":
		mode = "binary"
		proc, client, err = m.launchBinary(ctx, entry)
	case entry.Address != "":
		mode = "remote"
		client, err = m.connectRemote(ctx, entry)
	default:
		return nil, fmt.Errorf("provider %q: path or address is required", entry.Name)
	}
	if err != nil {
		return nil, err
	}
	if client.name == "" {
		client.name = entry.Name
	}

	m.plugins[entry.Name] = &managed{entry: entry, process: proc, client: client}
	m.logger.Info("provider loaded",
		zap.String("provider", client.Name()),
		zap.String("mode", mode),
		zap.Int("actions", len(client.Describe())),
	)
	return client, nil
}

func (m *Manager) launchBinary(ctx context.Context, entry Entry) (*Process, *Client, error) {
	proc := NewProcess(m.logger.With(zap.String("provider", entry.Name)), entry.Path, entry.Args...)
	hs, err := proc.Start(ctx, defaultHandshakeTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", entry.Name, err)
	}
	client, err := DialFromHandshake(ctx, hs, defaultDialTimeout)
	if err != nil {
		_ = proc.Stop(defaultStopGrace)
		return nil, nil, fmt.Errorf("dial %s: %w", entry.Name, err)
	}
	return proc, client, nil
}

func (m *Manager) connectRemote(ctx context.Context, entry Entry) (*Client, error) {
	network, addr, err := ParseAddress(entry.Address)
	if err != nil {
		return nil, err
	}
	client, err := Dial(ctx, network, addr, defaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect remote %s at %s: %w", entry.Name, entry.Address, err)
	}
	return client, nil
}

// ParseAddress splits "unix:///path" or "tcp://host:port". A bare
// host:port is tcp.
func ParseAddress(addr string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(addr, "unix://"):
		network, address = "unix", strings.TrimPrefix(addr, "unix://")
	case strings.HasPrefix(addr, "tcp://"):
		network, address = "tcp", strings.TrimPrefix(addr, "tcp://")
	case strings.Contains(addr, "://"):
		return "", "", fmt.Errorf("unsupported provider address %q (want unix:// or tcp://)", addr)
	default:
		network, address = "tcp", addr
	}
	if address == "" {
		return "", "", fmt.Errorf("empty provider address %q", addr)
	}
	return network, address, nil
}

// Unload closes a provider connection and stops its process.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	mg, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("provider %q not loaded", name)
	}
	delete(m.plugins, name)
	m.mu.Unlock()

	if mg.client != nil {
		_ = mg.client.Close()
	}
	if mg.process != nil {
		return mg.process.Stop(defaultStopGrace)
	}
	return nil
}

// StopAll gracefully shuts down all managed providers.
func (m *Manager) StopAll() {
	for _, name := range m.List() {
		if err := m.Unload(name); err != nil {
			m.logger.Warn("unload provider", zap.String("provider", name), zap.Error(err))
		}
	}
}

// List returns the names of all loaded providers, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
