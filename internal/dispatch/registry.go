package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/command"
)

// ErrSealed is returned by registration after Seal.
var ErrSealed = errors.New("registry is sealed")

// BuiltinFunc handles a built-in command.
type BuiltinFunc func(ctx context.Context, cmd command.Structured) Result

// Builtin is a command handled inside the process rather than by a provider.
type Builtin struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	// Subcommands marks built-ins whose second token is a subcommand.
	Subcommands bool
	Handler     BuiltinFunc
}

type entry struct {
	provider agent.Provider
	catalog  agent.Catalog
}

// Registry holds built-ins and providers. It is populated at startup and
// then sealed; after Seal it is read without locking.
type Registry struct {
	mu        sync.RWMutex
	sealed    atomic.Bool
	builtins  map[string]Builtin
	providers map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		builtins:  make(map[string]Builtin),
		providers: make(map[string]entry),
	}
}

// Register adds a provider. Its catalog is captured once here.
func (r *Registry) Register(p agent.Provider) error {
	if p == nil {
		return fmt.Errorf("register: nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("register: provider has no name")
	}
	if name == command.Error {
		return fmt.Errorf("register: %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register provider %q: %w", name, ErrSealed)
	}
	if _, exists := r.builtins[name]; exists {
		return fmt.Errorf("provider %q collides with a built-in", name)
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	src := p.Describe()
	cat := make(agent.Catalog, len(src))
	for k, v := range src {
		v.Examples = append([]string(nil), v.Examples...)
		cat[k] = v
	}
	r.providers[name] = entry{provider: p, catalog: cat}
	return nil
}

// RegisterBuiltin adds a built-in command.
func (r *Registry) RegisterBuiltin(b Builtin) error {
	if b.Name == "" || b.Handler == nil {
		return fmt.Errorf("register built-in: name and handler are required")
	}
	if b.Name == command.Error {
		return fmt.Errorf("register: %q is reserved", b.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register built-in %q: %w", b.Name, ErrSealed)
	}
	if _, exists := r.providers[b.Name]; exists {
		return fmt.Errorf("built-in %q collides with a provider", b.Name)
	}
	if _, exists := r.builtins[b.Name]; exists {
		return fmt.Errorf("built-in %q already registered", b.Name)
	}
	r.builtins[b.Name] = b
	return nil
}

// Seal freezes the registry. Further registration fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool { return r.sealed.Load() }

func (r *Registry) read(fn func()) {
	if r.sealed.Load() {
		fn()
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}

func (r *Registry) Provider(name string) (agent.Provider, bool) {
	var e entry
	var ok bool
	r.read(func() { e, ok = r.providers[name] })
	return e.provider, ok
}

func (r *Registry) Builtin(name string) (Builtin, bool) {
	var b Builtin
	var ok bool
	r.read(func() { b, ok = r.builtins[name] })
	return b, ok
}

// Catalog returns the provider's captured catalog. Callers must not modify it.
func (r *Registry) Catalog(name string) (agent.Catalog, bool) {
	var e entry
	var ok bool
	r.read(func() { e, ok = r.providers[name] })
	return e.catalog, ok
}

// HasAction reports whether provider declares action.
func (r *Registry) HasAction(provider, action string) bool {
	cat, ok := r.Catalog(provider)
	return ok && cat.Has(action)
}

// Names returns every built-in and provider name, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.read(func() {
		names = make([]string, 0, len(r.builtins)+len(r.providers))
		for n := range r.builtins {
			names = append(names, n)
		}
		for n := range r.providers {
			names = append(names, n)
		}
	})
	sort.Strings(names)
	return names
}

func (r *Registry) ProviderNames() []string {
	var names []string
	r.read(func() {
		for n := range r.providers {
			names = append(names, n)
		}
	})
	sort.Strings(names)
	return names
}

func (r *Registry) BuiltinNames() []string {
	var names []string
	r.read(func() {
		for n := range r.builtins {
			names = append(names, n)
		}
	})
	sort.Strings(names)
	return names
}

// AgentCommands lists the names that take a subcommand: every provider
// and every built-in declared with Subcommands.
func (r *Registry) AgentCommands() []string {
	var names []string
	r.read(func() {
		for n := range r.providers {
			names = append(names, n)
		}
		for n, b := range r.builtins {
			if b.Subcommands {
				names = append(names, n)
			}
		}
	})
	sort.Strings(names)
	return names
}

// Describe returns the catalog handed to the NLU collaborator: for each
// provider its description and actions, for each built-in its usage.
func (r *Registry) Describe() map[string]any {
	out := map[string]any{}
	r.read(func() {
		for n, e := range r.providers {
			actions := map[string]any{}
			for a, d := range e.catalog {
				actions[a] = map[string]any{"description": d.Description, "usage": d.Usage}
			}
			out[n] = map[string]any{"description": e.provider.Description(), "actions": actions}
		}
		for n, b := range r.builtins {
			out[n] = map[string]any{"description": b.Description, "usage": b.Usage}
		}
	})
	return out
}
