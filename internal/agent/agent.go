// Package agent defines the contract every capability provider implements.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CapabilityDescriptor describes one action a provider supports.
type CapabilityDescriptor struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Usage       string   `yaml:"usage,omitempty" json:"usage,omitempty"`
	Examples    []string `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// Catalog maps action name to its descriptor. Providers return the same
// catalog for their whole lifetime.
type Catalog map[string]CapabilityDescriptor

// Names returns the action names in lexical order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the catalog declares action.
func (c Catalog) Has(action string) bool {
	_, ok := c[action]
	return ok
}

// NewCatalog builds a catalog from descriptors. Later duplicates win.
func NewCatalog(descs ...CapabilityDescriptor) Catalog {
	c := make(Catalog, len(descs))
	for _, d := range descs {
		c[d.Name] = d
	}
	return c
}

// Provider is a pluggable capability unit. Execute must convert every
// internal failure into an error; returning a *StructuredError keeps the
// message verbatim for the caller.
type Provider interface {
	Name() string
	Description() string
	Describe() Catalog
	Execute(ctx context.Context, action string, args []string) (string, error)
}

// StructuredError is a provider failure with a user-facing message.
type StructuredError struct {
	Message string
}

func (e *StructuredError) Error() string { return e.Message }

// Errorf returns a *StructuredError with a formatted message.
func Errorf(format string, a ...any) error {
	return &StructuredError{Message: fmt.Sprintf(format, a...)}
}

// FormatCatalog renders a provider's catalog as a human-readable listing.
func FormatCatalog(p Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", p.Name(), p.Description())
	cat := p.Describe()
	if len(cat) == 0 {
		b.WriteString("  (no actions)\n")
		return b.String()
	}
	b.WriteString("Actions:\n")
	for _, name := range cat.Names() {
		d := cat[name]
		fmt.Fprintf(&b, "  %s - %s\n", name, d.Description)
		if d.Usage != "" {
			fmt.Fprintf(&b, "      usage: %s\n", d.Usage)
		}
	}
	return b.String()
}

// Func adapts a plain function into a Provider. Useful for small built-in
// providers and tests.
type Func struct {
	ProviderName string
	Desc         string
	Actions      Catalog
	Fn           func(ctx context.Context, action string, args []string) (string, error)
}

func (f *Func) Name() string        { return f.ProviderName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Describe() Catalog   { return f.Actions }

func (f *Func) Execute(ctx context.Context, action string, args []string) (string, error) {
	if f.Fn == nil {
		return "", Errorf("%s: %s is not implemented", f.ProviderName, action)
	}
	return f.Fn(ctx, action, args)
}
