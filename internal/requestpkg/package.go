// Package requestpkg turns declarative HTTP request definitions into
// providers. Each Set is one provider and each Package one of its actions.
package requestpkg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/opentalon/commandcenter/internal/agent"
)

// DefaultTimeout is the HTTP client timeout when a Set does not set one.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Package defines one action: an HTTP request whose URL, body and headers
// are templated with {{env.X}} and {{args.Y}}.
type Package struct {
	Action      string            `yaml:"action"`
	Description string            `yaml:"description"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Body        string            `yaml:"body"`
	Headers     map[string]string `yaml:"headers"`
	RequiredEnv []string          `yaml:"required_env"`
	// Parameters name the positional args in order. Any parameter may also
	// be passed as --name=value.
	Parameters []ParamDefinition `yaml:"parameters"`
	// ResultField, when set, returns that top-level field of a JSON reply
	// instead of the whole body.
	ResultField string   `yaml:"result_field"`
	Examples    []string `yaml:"examples"`
}

type ParamDefinition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
}

// Set groups request packages under one provider name.
type Set struct {
	Provider    string    `yaml:"provider"`
	Description string    `yaml:"description"`
	Timeout     string    `yaml:"timeout"`
	Packages    []Package `yaml:"packages"`
}

var (
	envRe  = regexp.MustCompile(`\{\{env\.(\w+)\}\}`)
	argsRe = regexp.MustCompile(`\{\{args\.(\w+)\}\}`)
)

// Substitute replaces {{env.X}} and {{args.Y}} in s. Missing env vars are
// empty; missing args are left as literal.
func Substitute(s string, args map[string]string) string {
	return substitute(s, args, nil)
}

func substitute(s string, args map[string]string, escape func(string) string) string {
	s = envRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRe.FindStringSubmatch(match)[1])
	})
	return argsRe.ReplaceAllStringFunc(s, func(match string) string {
		v, ok := args[argsRe.FindStringSubmatch(match)[1]]
		if !ok {
			return match
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

// jsonEscape returns v escaped for use inside a JSON string literal.
func jsonEscape(v string) string {
	data, _ := json.Marshal(v)
	return string(data[1 : len(data)-1])
}

// Provider runs the request packages of one Set.
type Provider struct {
	set      Set
	packages map[string]Package
	client   *http.Client
}

// New builds a provider for set. A nil client gets one with the set's timeout.
func New(set Set, client *http.Client) (*Provider, error) {
	if set.Provider == "" {
		return nil, fmt.Errorf("request package: provider name is required")
	}
	if client == nil {
		timeout := DefaultTimeout
		if set.Timeout != "" {
			d, err := time.ParseDuration(set.Timeout)
			if err != nil {
				return nil, fmt.Errorf("request package %q: timeout: %w", set.Provider, err)
			}
			timeout = d
		}
		client = &http.Client{Timeout: timeout}
	}
	pm := make(map[string]Package, len(set.Packages))
	for _, p := range set.Packages {
		if p.Action == "" || p.URL == "" {
			return nil, fmt.Errorf("request package %q: action and url are required", set.Provider)
		}
		if _, dup := pm[p.Action]; dup {
			return nil, fmt.Errorf("request package %q: duplicate action %q", set.Provider, p.Action)
		}
		pm[p.Action] = p
	}
	return &Provider{set: set, packages: pm, client: client}, nil
}

func (p *Provider) Name() string        { return p.set.Provider }
func (p *Provider) Description() string { return p.set.Description }

func (p *Provider) Describe() agent.Catalog {
	descs := make([]agent.CapabilityDescriptor, 0, len(p.set.Packages))
	for _, pkg := range p.set.Packages {
		descs = append(descs, agent.CapabilityDescriptor{
			Name:        pkg.Action,
			Description: pkg.Description,
			Usage:       usage(p.set.Provider, pkg),
			Examples:    pkg.Examples,
		})
	}
	return agent.NewCatalog(descs...)
}

func usage(provider string, pkg Package) string {
	parts := []string{provider, pkg.Action}
	for _, q := range pkg.Parameters {
		if q.Required {
			parts = append(parts, "<"+q.Name+">")
		} else {
			parts = append(parts, "["+q.Name+"]")
		}
	}
	return strings.Join(parts, " ")
}

// BindArgs maps args onto the package parameters. --name=value binds by name;
// remaining tokens fill unbound parameters in declaration order.
func BindArgs(pkg Package, args []string) (map[string]string, error) {
	bound := make(map[string]string, len(pkg.Parameters))
	var positional []string
	for _, a := range args {
		if body, ok := strings.CutPrefix(a, "--"); ok && body != "" {
			k, v, hasValue := strings.Cut(body, "=")
			if !hasValue {
				v = "true"
			}
			bound[k] = v
			continue
		}
		positional = append(positional, a)
	}
	for _, q := range pkg.Parameters {
		if _, ok := bound[q.Name]; ok {
			continue
		}
		if len(positional) > 0 {
			bound[q.Name] = positional[0]
			positional = positional[1:]
			continue
		}
		if q.Default != "" {
			bound[q.Name] = q.Default
			continue
		}
		if q.Required {
			return nil, agent.Errorf("missing required parameter %q", q.Name)
		}
	}
	if len(positional) > 0 {
		if len(pkg.Parameters) == 0 {
			return nil, agent.Errorf("%s takes no arguments", pkg.Action)
		}
		// The last parameter absorbs any overflow, so free text works unquoted.
		last := pkg.Parameters[len(pkg.Parameters)-1].Name
		if v, ok := bound[last]; ok {
			positional = append([]string{v}, positional...)
		}
		bound[last] = strings.Join(positional, " ")
	}
	return bound, nil
}

// Execute runs the package for action.
func (p *Provider) Execute(ctx context.Context, action string, args []string) (string, error) {
	pkg, ok := p.packages[action]
	if !ok {
		return "", agent.Errorf("action %q not found in request package %q", action, p.set.Provider)
	}
	for _, name := range pkg.RequiredEnv {
		if os.Getenv(name) == "" {
			return "", agent.Errorf("required env %q is not set", name)
		}
	}
	bound, err := BindArgs(pkg, args)
	if err != nil {
		return "", err
	}

	url := Substitute(pkg.URL, bound)
	if url == "" {
		return "", agent.Errorf("URL is empty after substitution")
	}
	method := strings.ToUpper(pkg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	jsonBody := false
	if pkg.Body != "" {
		ct := ""
		for k, v := range pkg.Headers {
			if strings.EqualFold(k, "Content-Type") {
				ct = v
			}
		}
		jsonBody = ct == "" || strings.Contains(ct, "json")
		escape := jsonEscape
		if !jsonBody {
			escape = nil
		}
		body = strings.NewReader(substitute(pkg.Body, bound, escape))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range pkg.Headers {
		req.Header.Set(k, Substitute(v, bound))
	}
	if jsonBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return extract(pkg, resp.Header.Get("Content-Type"), data), nil
}

func extract(pkg Package, contentType string, data []byte) string {
	if pkg.ResultField == "" || !strings.Contains(contentType, "json") {
		return string(data)
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return string(data)
	}
	switch v := m[pkg.ResultField].(type) {
	case nil:
		return string(data)
	case string:
		return v
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return string(data)
		}
		return string(out)
	}
}
