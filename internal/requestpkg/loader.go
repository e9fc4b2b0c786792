package requestpkg

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opentalon/commandcenter/internal/agent"
)

// LoadDir loads all request package sets from a directory. Each .yaml file
// is one Set. A missing directory yields no sets.
func LoadDir(dir string) ([]Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read request_packages dir: %w", err)
	}
	var sets []Set
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var s Set
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if s.Provider == "" {
			return nil, fmt.Errorf("%s: missing provider name", path)
		}
		sets = append(sets, s)
	}
	return sets, nil
}

// Providers builds one provider per set, sharing client when non-nil.
func Providers(sets []Set, client *http.Client) ([]agent.Provider, error) {
	out := make([]agent.Provider, 0, len(sets))
	for _, set := range sets {
		p, err := New(set, client)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
