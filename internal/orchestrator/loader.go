package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/opentalon/commandcenter/internal/config"
	"github.com/opentalon/commandcenter/internal/lua"
)

var templateRe = regexp.MustCompile(`\{\{\s*(ctx|env)\.([\w.-]+)\s*\}\}`)

// Render substitutes {{ctx.key}} with c.String(key) and {{env.NAME}} with
// the environment variable. Unknown keys render as "".
func Render(tmpl string, c Context) string {
	return templateRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		m := templateRe.FindStringSubmatch(match)
		if m[1] == "env" {
			return os.Getenv(m[2])
		}
		return c.String(m[2])
	})
}

// TemplateInput renders each template into one arg.
func TemplateInput(templates []string) InputMapping {
	templates = append([]string(nil), templates...)
	return func(c Context) ([]string, error) {
		out := make([]string, len(templates))
		for i, t := range templates {
			out[i] = Render(t, c)
		}
		return out, nil
	}
}

// ScriptInput evaluates s with the context exposed as ctx. Failed steps
// appear as a table with an error field.
func ScriptInput(s *lua.Script) InputMapping {
	return func(c Context) ([]string, error) {
		vars := make(map[string]any, len(c))
		for k, v := range c {
			if f, ok := v.(StepFailure); ok {
				vars[k] = map[string]any{"error": f.Error}
				continue
			}
			vars[k] = v
		}
		return s.Eval(vars)
	}
}

// DefinitionFromConfig builds a Definition from its YAML form. Relative
// script files resolve against baseDir.
func DefinitionFromConfig(wc config.WorkflowConfig, baseDir string) (Definition, error) {
	def := Definition{
		Name:        wc.Name,
		Description: wc.Description,
		Requires:    wc.Requires,
		Persist: PersistSpec{
			Skip:      wc.Persist.Skip,
			KeyPrefix: wc.Persist.KeyPrefix,
			KeyField:  wc.Persist.KeyField,
			Fields:    wc.Persist.Fields,
			Category:  wc.Persist.Category,
		},
	}
	for _, sc := range wc.Steps {
		step := Step{
			Name:     sc.Name,
			Provider: sc.Provider,
			Action:   sc.Action,
			Policy:   Policy(sc.Policy),
		}
		switch {
		case sc.Script != "":
			s, err := lua.Compile(wc.Name+"/"+sc.Name, sc.Script)
			if err != nil {
				return Definition{}, fmt.Errorf("workflow %q step %q: %w", wc.Name, sc.Name, err)
			}
			step.Input = ScriptInput(s)
		case sc.ScriptFile != "":
			path := sc.ScriptFile
			if !filepath.IsAbs(path) && baseDir != "" {
				path = filepath.Join(baseDir, path)
			}
			s, err := lua.CompileFile(path)
			if err != nil {
				return Definition{}, fmt.Errorf("workflow %q step %q: %w", wc.Name, sc.Name, err)
			}
			step.Input = ScriptInput(s)
		case len(sc.Args) > 0:
			step.Input = TemplateInput(sc.Args)
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

// RegisterConfig builds and registers every workflow in wcs.
func (o *Orchestrator) RegisterConfig(wcs []config.WorkflowConfig, baseDir string) error {
	for _, wc := range wcs {
		def, err := DefinitionFromConfig(wc, baseDir)
		if err != nil {
			return err
		}
		if err := o.Register(def); err != nil {
			return err
		}
	}
	return nil
}
