package tool

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Tools []domain.ToolDefinition `yaml:"tools"`
}

// Binder produces the implementation for a catalog definition. The
// host-side operations are collaborators; the binder decides how each
// definition reaches them (host bridge, local store, meshy client).
type Binder func(def domain.ToolDefinition) domain.Tool

// LoadCatalog parses the embedded Blender tool catalog and registers
// every definition. It returns the number of registered tools and the
// names that failed, so startup can assert a non-empty registry instead
// of swallowing load errors.
func LoadCatalog(reg *Registry, bind Binder) (int, []string, error) {
	var file catalogFile
	if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
		return 0, nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	if len(file.Tools) == 0 {
		return 0, nil, fmt.Errorf("tool catalog is empty")
	}

	var failed []string
	count := 0
	for _, def := range file.Tools {
		if err := reg.Register(def, bind(def)); err != nil {
			failed = append(failed, def.Name)
			continue
		}
		count++
	}
	return count, failed, nil
}

// Catalog renders the given subset as a compact textual catalog for the
// structured-mode system prompt: one signature line per tool, required
// parameters marked with *, enums inlined in place of the type.
func (r *Registry) Catalog(subset []string) string {
	defs := r.Definitions(subset)
	if len(defs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== Available tools ===\n")
	b.WriteString("Call tools with XML tags:\n\n")
	b.WriteString("<tool_call name=\"tool_name\">\n")
	b.WriteString("  <param name=\"param_name\">value</param>\n")
	b.WriteString("</tool_call>\n\n")

	for _, def := range defs {
		sigs := make([]string, 0, len(def.Params))
		for _, p := range def.Params {
			typ := p.Type
			if len(p.Enum) > 0 {
				typ = strings.Join(p.Enum, "|")
			}
			star := ""
			if p.Required {
				star = "*"
			}
			sigs = append(sigs, fmt.Sprintf("%s%s:%s", p.Name, star, typ))
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", def.Name, strings.Join(sigs, ", "), def.Description)
	}

	b.WriteString("\nParameters marked * are required. Arrays and objects use JSON, e.g. [1,2,3].\n")
	b.WriteString("You may call several tools in one reply; they run in order.\n")
	return b.String()
}
