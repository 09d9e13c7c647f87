// Package presets resolves style, material and lighting presets and the
// LoRA/refiner profiles a job may reference by name.
package presets

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"renderstudio/internal/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Reference ties a parameter key to the registry kind it names and the key
// under which the resolved config is embedded in the job parameters.
type Reference struct {
	Param     string
	Kind      string
	ConfigKey string
}

// References lists every parameter resolved through the registry.
var References = []Reference{
	{Param: "style_preset", Kind: "style", ConfigKey: "style_config"},
	{Param: "material_preset", Kind: "material", ConfigKey: "material_config"},
	{Param: "lighting_preset", Kind: "lighting", ConfigKey: "lighting_config"},
	{Param: "lora_profile", Kind: "lora", ConfigKey: "lora_config"},
	{Param: "refiner_profile", Kind: "refiner", ConfigKey: "refiner_config"},
}

// Entry is one named preset.
type Entry struct {
	Name   string         `json:"name"`
	Label  string         `json:"label"`
	Config map[string]any `json:"config"`
}

// Registry is an immutable lookup of presets by kind and name.
type Registry struct {
	kinds map[string]map[string]map[string]any
}

// Defaults returns the registry built into the binary.
func Defaults() (*Registry, error) {
	return Parse(defaultsYAML)
}

// Load reads a registry file. An empty path selects the built-in defaults.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("presets: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document of kind -> name -> config.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("presets: parse: %w", err)
	}
	kinds := make(map[string]map[string]map[string]any, len(raw))
	for kind, entries := range raw {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kinds[kind] == nil {
			kinds[kind] = make(map[string]map[string]any, len(entries))
		}
		for name, cfg := range entries {
			if cfg == nil {
				cfg = map[string]any{}
			}
			kinds[kind][strings.TrimSpace(name)] = cfg
		}
	}
	return &Registry{kinds: kinds}, nil
}

// Kinds returns the known kinds sorted by name.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// HasKind reports whether kind is present.
func (r *Registry) HasKind(kind string) bool {
	_, ok := r.kinds[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

// Lookup returns the config of name within kind.
func (r *Registry) Lookup(kind, name string) (map[string]any, bool) {
	entries, ok := r.kinds[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, false
	}
	cfg, ok := entries[strings.TrimSpace(name)]
	return cfg, ok
}

// Names returns the preset names of kind sorted alphabetically.
func (r *Registry) Names(kind string) []string {
	entries := r.kinds[strings.ToLower(strings.TrimSpace(kind))]
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns the presets of kind with display labels.
func (r *Registry) Entries(kind string) []Entry {
	names := r.Names(kind)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		cfg, _ := r.Lookup(kind, name)
		out = append(out, Entry{Name: name, Label: label(name, cfg), Config: cfg})
	}
	return out
}

// Resolve validates every preset reference in params and returns a copy with
// the found configs embedded. An unknown name yields domain.ErrUnknownPreset.
func (r *Registry) Resolve(params domain.Parameters) (domain.Parameters, error) {
	out := params.Clone()
	for _, ref := range References {
		name := params.String(ref.Param)
		if name == "" {
			continue
		}
		cfg, ok := r.Lookup(ref.Kind, name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown %s %q", domain.ErrUnknownPreset, ref.Param, name)
		}
		out[ref.ConfigKey] = cfg
	}
	return out, nil
}

func label(name string, cfg map[string]any) string {
	if l, ok := cfg["label"].(string); ok && strings.TrimSpace(l) != "" {
		return l
	}
	words := strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.English).String(words)
}
