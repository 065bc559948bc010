// Package usecase holds the static registry of conversational profiles. Each
// profile binds one system prompt, one farewell prompt and an optional marker
// that separates the spoken part of a structured reply.
package usecase

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed usecases.yaml
var builtin []byte

var ErrUnknown = errors.New("usecase: unknown use case")

type Profile struct {
	Key            string   `yaml:"-"`
	Name           string   `yaml:"name"`
	SystemPrompt   string   `yaml:"system_prompt"`
	FarewellPrompt string   `yaml:"farewell_prompt"`
	ResponseMarker string   `yaml:"response_marker"`
	DefaultAudio   string   `yaml:"default_audio"`
	Questions      []string `yaml:"questions"`
}

// Structured reports whether replies carry a private part before the marker.
func (p Profile) Structured() bool {
	return p.ResponseMarker != ""
}

// Question returns seed question n, counting from 1.
func (p Profile) Question(n int) (string, bool) {
	if n < 1 || n > len(p.Questions) {
		return "", false
	}
	return p.Questions[n-1], true
}

type Registry struct {
	def      string
	profiles map[string]Profile
}

type document struct {
	Default  string             `yaml:"default"`
	UseCases map[string]Profile `yaml:"usecases"`
}

// Builtin returns the registry compiled into the binary.
func Builtin() *Registry {
	r, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("usecase: builtin registry: %v", err))
	}
	return r
}

// Load reads a registry file. An empty path yields the builtin registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("usecase: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("usecase: decode registry: %w", err)
	}
	if len(doc.UseCases) == 0 {
		return nil, errors.New("usecase: registry has no use cases")
	}

	r := &Registry{profiles: make(map[string]Profile, len(doc.UseCases))}
	for key, p := range doc.UseCases {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errors.New("usecase: empty use case key")
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			return nil, fmt.Errorf("usecase: %s: system_prompt is required", key)
		}
		if strings.TrimSpace(p.FarewellPrompt) == "" {
			return nil, fmt.Errorf("usecase: %s: farewell_prompt is required", key)
		}
		if p.Name == "" {
			p.Name = key
		}
		p.Key = key
		r.profiles[key] = p
	}

	r.def = doc.Default
	if r.def == "" {
		r.def = r.Keys()[0]
	}
	if _, ok := r.profiles[r.def]; !ok {
		return nil, fmt.Errorf("usecase: default %q is not defined", r.def)
	}
	return r, nil
}

// Get looks up a profile; an empty key selects the registry default.
func (r *Registry) Get(key string) (Profile, error) {
	if key == "" {
		key = r.def
	}
	p, ok := r.profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknown, key, strings.Join(r.Keys(), ", "))
	}
	return p, nil
}

func (r *Registry) Default() string {
	return r.def
}

// Keys returns the use case keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
