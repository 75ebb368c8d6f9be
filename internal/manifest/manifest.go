// Package manifest reads and writes the compose files scenes are made of.
// Only the keys the workbench edits are typed; everything else round-trips
// through the Extra maps.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// FileName is the manifest name inside a scene directory.
const FileName = "docker-compose.yml"

// TypeLabel marks the kind of a service for the UI.
const TypeLabel = "serviceType"

type File struct {
	Name     string             `yaml:"name,omitempty"`
	Include  []Include          `yaml:"include,omitempty"`
	Services map[string]Service `yaml:"services"`
	Extra    map[string]any     `yaml:",inline"`
}

type Service struct {
	Labels    Labels         `yaml:"labels,omitempty"`
	DependsOn DependsOn      `yaml:"depends_on,omitempty"`
	Extra     map[string]any `yaml:",inline"`
}

// Type returns the serviceType label.
func (s Service) Type() string {
	return s.Labels[TypeLabel]
}

// ServiceIDs returns the sorted ids of the services defined directly in f.
func (f *File) ServiceIDs() []string {
	ids := make([]string, 0, len(f.Services))
	for id := range f.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IncludePaths flattens every include entry into its paths.
func (f *File) IncludePaths() []string {
	var out []string
	for _, inc := range f.Include {
		out = append(out, inc.Path...)
	}
	return out
}

// RemoveInclude drops path from every include entry, and entries left
// without a path. It reports whether anything was removed.
func (f *File) RemoveInclude(path string) bool {
	removed := false
	kept := f.Include[:0]
	for _, inc := range f.Include {
		n := len(inc.Path)
		inc.Path = slices.DeleteFunc(inc.Path, func(p string) bool { return p == path })
		if len(inc.Path) != n {
			removed = true
		}
		if len(inc.Path) > 0 {
			kept = append(kept, inc)
		}
	}
	f.Include = kept
	return removed
}

// Include is an entry of the top level include list. The short form is a
// single path string, the long form an object whose path is a string or a
// list.
type Include struct {
	Path             []string
	ProjectDirectory string
	EnvFile          []string
}

type includeObject struct {
	Path             stringOrList `yaml:"path"`
	ProjectDirectory string       `yaml:"project_directory,omitempty"`
	EnvFile          stringOrList `yaml:"env_file,omitempty"`
}

func (i *Include) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		i.Path = []string{n.Value}
		return nil
	}
	var obj includeObject
	if err := n.Decode(&obj); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	if len(obj.Path) == 0 {
		return errors.New("include: missing path")
	}
	i.Path = obj.Path
	i.ProjectDirectory = obj.ProjectDirectory
	i.EnvFile = obj.EnvFile
	return nil
}

func (i Include) MarshalYAML() (any, error) {
	if len(i.Path) == 1 && i.ProjectDirectory == "" && len(i.EnvFile) == 0 {
		return i.Path[0], nil
	}
	return includeObject{
		Path:             i.Path,
		ProjectDirectory: i.ProjectDirectory,
		EnvFile:          i.EnvFile,
	}, nil
}

type stringOrList []string

func (s *stringOrList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*s = []string{n.Value}
		return nil
	}
	var l []string
	if err := n.Decode(&l); err != nil {
		return err
	}
	*s = l
	return nil
}

func (s stringOrList) MarshalYAML() (any, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	return []string(s), nil
}

// Labels accepts both the map and the "key=value" list form.
type Labels map[string]string

func (l *Labels) UnmarshalYAML(n *yaml.Node) error {
	out := make(Labels)
	switch n.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		for _, item := range items {
			k, v, _ := strings.Cut(item, "=")
			out[k] = v
		}
	default:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	*l = out
	return nil
}

type Condition string

const (
	ConditionStarted   Condition = "service_started"
	ConditionHealthy   Condition = "service_healthy"
	ConditionCompleted Condition = "service_completed_successfully"
	defaultCondition             = ConditionStarted
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionStarted, ConditionHealthy, ConditionCompleted:
		return true
	}
	return false
}

type Dependency struct {
	Condition Condition `yaml:"condition"`
	Restart   *bool     `yaml:"restart,omitempty"`
	Required  *bool     `yaml:"required,omitempty"`
}

// DependsOn accepts the short list form, which means service_started for
// every listed service, and the long map form. It is always written in the
// long form.
type DependsOn map[string]Dependency

func (d *DependsOn) UnmarshalYAML(n *yaml.Node) error {
	out := make(DependsOn)
	switch n.Kind {
	case yaml.SequenceNode:
		var ids []string
		if err := n.Decode(&ids); err != nil {
			return fmt.Errorf("depends_on: %w", err)
		}
		for _, id := range ids {
			out[id] = Dependency{Condition: defaultCondition}
		}
	default:
		var m map[string]Dependency
		if err := n.Decode(&m); err != nil {
			return fmt.Errorf("depends_on: %w", err)
		}
		for id, dep := range m {
			if dep.Condition == "" {
				dep.Condition = defaultCondition
			}
			out[id] = dep
		}
	}
	*d = out
	return nil
}

// IDs returns the sorted dependency ids.
func (d DependsOn) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parse decodes a compose file.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if f.Services == nil {
		f.Services = make(map[string]Service)
	}
	return &f, nil
}

// ParseService decodes the body of a single service, as edited in the UI.
func ParseService(code string) (Service, error) {
	var s Service
	if err := yaml.Unmarshal([]byte(code), &s); err != nil {
		return Service{}, fmt.Errorf("parsing service: %w", err)
	}
	return s, nil
}

// MarshalService encodes the body of a single service.
func MarshalService(s Service) (string, error) {
	b, err := marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding service: %w", err)
	}
	return string(b), nil
}

// Marshal encodes f with two space indentation.
func Marshal(f *File) ([]byte, error) {
	b, err := marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return b, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads the manifest at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Save atomically replaces the manifest at path.
func Save(path string, f *File) error {
	b, err := Marshal(f)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
