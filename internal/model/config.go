package model

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Verbose bool    `json:"verbose" yaml:"verbose"`
	Log     Log     `json:"log" yaml:"log"`
	Scenes  Scenes  `json:"scenes" yaml:"scenes"`
	Runtime Runtime `json:"runtime" yaml:"runtime"`
	Compose Compose `json:"compose" yaml:"compose"`
	Watch   Watch   `json:"watch" yaml:"watch"`
	Server  Server  `json:"server" yaml:"server"`
}

type Log struct {
	Format string `json:"format" yaml:"format"` // "json" | "text"
}

// Scenes points to the directory holding one sub-directory per scene.
type Scenes struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Runtime configures the container runtime connection.
type Runtime struct {
	Host string `json:"host" yaml:"host"` // e.g. unix:///var/run/docker.sock
}

// Compose configures the orchestration CLI, "docker compose" by default.
type Compose struct {
	Binary  string   `json:"binary" yaml:"binary"`
	Args    []string `json:"args" yaml:"args"`
	Timeout string   `json:"timeout" yaml:"timeout"`
}

// Watch holds the watcher intervals as duration strings.
type Watch struct {
	StatusInterval  string `json:"status_interval" yaml:"status_interval"`
	SceneInterval   string `json:"scene_interval" yaml:"scene_interval"`
	ResolveInterval string `json:"resolve_interval" yaml:"resolve_interval"`
	StopGrace       string `json:"stop_grace" yaml:"stop_grace"`
}

type Server struct {
	Listen string `json:"listen" yaml:"listen"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("workbench.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// DefaultConfig returns the schema defaults.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// ScenesDir returns the configured scenes directory, defaulting to
// ~/.dcompose-workbench/scenes.
func (c Config) ScenesDir() (string, error) {
	if c.Scenes.Dir != "" {
		return c.Scenes.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".dcompose-workbench", "scenes"), nil
}

// Durations parses the watch intervals. The schema guarantees the format.
func (w Watch) Durations() (WatchDurations, error) {
	var out WatchDurations
	for _, f := range []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"status_interval", w.StatusInterval, &out.Status},
		{"scene_interval", w.SceneInterval, &out.Scene},
		{"resolve_interval", w.ResolveInterval, &out.Resolve},
		{"stop_grace", w.StopGrace, &out.StopGrace},
	} {
		d, err := time.ParseDuration(f.in)
		if err != nil {
			return WatchDurations{}, fmt.Errorf("watch.%s: %w", f.name, err)
		}
		*f.out = d
	}
	return out, nil
}

type WatchDurations struct {
	Status    time.Duration
	Scene     time.Duration
	Resolve   time.Duration
	StopGrace time.Duration
}

func (c Compose) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("compose.timeout: %w", err)
	}
	return d, nil
}
