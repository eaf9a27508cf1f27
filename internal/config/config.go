package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "geninst://config.schema.json"

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "geninst.yaml"

type Config struct {
	Project struct {
		Root             string   `yaml:"root" json:"root"`
		ModulePath       string   `yaml:"module_path" json:"module_path,omitempty"` // read from go.mod when empty
		GeneratedDir     string   `yaml:"generated_dir" json:"generated_dir"`       // relative to Root
		GeneratedPackage string   `yaml:"generated_package" json:"generated_package"`
		DispatchFile     string   `yaml:"dispatch_file" json:"dispatch_file,omitempty"`
		Ignore           []string `yaml:"ignore" json:"ignore,omitempty"`
	} `yaml:"project" json:"project"`
	Storage struct {
		Driver string `yaml:"driver" json:"driver"`
		Path   string `yaml:"path" json:"path"`
	} `yaml:"storage" json:"storage"`
	Build struct {
		Command   []string `yaml:"command" json:"command"`
		MaxPasses int      `yaml:"max_passes" json:"max_passes"`
	} `yaml:"build" json:"build"`
	Log struct {
		Level string `yaml:"level" json:"level,omitempty"`
		File  string `yaml:"file" json:"file,omitempty"`
	} `yaml:"log" json:"log"`
	Tracing struct {
		Exporter string `yaml:"exporter" json:"exporter,omitempty"`
		Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`
	} `yaml:"tracing" json:"tracing"`
	Watch struct {
		DebounceMS int `yaml:"debounce_ms" json:"debounce_ms"`
	} `yaml:"watch" json:"watch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Project.Root = "."
	cfg.Project.GeneratedDir = "generated"
	cfg.Project.GeneratedPackage = "generated"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(".geninst", "state.db")
	cfg.Build.Command = []string{"go", "build", "./..."}
	cfg.Build.MaxPasses = 3
	cfg.Log.Level = "info"
	cfg.Tracing.Exporter = "none"
	cfg.Watch.DebounceMS = 300
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if root := os.Getenv("GENINST_ROOT"); root != "" {
		cfg.Project.Root = root
	}
	if driver := os.Getenv("GENINST_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if p := os.Getenv("GENINST_STORAGE_PATH"); p != "" {
		cfg.Storage.Path = p
	}
	if level := os.Getenv("GENINST_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}

	if cfg.Project.DispatchFile == "" {
		cfg.Project.DispatchFile = filepath.Join(cfg.Project.GeneratedDir, "dispatch_gen.go")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config against the embedded JSON schema.
func (c *Config) Validate() error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var v any
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config for schema validation: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to normalize config for schema validation: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config schema validation failed: %w", err)
	}
	return nil
}

// Abs resolves p against the project root unless it is already absolute.
func (c *Config) Abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Project.Root, p)
}

// GeneratedDirAbs is the absolute-or-root-relative directory holding generated stubs.
func (c *Config) GeneratedDirAbs() string { return c.Abs(c.Project.GeneratedDir) }

// DispatchFileAbs is the path of the generated dispatch file.
func (c *Config) DispatchFileAbs() string {
	if c.Project.DispatchFile == "" {
		return filepath.Join(c.GeneratedDirAbs(), "dispatch_gen.go")
	}
	return c.Abs(c.Project.DispatchFile)
}

// StoragePathAbs is the path of the persistence backend.
func (c *Config) StoragePathAbs() string { return c.Abs(c.Storage.Path) }
