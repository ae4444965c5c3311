package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// CompleteTowardTargets makes completing a task cascade to its targets.
	CompleteTowardTargets = "targets"
	// CompleteTowardSources makes completing a task cascade to its sources.
	CompleteTowardSources = "sources"
)

// Config models blockline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" validate:"required"`
		BasePath string `yaml:"base_path" validate:"required,startswith=/"`
		Workers  int    `yaml:"workers" validate:"min=1,max=256"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret" validate:"required_if=DevLogin true"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
		DevLogin        bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Propagation struct {
		Complete string `yaml:"complete" validate:"oneof=targets sources"`
	} `yaml:"propagation"`
	Deletion struct {
		TokenTTL time.Duration `yaml:"token_ttl" validate:"min=1s"`
	} `yaml:"deletion"`
	Search struct {
		Limit int `yaml:"limit" validate:"min=1,max=1000"`
	} `yaml:"search"`
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their yaml keys.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("config %s fails %s=%s", strings.ToLower(fe.Namespace()), fe.Tag(), fe.Param()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "blockline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the workspace config, or the defaults when the file is absent.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML overlays raw YAML onto the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: "127.0.0.1:8080"
  base_path: /v0
  workers: 8

auth:
  jwt_secret: ""
  allow_user_header: false
  # serve /auth/dev/login, which signs a token for any existing user
  dev_login: false

propagation:
  # which side of an arrow completion cascades to; revert goes the other way
  complete: targets

deletion:
  token_ttl: 5m

search:
  limit: 100
`
