// Package config loads connection settings, app definitions and the field
// mapping snapshot for the local API.
//
// A config file may be YAML, TOML or JSON:
//
//	realm: myrealm
//	timeout: 30000
//	apps:
//	  - name: crm
//	    appId: bqx7xre9m
//	    appToken: ${CRM_APP_TOKEN}
//	mappingsFile: quickbase-mappings.json
//
// Secrets are normally kept out of the file. A .env file next to the config
// is loaded first with godotenv, then ${VAR} references in the file are
// expanded from the environment. QUICKBASE_REALM, QUICKBASE_USER_TOKEN and
// QUICKBASE_BASE_URL override the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

// Environment variables read by ApplyEnv.
const (
	EnvRealm        = "QUICKBASE_REALM"
	EnvUserToken    = "QUICKBASE_USER_TOKEN"
	EnvBaseURL      = "QUICKBASE_BASE_URL"
	EnvMappingsFile = "QUICKBASE_MAPPINGS_FILE"
	EnvDebug        = "QUICKBASE_DEBUG"
)

const (
	DefaultBaseURL   = "https://api.quickbase.com/v1"
	DefaultTimeoutMs = 30000
)

// App is one QuickBase application the local API may address by name.
type App struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	AppID       string `json:"appId" yaml:"appId" toml:"appId"`
	AppToken    string `json:"appToken,omitempty" yaml:"appToken,omitempty" toml:"appToken"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
}

// Config is the complete runtime configuration.
type Config struct {
	Realm     string `json:"realm" yaml:"realm" toml:"realm"`
	UserToken string `json:"userToken,omitempty" yaml:"userToken,omitempty" toml:"userToken"`
	BaseURL   string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty" toml:"baseUrl"`
	// TimeoutMs is the per-request timeout in milliseconds.
	TimeoutMs int   `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout"`
	Debug     bool  `json:"debug,omitempty" yaml:"debug,omitempty" toml:"debug"`
	Apps      []App `json:"apps" yaml:"apps" toml:"apps"`

	// Mappings may be given inline; MappingsFile, when set, replaces it.
	Mappings     core.Mappings `json:"mappings" yaml:"mappings" toml:"mappings"`
	MappingsFile string        `json:"mappingsFile,omitempty" yaml:"mappingsFile,omitempty" toml:"mappingsFile"`
}

// Default returns a config holding only defaults.
func Default() *Config {
	return &Config{
		BaseURL:   DefaultBaseURL,
		TimeoutMs: DefaultTimeoutMs,
	}
}

// Load reads a config file, loads the .env file beside it, expands ${VAR}
// references, applies the environment overrides and the mapping snapshot,
// then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml, .toml or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.MappingsFile != "" && !filepath.IsAbs(cfg.MappingsFile) {
		cfg.MappingsFile = filepath.Join(dir, cfg.MappingsFile)
	}

	return finish(cfg)
}

// FromEnv builds a config from the environment alone (after loading ./.env).
// Apps cannot be expressed in the environment, so the result has none unless
// the caller appends them.
func FromEnv() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.LoadMappings(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment files with godotenv. Missing files are
// ignored and variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays QUICKBASE_* variables and per-app
// QUICKBASE_<APP>_APP_ID / QUICKBASE_<APP>_APP_TOKEN variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRealm); v != "" {
		c.Realm = v
	}
	if v := os.Getenv(EnvUserToken); v != "" {
		c.UserToken = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvMappingsFile); v != "" {
		c.MappingsFile = v
	}
	switch strings.ToLower(os.Getenv(EnvDebug)) {
	case "1", "true", "yes":
		c.Debug = true
	}

	for i := range c.Apps {
		prefix := "QUICKBASE_" + envName(c.Apps[i].Name)
		if v := os.Getenv(prefix + "_APP_ID"); v != "" {
			c.Apps[i].AppID = v
		}
		if v := os.Getenv(prefix + "_APP_TOKEN"); v != "" {
			c.Apps[i].AppToken = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
}

// LoadMappings replaces Mappings with the contents of MappingsFile, if set.
func (c *Config) LoadMappings() error {
	if c.MappingsFile == "" {
		return nil
	}
	m, err := core.LoadMappingsFile(c.MappingsFile)
	if err != nil {
		return err
	}
	c.Mappings = m
	return nil
}

// Validate checks the settings every client needs.
func (c *Config) Validate() error {
	var problems []string
	if c.Realm == "" {
		problems = append(problems, "realm is required (set "+EnvRealm+")")
	} else if strings.Contains(c.Realm, ".") {
		problems = append(problems, fmt.Sprintf("realm %q must not include the domain", c.Realm))
	}
	if c.UserToken == "" {
		problems = append(problems, "userToken is required (set "+EnvUserToken+")")
	}

	seen := make(map[string]bool, len(c.Apps))
	for i, app := range c.Apps {
		switch {
		case app.Name == "":
			problems = append(problems, fmt.Sprintf("apps[%d]: name is required", i))
		case seen[app.Name]:
			problems = append(problems, fmt.Sprintf("apps[%d]: duplicate app name %q", i, app.Name))
		}
		seen[app.Name] = true
		if app.AppID == "" {
			problems = append(problems, fmt.Sprintf("apps[%d]: appId is required", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// App returns the app configured under name.
func (c *Config) App(name string) (App, bool) {
	for _, app := range c.Apps {
		if app.Name == name {
			return app, true
		}
	}
	return App{}, false
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// envName turns an app name into an environment variable fragment:
// "bg-software" becomes "BG_SOFTWARE".
func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
