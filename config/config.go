package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type API struct {
	BaseURL     string `yaml:"base_url"`
	Key         string `yaml:"key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}
type Agent struct {
	ID string `yaml:"id"`
}
type Selection struct {
	MinDurationSecs  int `yaml:"min_duration_secs"`
	MaxConversations int `yaml:"max_conversations"`
	PageSize         int `yaml:"page_size"`
}
type Analysis struct {
	OutlierThresholdMs float64 `yaml:"outlier_threshold_ms"`
	Date               string  `yaml:"date"`
}
type Fetch struct {
	Concurrency int `yaml:"concurrency"`
}
type Root struct {
	Pipeline struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		LogLvl  string `yaml:"log_level"`
	} `yaml:"pipeline"`
	API       API       `yaml:"api"`
	Agent     Agent     `yaml:"agent"`
	Selection Selection `yaml:"selection"`
	Analysis  Analysis  `yaml:"analysis"`
	Fetch     Fetch     `yaml:"fetch"`
	Paths     struct {
		Outputs   string `yaml:"outputs"`
		SourceDir string `yaml:"source_dir"`
		SQLite    string `yaml:"sqlite"`
	} `yaml:"paths"`
}

const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1/convai"
	APIKeyEnv      = "ELEVENLABS_API_KEY"
	EnvPrefix      = "LATENCY"
)

// Default returns a Root with every field the pipeline reads filled in.
func Default() *Root {
	var c Root
	c.Pipeline.Name = "latency-pipeline"
	c.Pipeline.Version = "0.1.0"
	c.Pipeline.LogLvl = "info"
	c.API = API{BaseURL: DefaultBaseURL, TimeoutSecs: 30}
	c.Selection = Selection{MinDurationSecs: 300, MaxConversations: 10, PageSize: 100}
	c.Analysis = Analysis{OutlierThresholdMs: 3000}
	c.Fetch = Fetch{Concurrency: 4}
	c.Paths.Outputs = "outputs"
	return &c
}

// Keys are the viper keys that may override the file.
var Keys = []string{
	"pipeline.log_level",
	"api.base_url",
	"api.key",
	"api.timeout_secs",
	"agent.id",
	"selection.min_duration_secs",
	"selection.max_conversations",
	"selection.page_size",
	"analysis.outlier_threshold_ms",
	"analysis.date",
	"fetch.concurrency",
	"paths.outputs",
	"paths.source_dir",
	"paths.sqlite",
}

// NewViper returns a viper instance reading LATENCY_* env vars, with the API
// key also taken from ELEVENLABS_API_KEY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range Keys {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv("api.key", EnvPrefix+"_API_KEY", APIKeyEnv)
	return v
}

// Load reads the YAML file named by the "config" key, or the first of
// config/<CONFIG_ENV>/config.yaml and config.yaml that exists, over the
// defaults. A missing file is fine; a broken one is not. Values set in v win.
func Load(v *viper.Viper) (*Root, error) {
	cfg := Default()

	path, err := locate(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open config %s", path)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
	}

	overlay(cfg, v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func locate(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrapf(err, "config %s", explicit)
		}
		return explicit, nil
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func overlay(c *Root, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	str("pipeline.log_level", &c.Pipeline.LogLvl)
	str("api.base_url", &c.API.BaseURL)
	str("api.key", &c.API.Key)
	num("api.timeout_secs", &c.API.TimeoutSecs)
	str("agent.id", &c.Agent.ID)
	num("selection.min_duration_secs", &c.Selection.MinDurationSecs)
	num("selection.max_conversations", &c.Selection.MaxConversations)
	num("selection.page_size", &c.Selection.PageSize)
	if v.IsSet("analysis.outlier_threshold_ms") {
		c.Analysis.OutlierThresholdMs = v.GetFloat64("analysis.outlier_threshold_ms")
	}
	str("analysis.date", &c.Analysis.Date)
	num("fetch.concurrency", &c.Fetch.Concurrency)
	str("paths.outputs", &c.Paths.Outputs)
	str("paths.source_dir", &c.Paths.SourceDir)
	str("paths.sqlite", &c.Paths.SQLite)
}

func (c *Root) Validate() error {
	switch {
	case c.Selection.MaxConversations <= 0:
		return errors.New("selection.max_conversations must be positive")
	case c.Selection.PageSize <= 0:
		return errors.New("selection.page_size must be positive")
	case c.Selection.MinDurationSecs < 0:
		return errors.New("selection.min_duration_secs must not be negative")
	case c.Analysis.OutlierThresholdMs < 0:
		return errors.New("analysis.outlier_threshold_ms must not be negative")
	case c.Fetch.Concurrency <= 0:
		return errors.New("fetch.concurrency must be positive")
	}
	return nil
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
