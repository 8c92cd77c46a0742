package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "AGENTFLOW_"

// Config holds CLI configuration.
// Priority: AGENTFLOW_* env vars > .env file > settings.json > defaults.
type Config struct {
	LogLevel    string   `json:"log_level"`
	MaxSteps    int      `json:"max_steps"`
	Timeout     Duration `json:"timeout"`
	History     int      `json:"history"`
	ChunkSize   int      `json:"chunk_size"`
	Concurrency int      `json:"concurrency"`
	CallTimeout Duration `json:"call_timeout"`
}

// Duration is a time.Duration that reads "30s" style strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		MaxSteps:    1000,
		History:     100,
		ChunkSize:   120,
		Concurrency: 4,
		CallTimeout: Duration(30 * time.Second),
	}
}

func agentflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentflow"
	}
	return filepath.Join(home, ".agentflow")
}

func settingsPath() string {
	return filepath.Join(agentflowDir(), "settings.json")
}

// loadConfig layers settingsFile, envFile and the process environment over
// the defaults. Missing files are skipped; malformed ones are errors.
func loadConfig(settingsFile, envFile string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(settingsFile); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", settingsFile, err)
	}

	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			if err := applyEnv(&cfg, mapLookup(values)); err != nil {
				return cfg, fmt.Errorf("%s: %w", envFile, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return cfg, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return v, ok && v != ""
	}

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"MAX_STEPS", &cfg.MaxSteps},
		{"HISTORY", &cfg.History},
		{"CHUNK_SIZE", &cfg.ChunkSize},
		{"CONCURRENCY", &cfg.Concurrency},
	}
	for _, f := range ints {
		if v, ok := get(f.name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, f.name, err)
			}
			*f.dst = n
		}
	}
	durations := []struct {
		name string
		dst  *Duration
	}{
		{"TIMEOUT", &cfg.Timeout},
		{"CALL_TIMEOUT", &cfg.CallTimeout},
	}
	for _, f := range durations {
		if v, ok := get(f.name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, f.name, err)
			}
			*f.dst = Duration(d)
		}
	}
	return nil
}
