// Package config loads the tracker's tunables from YAML.
//
// A config file is decoded strictly (unknown keys are rejected), laid over
// the defaults, and then checked against an embedded CUE schema. Live wraps
// a validated Config so a running tracker picks up reloads on its next call.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/gammacoder/ceph/internal/optracker"
)

//go:embed schema.cue
var schemaCUE []byte

// Error codes for LoadError.
const (
	ErrCodeRead   = "CONFIG_READ"
	ErrCodeParse  = "CONFIG_PARSE"
	ErrCodeSchema = "CONFIG_SCHEMA"
)

// LoadError reports why a config could not be loaded.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError reports whether err is a *LoadError with one of codes, or
// any *LoadError when no codes are given.
func IsLoadError(err error, codes ...string) bool {
	var le *LoadError
	if !errors.As(err, &le) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if le.Code == c {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds the tracker tunables.
type Config struct {
	HistorySize     int      `yaml:"history_size"`
	HistoryDuration Duration `yaml:"history_duration"`
	ComplaintTime   Duration `yaml:"complaint_time"`
	LogThreshold    int      `yaml:"log_threshold"`
}

// Default returns the built-in tunables.
func Default() Config {
	d := optracker.DefaultSettings()
	return Config{
		HistorySize:     d.Size,
		HistoryDuration: Duration(d.Duration),
		ComplaintTime:   Duration(d.Complaint),
		LogThreshold:    d.Threshold,
	}
}

// Settings converts c into the tracker's static settings value.
func (c Config) Settings() optracker.StaticSettings {
	return optracker.StaticSettings{
		Size:      c.HistorySize,
		Duration:  time.Duration(c.HistoryDuration),
		Complaint: time.Duration(c.ComplaintTime),
		Threshold: c.LogThreshold,
	}
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeRead, Path: path, Message: err.Error()}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
// Keys missing from the document keep their default values; an empty
// document yields Default().
func Parse(data []byte) (Config, error) {
	return Overlay(Default(), data)
}

// Overlay decodes a YAML document over base and validates the result.
func Overlay(base Config, data []byte) (Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &LoadError{Code: ErrCodeParse, Message: err.Error()}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.Encode(map[string]any{
		"history_size":     cfg.HistorySize,
		"history_duration": time.Duration(cfg.HistoryDuration).Seconds(),
		"complaint_time":   time.Duration(cfg.ComplaintTime).Seconds(),
		"log_threshold":    cfg.LogThreshold,
	})
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: cueerrors.Details(err, nil)}
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
