package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://lattice.schemas.local/config.schema.json"

// supportedVersions gates the config document format.
var supportedVersions = mustConstraint(">= 1.0.0, < 2.0.0")

var compiledSchema = mustCompileSchema()

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("config: bad version constraint %q: %v", c, err))
	}
	return constraint
}

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
		panic(fmt.Sprintf("config: schema load failed: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("config: schema compile failed: %v", err))
	}
	return s
}

// Load reads a YAML configuration file, validates it against the embedded
// schema, applies LATTICE_* environment overrides and checks consistency.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Default().
func Parse(data []byte) (*Config, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	v, err := semver.NewVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", cfg.Version, err)
	}
	if !supportedVersions.Check(v) {
		return nil, fmt.Errorf("unsupported config version %s (want %s)", v, supportedVersions)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateDocument checks the raw document shape before it is decoded into
// typed fields, so unknown keys and wrong types are reported by path.
func validateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	// Round-trip through JSON so the validator sees JSON-native types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config document is not JSON-compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return fmt.Errorf("config document is not JSON-compatible: %w", err)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
