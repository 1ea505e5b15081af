package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/vvakame/stitchway/internal/stitch"
)

// Config is the declarative form of a gateway.
type Config struct {
	BatchWait  time.Duration `yaml:"batchWait" toml:"batchWait"`
	MaxBatch   int           `yaml:"maxBatch" toml:"maxBatch"`
	Subschemas []*Subschema  `yaml:"subschemas" toml:"subschemas"`

	// dir is where relative paths are resolved from.
	dir string
}

type Subschema struct {
	Name string `yaml:"name" toml:"name"`
	URL  string `yaml:"url" toml:"url"`
	// SchemaFile is read instead of asking the subschema for its SDL.
	SchemaFile string            `yaml:"schemaFile" toml:"schemaFile"`
	Headers    map[string]string `yaml:"headers" toml:"headers"`
	Dedupe     bool              `yaml:"dedupe" toml:"dedupe"`
	// ServiceNameInErrors adds extensions.serviceName to the errors the subschema reports.
	ServiceNameInErrors bool `yaml:"serviceNameInErrors" toml:"serviceNameInErrors"`

	TypePrefix      string `yaml:"typePrefix" toml:"typePrefix"`
	RootFieldPrefix string `yaml:"rootFieldPrefix" toml:"rootFieldPrefix"`

	Merge map[string]*MergedType `yaml:"merge" toml:"merge"`
}

// MergedType configures one entry point of a merged type.
//
// With keyArg the root field is called once per object with {keyArg: key}, with keysArg
// it is called once per batch with {keysArg: [key...]} and must return a list in key order.
// A key made of one field is that field's value, more fields make an object.
// Args are sent with every call, argFields map argument names to fields of the object,
// which the selection set has to hold. Batched objects only share a call when these
// arguments are the same.
type MergedType struct {
	SelectionSet string                 `yaml:"selectionSet" toml:"selectionSet"`
	FieldName    string                 `yaml:"fieldName" toml:"fieldName"`
	KeyFields    []string               `yaml:"keyFields" toml:"keyFields"`
	KeyArg       string                 `yaml:"keyArg" toml:"keyArg"`
	KeysArg      string                 `yaml:"keysArg" toml:"keysArg"`
	Args         map[string]interface{} `yaml:"args" toml:"args"`
	ArgFields    map[string]string      `yaml:"argFields" toml:"argFields"`
	Canonical    bool                   `yaml:"canonical" toml:"canonical"`

	EntryPoints []*MergedType `yaml:"entryPoints" toml:"entryPoints"`
}

// Load reads a YAML or TOML file, chosen by extension, and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalWithOptions(b, cfg, yaml.DisallowUnknownField()); err != nil {
			return nil, fmt.Errorf("%s: %s", path, yaml.FormatError(err, false, true))
		}
	case ".toml":
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported config format %q", path, ext)
	}

	cfg.dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every problem of cfg at once.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.BatchWait < 0 {
		errs = append(errs, errors.New("batchWait must not be negative"))
	}
	if cfg.MaxBatch < 0 {
		errs = append(errs, errors.New("maxBatch must not be negative"))
	}
	if len(cfg.Subschemas) == 0 {
		errs = append(errs, errors.New("at least one subschema is required"))
	}

	seen := make(map[string]bool)
	for i, subschema := range cfg.Subschemas {
		if subschema == nil {
			errs = append(errs, fmt.Errorf("subschemas[%d]: empty", i))
			continue
		}
		if subschema.Name == "" {
			errs = append(errs, fmt.Errorf("subschemas[%d]: name is required", i))
		} else if seen[subschema.Name] {
			errs = append(errs, fmt.Errorf("subschemas[%d]: duplicated name %s", i, subschema.Name))
		}
		seen[subschema.Name] = true

		if subschema.URL == "" {
			errs = append(errs, fmt.Errorf("subschema %s: url is required", subschema.Name))
		}

		for typeName, mt := range subschema.Merge {
			if err := mt.validate(); err != nil {
				errs = append(errs, fmt.Errorf("subschema %s, type %s: %w", subschema.Name, typeName, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (mt *MergedType) validate() error {
	if mt == nil {
		return errors.New("empty merge config")
	}
	if len(mt.EntryPoints) != 0 {
		var errs []error
		for i, ep := range mt.EntryPoints {
			inherited := mt.inherit(ep)
			if err := inherited.validate(); err != nil {
				errs = append(errs, fmt.Errorf("entryPoints[%d]: %w", i, err))
			}
		}
		return errors.Join(errs...)
	}

	var errs []error
	if mt.FieldName == "" {
		errs = append(errs, errors.New("fieldName is required"))
	}
	switch {
	case mt.KeyArg == "" && mt.KeysArg == "":
		errs = append(errs, errors.New("keyArg or keysArg is required"))
	case mt.KeyArg != "" && mt.KeysArg != "":
		errs = append(errs, errors.New("keyArg and keysArg are exclusive"))
	}
	if mt.SelectionSet == "" && len(mt.KeyFields) == 0 {
		errs = append(errs, errors.New("selectionSet or keyFields is required"))
	}
	if mt.SelectionSet != "" {
		if _, err := stitch.ParseSelectionSet(mt.SelectionSet); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// inherit fills what ep leaves empty from mt.
func (mt *MergedType) inherit(ep *MergedType) *MergedType {
	inherited := *ep
	if inherited.SelectionSet == "" {
		inherited.SelectionSet = mt.SelectionSet
	}
	if inherited.FieldName == "" {
		inherited.FieldName = mt.FieldName
	}
	if len(inherited.KeyFields) == 0 {
		inherited.KeyFields = mt.KeyFields
	}
	if inherited.KeyArg == "" && inherited.KeysArg == "" {
		inherited.KeyArg = mt.KeyArg
		inherited.KeysArg = mt.KeysArg
	}
	if len(inherited.Args) == 0 {
		inherited.Args = mt.Args
	}
	if len(inherited.ArgFields) == 0 {
		inherited.ArgFields = mt.ArgFields
	}
	inherited.Canonical = inherited.Canonical || mt.Canonical
	inherited.EntryPoints = nil
	return &inherited
}

// SchemaPath returns where the SDL of s lives, empty when it has to be fetched.
func (cfg *Config) SchemaPath(s *Subschema) string {
	if s.SchemaFile == "" || filepath.IsAbs(s.SchemaFile) {
		return s.SchemaFile
	}
	return filepath.Join(cfg.dir, s.SchemaFile)
}

// MergedTypeConfig turns mt into what the merged type resolver runs.
func (mt *MergedType) MergedTypeConfig() *stitch.MergedTypeConfig {
	if len(mt.EntryPoints) != 0 {
		cfg := &stitch.MergedTypeConfig{Canonical: mt.Canonical}
		for _, ep := range mt.EntryPoints {
			cfg.EntryPoints = append(cfg.EntryPoints, mt.inherit(ep).MergedTypeConfig())
		}
		return cfg
	}

	keyFields := mt.KeyFields
	selectionSet := mt.SelectionSet
	if len(keyFields) == 0 {
		keyFields = topLevelFields(selectionSet)
	}
	if selectionSet == "" {
		selectionSet = "{ " + strings.Join(keyFields, " ") + " }"
	}

	key := func(obj map[string]interface{}) interface{} {
		if len(keyFields) == 1 {
			return obj[keyFields[0]]
		}
		key := make(map[string]interface{}, len(keyFields))
		for _, field := range keyFields {
			key[field] = obj[field]
		}
		return key
	}

	cfg := &stitch.MergedTypeConfig{
		SelectionSet: selectionSet,
		FieldName:    mt.FieldName,
		Key:          key,
		Canonical:    mt.Canonical,
	}
	if keysArg := mt.KeysArg; keysArg != "" {
		cfg.ArgsFromKeys = func(keys []interface{}) map[string]interface{} {
			return map[string]interface{}{keysArg: keys}
		}
		if len(mt.Args) != 0 || len(mt.ArgFields) != 0 {
			cfg.BatchArgs = mt.extraArgs
		}
	} else {
		keyArg := mt.KeyArg
		cfg.Args = func(obj map[string]interface{}) map[string]interface{} {
			args := mt.extraArgs(obj)
			args[keyArg] = key(obj)
			return args
		}
	}
	return cfg
}

// extraArgs builds the arguments besides the key for obj.
func (mt *MergedType) extraArgs(obj map[string]interface{}) map[string]interface{} {
	args := make(map[string]interface{}, len(mt.Args)+len(mt.ArgFields)+1)
	for name, value := range mt.Args {
		args[name] = value
	}
	for name, field := range mt.ArgFields {
		args[name] = obj[field]
	}
	return args
}

func topLevelFields(selectionSet string) []string {
	selection, err := stitch.ParseSelectionSet(selectionSet)
	if err != nil {
		return nil
	}
	var names []string
	for _, field := range stitch.SelectionFields(selection) {
		names = append(names, field.Name)
	}
	return names
}
