package stitch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vvakame/stitchway/internal/delegate"
)

// Subschema is a delegate.Subschema taking part in type merging.
type Subschema struct {
	*delegate.Subschema
	// View is the schema as the gateway sees it, transforms applied.
	// Schema is used when View is nil.
	View *ast.Schema
	// Merge is keyed by gateway type names.
	Merge map[string]*MergedTypeConfig
}

// ViewSchema is the schema of s in gateway names.
func (s *Subschema) ViewSchema() *ast.Schema {
	if s.View != nil {
		return s.View
	}
	return s.Schema
}

// MergedTypeConfig tells how a subschema fetches its fields of a merged type.
// A config with EntryPoints lists several ways to get there, tried in declaration order.
// Fields left empty in an entry point are inherited from the config holding it.
type MergedTypeConfig struct {
	// SelectionSet is what the object must hold before this entry point can be used,
	// like "{ id }".
	SelectionSet string
	// FieldName is the root query field of the subschema, in gateway names.
	FieldName string
	// Key extracts the key from an object. Defaults to the fields of SelectionSet.
	Key func(obj map[string]interface{}) interface{}
	// Args builds the arguments of a call for one object.
	Args func(obj map[string]interface{}) map[string]interface{}
	// ArgsFromKeys builds the arguments of a batched call. It takes precedence over Args.
	ArgsFromKeys func(keys []interface{}) map[string]interface{}
	// BatchArgs builds the arguments a batched call shares besides the keys. Objects
	// asking for different ones are never batched together.
	BatchArgs func(obj map[string]interface{}) map[string]interface{}
	// ValuesFromResults maps the value of a batched call back to one value per key.
	ValuesFromResults func(results interface{}, keys []interface{}) []interface{}
	// BatchKey turns a key into what ArgsFromKeys receives. Defaults to the key itself.
	BatchKey func(key interface{}) interface{}
	// Canonical fields overwrite the ones already on the object.
	Canonical bool
	// EagerReturn returns the contribution of this subschema without asking it.
	EagerReturn func(obj map[string]interface{}, key interface{}) (interface{}, bool)
	// Resolve post processes the object once every subschema contributed.
	Resolve func(ctx context.Context, original, merged map[string]interface{}) (map[string]interface{}, error)

	EntryPoints []*MergedTypeConfig
}

// entryPoint is a compiled MergedTypeConfig.
type entryPoint struct {
	subschema *Subschema
	typeName  string
	fieldName string
	selection ast.SelectionSet

	key               func(obj map[string]interface{}) interface{}
	args              func(obj map[string]interface{}) map[string]interface{}
	argsFromKeys      func(keys []interface{}) map[string]interface{}
	batchArgs         func(obj map[string]interface{}) map[string]interface{}
	valuesFromResults func(results interface{}, keys []interface{}) []interface{}
	batchKey          func(key interface{}) interface{}
	canonical         bool
	eagerReturn       func(obj map[string]interface{}, key interface{}) (interface{}, bool)
}

// mergedType is every way a subschema offers to resolve one type.
type mergedType struct {
	subschema   *Subschema
	typeName    string
	entryPoints []*entryPoint
	resolve     func(ctx context.Context, original, merged map[string]interface{}) (map[string]interface{}, error)
	canonical   bool
}

func compileMergedType(subschema *Subschema, typeName string, cfg *MergedTypeConfig) (*mergedType, error) {
	mt := &mergedType{
		subschema: subschema,
		typeName:  typeName,
		resolve:   cfg.Resolve,
		canonical: cfg.Canonical,
	}

	configs := cfg.EntryPoints
	if len(configs) == 0 {
		configs = []*MergedTypeConfig{cfg}
	}

	var errs []error
	for i, epCfg := range configs {
		ep, err := compileEntryPoint(subschema, typeName, cfg, epCfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry point %d: %w", i, err))
			continue
		}
		mt.entryPoints = append(mt.entryPoints, ep)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("subschema %s, type %s: %w", subschema.Name, typeName, err)
	}

	return mt, nil
}

func compileEntryPoint(subschema *Subschema, typeName string, parent, cfg *MergedTypeConfig) (*entryPoint, error) {
	inherit := func(s, fallback string) string {
		if s != "" {
			return s
		}
		return fallback
	}

	ep := &entryPoint{
		subschema:         subschema,
		typeName:          typeName,
		fieldName:         inherit(cfg.FieldName, parent.FieldName),
		key:               cfg.Key,
		args:              cfg.Args,
		argsFromKeys:      cfg.ArgsFromKeys,
		batchArgs:         cfg.BatchArgs,
		valuesFromResults: cfg.ValuesFromResults,
		batchKey:          cfg.BatchKey,
		canonical:         cfg.Canonical || parent.Canonical,
		eagerReturn:       cfg.EagerReturn,
	}
	if ep.eagerReturn == nil {
		ep.eagerReturn = parent.EagerReturn
	}
	if ep.batchArgs == nil {
		ep.batchArgs = parent.BatchArgs
	}

	if ep.fieldName == "" {
		return nil, errors.New("fieldName is required")
	}
	if ep.args == nil && ep.argsFromKeys == nil {
		return nil, errors.New("args or argsFromKeys is required")
	}

	selectionSet := inherit(cfg.SelectionSet, parent.SelectionSet)
	if selectionSet != "" {
		selection, err := ParseSelectionSet(selectionSet)
		if err != nil {
			return nil, err
		}
		ep.selection = selection
	}
	if ep.key == nil {
		selection := ep.selection
		ep.key = func(obj map[string]interface{}) interface{} {
			return project(obj, selection)
		}
	}
	if ep.batchKey == nil {
		ep.batchKey = func(key interface{}) interface{} {
			return key
		}
	}

	return ep, nil
}

// ParseSelectionSet parses "{ id }" and friends.
func ParseSelectionSet(selectionSet string) (ast.SelectionSet, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "selectionSet", Input: selectionSet})
	if err != nil {
		return nil, fmt.Errorf("selection set %q: %w", selectionSet, err)
	}
	if len(doc.Operations) != 1 || len(doc.Fragments) != 0 {
		return nil, fmt.Errorf("selection set %q: expected one anonymous selection set", selectionSet)
	}
	return doc.Operations[0].SelectionSet, nil
}

// project copies the parts of obj selection selects.
func project(value interface{}, selection ast.SelectionSet) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		if len(selection) == 0 {
			return value
		}
		result := make(map[string]interface{}, len(selection))
		for _, field := range SelectionFields(selection) {
			child, ok := value[field.Name]
			if !ok {
				continue
			}
			result[field.Name] = project(child, field.SelectionSet)
		}
		return result
	case []interface{}:
		result := make([]interface{}, 0, len(value))
		for _, item := range value {
			result = append(result, project(item, selection))
		}
		return result
	default:
		return value
	}
}

// satisfies reports whether value holds every field of selection.
func satisfies(value interface{}, selection ast.SelectionSet) bool {
	switch value := value.(type) {
	case map[string]interface{}:
		for _, field := range SelectionFields(selection) {
			child, ok := value[field.Name]
			if !ok {
				return false
			}
			if _, isErr := child.(error); isErr {
				return false
			}
			if len(field.SelectionSet) != 0 && !satisfies(child, field.SelectionSet) {
				return false
			}
		}
		return true
	case []interface{}:
		for _, item := range value {
			if !satisfies(item, selection) {
				return false
			}
		}
		return true
	case nil:
		return true
	default:
		return len(selection) == 0
	}
}

// SelectionFields flattens inline fragments, key selections are read without type conditions.
func SelectionFields(selection ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range selection {
		switch sel := sel.(type) {
		case *ast.Field:
			fields = append(fields, sel)
		case *ast.InlineFragment:
			fields = append(fields, SelectionFields(sel.SelectionSet)...)
		}
	}
	return fields
}

func sortedTypeNames(merge map[string]*MergedTypeConfig) []string {
	names := make([]string, 0, len(merge))
	for name := range merge {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
