package merge

import (
	"context"
	"reflect"
	"sync"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// External is what is known about an object that came back from a subschema.
type External struct {
	// Subschema the object was resolved from.
	Subschema string
	// FieldSubschemas records fields contributed by another subschema.
	FieldSubschemas map[string]string
	// UnpathedErrors apply at or under the object but have no node to attach to.
	UnpathedErrors gqlerror.List
}

type externalEntry struct {
	// keeps the map alive while its address is used as a key.
	object   map[string]interface{}
	external *External
}

// Table is a side table of External keyed by the identity of decoded objects.
// A table lives as long as one client operation.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*externalEntry
	orphans gqlerror.List
}

func NewTable() *Table {
	return &Table{
		entries: make(map[uintptr]*externalEntry),
	}
}

type tableKey struct{}

func WithTable(ctx context.Context, table *Table) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

// TableFromContext returns the table stored in ctx, or nil.
func TableFromContext(ctx context.Context) *Table {
	table, _ := ctx.Value(tableKey{}).(*Table)
	return table
}

func identity(obj map[string]interface{}) uintptr {
	return reflect.ValueOf(obj).Pointer()
}

func (t *Table) entry(obj map[string]interface{}) *External {
	key := identity(obj)
	e, ok := t.entries[key]
	if !ok {
		e = &externalEntry{object: obj, external: &External{}}
		t.entries[key] = e
	}
	return e.external
}

// Annotate tags obj as resolved from subschema, appending errs to its unpathed errors.
// An existing subschema tag is kept.
func (t *Table) Annotate(obj map[string]interface{}, subschema string, errs gqlerror.List) {
	if t == nil || obj == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	external := t.entry(obj)
	if external.Subschema == "" {
		external.Subschema = subschema
	}
	external.UnpathedErrors = append(external.UnpathedErrors, errs...)
}

// Lookup returns a snapshot of what is known about obj.
func (t *Table) Lookup(obj map[string]interface{}) (External, bool) {
	if t == nil || obj == nil {
		return External{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[identity(obj)]
	if !ok {
		return External{}, false
	}
	snapshot := External{
		Subschema:      e.external.Subschema,
		UnpathedErrors: append(gqlerror.List(nil), e.external.UnpathedErrors...),
	}
	if len(e.external.FieldSubschemas) != 0 {
		snapshot.FieldSubschemas = make(map[string]string, len(e.external.FieldSubschemas))
		for k, v := range e.external.FieldSubschemas {
			snapshot.FieldSubschemas[k] = v
		}
	}
	return snapshot, true
}

// SubschemaOf returns the subschema that provided field of obj.
func (t *Table) SubschemaOf(obj map[string]interface{}, field string) string {
	external, ok := t.Lookup(obj)
	if !ok {
		return ""
	}
	if name, ok := external.FieldSubschemas[field]; ok {
		return name
	}
	return external.Subschema
}

// MergeFields copies the fields of source into target and records that subschema
// provided them. With overwrite, fields already on target are replaced, otherwise nested
// objects are merged and everything else already on target is kept.
// Unpathed errors of source move to target.
func (t *Table) MergeFields(target, source map[string]interface{}, subschema string, overwrite bool) {
	if t == nil || target == nil || source == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.mergeFields(target, source, subschema, overwrite)
}

func (t *Table) mergeFields(target, source map[string]interface{}, subschema string, overwrite bool) {
	external := t.entry(target)
	for key, sourceValue := range source {
		targetValue, exists := target[key]
		switch {
		case !exists, targetValue == nil && sourceValue != nil, overwrite:
			target[key] = sourceValue
		default:
			targetObj, ok1 := targetValue.(map[string]interface{})
			sourceObj, ok2 := sourceValue.(map[string]interface{})
			if !ok1 || !ok2 {
				continue
			}
			t.mergeFields(targetObj, sourceObj, subschema, false)
		}
		if external.FieldSubschemas == nil {
			external.FieldSubschemas = make(map[string]string)
		}
		external.FieldSubschemas[key] = subschema
	}

	if e, ok := t.entries[identity(source)]; ok && identity(source) != identity(target) {
		external.UnpathedErrors = append(external.UnpathedErrors, e.external.UnpathedErrors...)
		e.external.UnpathedErrors = nil
	}
}

// AddUnpathedErrors attaches errs to obj.
func (t *Table) AddUnpathedErrors(obj map[string]interface{}, errs gqlerror.List) {
	if t == nil || len(errs) == 0 {
		return
	}
	if obj == nil {
		t.AddOrphans(errs)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	external := t.entry(obj)
	external.UnpathedErrors = append(external.UnpathedErrors, errs...)
}

// TakeUnpathedErrors returns the unpathed errors of obj and forgets them,
// so every error is reported once.
func (t *Table) TakeUnpathedErrors(obj map[string]interface{}) gqlerror.List {
	if t == nil || obj == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[identity(obj)]
	if !ok {
		return nil
	}
	errs := e.external.UnpathedErrors
	e.external.UnpathedErrors = nil
	return errs
}

// AddOrphans keeps errs that have no object to live on.
func (t *Table) AddOrphans(errs gqlerror.List) {
	if t == nil || len(errs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.orphans = append(t.orphans, errs...)
}

// TakeOrphans returns the errors kept by AddOrphans and forgets them.
func (t *Table) TakeOrphans() gqlerror.List {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := t.orphans
	t.orphans = nil
	return errs
}

// Len returns how many objects the table knows about.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Release forgets everything, once the response built from the tagged objects is done.
func (t *Table) Release() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[uintptr]*externalEntry)
	t.orphans = nil
}

// ResolveExternalValue tags every object reachable from value as coming from subschema and
// hands unpathed over to the outermost object. With skip nothing is tagged.
// Errors that cannot live on an object become the value itself when value is nil,
// otherwise they are kept as orphans.
func ResolveExternalValue(table *Table, value interface{}, unpathed gqlerror.List, subschema string, skip bool) interface{} {
	if _, ok := AsError(value); ok {
		table.AddOrphans(unpathed)
		return value
	}

	if value == nil {
		if len(unpathed) == 0 {
			return nil
		}
		return Combine(unpathed, unpathed[0].Path)
	}

	if skip {
		table.AddOrphans(unpathed)
		return value
	}

	switch value := value.(type) {
	case map[string]interface{}:
		table.annotateTree(value, subschema)
		table.AddUnpathedErrors(value, unpathed)
	case []interface{}:
		table.annotateTree(value, subschema)
		for _, item := range value {
			if obj, ok := item.(map[string]interface{}); ok {
				table.AddUnpathedErrors(obj, unpathed)
				return value
			}
		}
		table.AddOrphans(unpathed)
	default:
		table.AddOrphans(unpathed)
	}

	return value
}

func (t *Table) annotateTree(value interface{}, subschema string) {
	switch value := value.(type) {
	case map[string]interface{}:
		t.Annotate(value, subschema, nil)
		for _, child := range value {
			t.annotateTree(child, subschema)
		}
	case []interface{}:
		for _, item := range value {
			t.annotateTree(item, subschema)
		}
	}
}
