package stitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/batch"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Operation is what a merged type lookup needs to know about the client operation.
type Operation struct {
	Fragments           ast.FragmentDefinitionList
	VariableDefinitions ast.VariableDefinitionList
	Variables           map[string]interface{}
}

// Resolver fetches the fields of merged types that live in other subschemas than
// the one an object came from.
type Resolver struct {
	subschemas []*Subschema
	// keyed by type name, in subschema declaration order.
	mergedTypes map[string][]*mergedType
	transforms  map[string]*AddSelectionSets
}

func NewResolver(subschemas []*Subschema) (*Resolver, error) {
	r := &Resolver{
		subschemas:  subschemas,
		mergedTypes: make(map[string][]*mergedType),
		transforms:  make(map[string]*AddSelectionSets),
	}

	var errs []error
	for _, subschema := range subschemas {
		for _, typeName := range sortedTypeNames(subschema.Merge) {
			if subschema.ViewSchema().Types[typeName] == nil {
				errs = append(errs, fmt.Errorf("subschema %s has no type %s", subschema.Name, typeName))
				continue
			}
			mt, err := compileMergedType(subschema, typeName, subschema.Merge[typeName])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.mergedTypes[typeName] = append(r.mergedTypes[typeName], mt)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	selectionSets := mergeSelectionSets(r.mergedTypes)
	for _, subschema := range subschemas {
		r.transforms[subschema.Name] = &AddSelectionSets{
			schema:        subschema.ViewSchema(),
			selectionSets: selectionSets,
		}
	}

	return r, nil
}

// IsMergedType reports whether more than one subschema can contribute to typeName.
func (r *Resolver) IsMergedType(typeName string) bool {
	return len(r.mergedTypes[typeName]) != 0
}

// Transforms returns the per call transforms delegations to subschema need,
// so results carry what later merged type lookups ask for.
func (r *Resolver) Transforms(subschema string) []delegate.Transform {
	transform, ok := r.transforms[subschema]
	if !ok {
		return nil
	}
	return []delegate.Transform{transform}
}

// target is one subschema asked for some fields of an object.
type target struct {
	mergedType *mergedType
	fields     []*ast.Field
}

// ResolveMergedType adds to object the fields requested by fields that the subschema it
// came from could not provide. object lives at path in the gateway response.
//
// Subschemas are asked in rounds. A round asks every subschema whose entry point can be
// used with what object holds, concurrently. Fields contributed in a round may unlock entry
// points of the next one. Failures are attached to object as unpathed errors.
// The returned object is object itself unless a Resolve hook replaced it.
func (r *Resolver) ResolveMergedType(ctx context.Context, op *Operation, typeName string, object map[string]interface{}, fields []*ast.Field, path ast.Path) (map[string]interface{}, error) {
	mts := r.mergedTypes[typeName]
	if object == nil || len(mts) == 0 {
		return object, nil
	}

	table := merge.TableFromContext(ctx)
	var source string
	if external, ok := table.Lookup(object); ok {
		source = external.Subschema
	}

	targets := r.targets(mts, source, object, fields)
	if len(targets) == 0 {
		return object, nil
	}

	logger := log.FromContext(ctx).WithValues("type", typeName, "path", path.String())
	original := make(map[string]interface{}, len(object))
	for k, v := range object {
		original[k] = v
	}

	var contributed []*mergedType
	for round := 0; len(targets) != 0; round++ {
		var ready []*target
		readyEntryPoints := make(map[*target]*entryPoint)
		var waiting []*target
		for _, t := range targets {
			ep := t.entryPoint(object)
			if ep == nil {
				waiting = append(waiting, t)
				continue
			}
			ready = append(ready, t)
			readyEntryPoints[t] = ep
		}
		if len(ready) == 0 {
			for _, t := range waiting {
				logger.V(log.LevelDebug).Info("no usable entry point", "subschema", t.mergedType.subschema.Name)
			}
			break
		}

		logger.V(log.LevelTrace).Info("merging round", "round", round, "subschemas", len(ready))

		values := make([]interface{}, len(ready))
		eg, egCtx := errgroup.WithContext(ctx)
		join := batch.FromContext(ctx).Fork(len(ready))
		for i, t := range ready {
			i, t := i, t
			ep := readyEntryPoints[t]
			key := ep.key(object)
			eg.Go(func() error {
				defer join()
				value, err := r.contribute(egCtx, op, ep, object, key, t.fields, path)
				if err != nil {
					return err
				}
				values[i] = value
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return object, err
		}

		for i, t := range ready {
			r.integrate(table, object, values[i], readyEntryPoints[t], path)
			contributed = append(contributed, t.mergedType)
		}
		targets = waiting
	}

	for _, mt := range contributed {
		if mt.resolve == nil {
			continue
		}
		resolved, err := mt.resolve(ctx, original, object)
		if err != nil {
			table.AddUnpathedErrors(object, gqlerror.List{delegate.ErrorValue(err, path)})
			continue
		}
		if resolved != nil && !utils.SameObject(resolved, object) {
			table.Annotate(resolved, source, table.TakeUnpathedErrors(object))
			object = resolved
		}
	}

	return object, nil
}

// targets assigns every missing field to the first subschema, in declaration order,
// that defines it on the type and is not where object came from.
func (r *Resolver) targets(mts []*mergedType, source string, object map[string]interface{}, fields []*ast.Field) []*target {
	byMergedType := make(map[*mergedType]*target)

	for _, field := range fields {
		if field.Name == "__typename" {
			continue
		}
		if _, ok := object[utils.ResponseKey(field)]; ok {
			continue
		}
		for _, mt := range mts {
			if mt.subschema.Name == source {
				continue
			}
			def := mt.subschema.ViewSchema().Types[mt.typeName]
			if def == nil || def.Fields.ForName(field.Name) == nil {
				continue
			}
			t, ok := byMergedType[mt]
			if !ok {
				t = &target{mergedType: mt}
				byMergedType[mt] = t
			}
			t.fields = append(t.fields, field)
			break
		}
	}

	// declaration order of subschemas, not of fields.
	ordered := make([]*target, 0, len(byMergedType))
	for _, mt := range mts {
		if t, ok := byMergedType[mt]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func (t *target) entryPoint(object map[string]interface{}) *entryPoint {
	for _, ep := range t.mergedType.entryPoints {
		if satisfies(object, ep.selection) {
			return ep
		}
	}
	return nil
}

// contribute asks ep for fields. Go errors are only returned when ctx is done.
func (r *Resolver) contribute(ctx context.Context, op *Operation, ep *entryPoint, object map[string]interface{}, key interface{}, fields []*ast.Field, path ast.Path) (interface{}, error) {
	if ep.eagerReturn != nil {
		if value, ok := ep.eagerReturn(object, key); ok {
			return value, nil
		}
	}

	selection := make(ast.SelectionSet, 0, len(fields))
	for _, field := range fields {
		selection = append(selection, field)
	}

	opts := &delegate.Options{
		Subschema:           ep.subschema.Subschema,
		GatewaySchema:       ep.subschema.ViewSchema(),
		Operation:           ast.Query,
		Selection:           selection,
		Fragments:           op.Fragments,
		VariableDefinitions: op.VariableDefinitions,
		Variables:           op.Variables,
		Path:                path,
		Transforms:          r.Transforms(ep.subschema.Name),
	}

	var value interface{}
	var err error
	if ep.argsFromKeys != nil {
		scheduler := batch.FromContext(ctx)
		if scheduler == nil {
			scheduler = batch.NewScheduler()
		}
		var extraArgs map[string]interface{}
		if ep.batchArgs != nil {
			extraArgs = ep.batchArgs(object)
		}
		value, err = scheduler.Load(ctx, &batch.Call{
			Subschema:         ep.subschema.Subschema,
			FieldName:         ep.fieldName,
			Key:               ep.batchKey(key),
			ExtraArgs:         extraArgs,
			ArgsFromKeys:      ep.argsFromKeys,
			ValuesFromResults: ep.valuesFromResults,
			Options:           opts,
		})
	} else {
		opts.FieldName = ep.fieldName
		opts.Args = ep.args(object)
		value, err = delegate.DelegateToSchema(ctx, opts)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return delegate.ErrorValue(err, path), nil
	}
	return value, nil
}

func (r *Resolver) integrate(table *merge.Table, object map[string]interface{}, value interface{}, ep *entryPoint, path ast.Path) {
	switch value := value.(type) {
	case nil:
	case map[string]interface{}:
		table.MergeFields(object, value, ep.subschema.Name, ep.canonical)
	case *gqlerror.Error:
		table.AddUnpathedErrors(object, gqlerror.List{value})
	default:
		table.AddUnpathedErrors(object, gqlerror.List{
			gqlerror.ErrorPathf(path, "subschema %s returned %T for %s", ep.subschema.Name, value, ep.typeName),
		})
	}
}
