package execute

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/dolmen-go/jsonmap"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	_ "github.com/vektah/gqlparser/v2/validator/rules"
	"github.com/vvakame/stitchway/internal/batch"
	"github.com/vvakame/stitchway/internal/delegate"
	igraphql "github.com/vvakame/stitchway/internal/graphql"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/stitch"
	"github.com/vvakame/stitchway/internal/utils"
)

// Config is everything an Executor needs. It must not be modified after New.
type Config struct {
	// Schema is the gateway schema client operations are validated against.
	Schema *ast.Schema
	// Subschemas are asked for root fields in declaration order.
	Subschemas []*stitch.Subschema
	Resolver   *stitch.Resolver

	BatchWait time.Duration
	MaxBatch  int
}

// Executor runs client operations against the gateway schema. Root fields are
// delegated to subschemas and the results are completed along the client selection,
// merged types are resolved on the way.
type Executor struct {
	cfg *Config
}

func New(cfg *Config) *Executor {
	return &Executor{cfg: cfg}
}

type ExecutionArgs struct {
	Document       *ast.QueryDocument
	VariableValues map[string]interface{} // optional
	OperationName  string                 // optional
}

// ExecutionContext holds the state of one client operation.
type ExecutionContext struct {
	Schema         *ast.Schema
	Subschemas     []*stitch.Subschema
	Resolver       *stitch.Resolver
	Operation      *ast.OperationDefinition
	Fragments      ast.FragmentDefinitionList
	VariableValues map[string]interface{}

	mergedTypeOperation *stitch.Operation

	mu     sync.Mutex
	Errors gqlerror.List
}

// rootValue stands for the root object, whose fields are delegated.
type rootValue struct{}

// Execute runs a query or mutation. Request errors end up in the response, the
// data is null when the operation could not start.
func (e *Executor) Execute(ctx context.Context, args *ExecutionArgs) *graphql.Response {
	exeContext, gErrs := e.buildExecutionContext(args)
	if len(gErrs) != 0 {
		return &graphql.Response{Errors: gErrs}
	}

	ctx = e.operationContext(ctx)
	ctx = log.WithValues(ctx, "operationName", exeContext.Operation.Name)
	log.FromContext(ctx).V(log.LevelDebug).Info("executing operation", "operation", exeContext.Operation.Operation)

	data, gErr := executeOperation(ctx, exeContext, exeContext.Operation)
	if gErr != nil {
		return &graphql.Response{Errors: gqlerror.List{gErr}}
	}

	return buildResponse(ctx, exeContext, data)
}

// Subscribe runs a subscription. Every event of the subscribed subschema becomes one
// response, the channel is closed when the upstream stream ends or ctx is done.
// A subscription the subschema refuses yields one response with an error located at
// the subscription field.
func (e *Executor) Subscribe(ctx context.Context, args *ExecutionArgs) (<-chan *graphql.Response, error) {
	exeContext, gErrs := e.buildExecutionContext(args)
	if len(gErrs) != 0 {
		return oneResponse(&graphql.Response{Errors: gErrs}), nil
	}
	if exeContext.Operation.Operation != ast.Subscription {
		return nil, fmt.Errorf("operation %s is not a subscription", exeContext.Operation.Operation)
	}

	// external objects are tracked per event, see completeEvent.
	ctx = delegate.WithMemo(ctx)

	typ := exeContext.Schema.Subscription
	fields := collectFields(ctx, exeContext, typ, exeContext.Operation.SelectionSet)
	if len(fields.Names) != 1 {
		return oneResponse(&graphql.Response{Errors: gqlerror.List{
			gqlerror.ErrorPosf(exeContext.Operation.Position, "subscription must select only one top level field"),
		}}), nil
	}
	responseKey := fields.Names[0]
	fieldNodes := fields.FieldMap[responseKey]
	path := ast.Path{ast.PathName(responseKey)}

	opts, gErr := exeContext.rootFieldOptions(typ, fieldNodes, path)
	if gErr != nil {
		return oneResponse(&graphql.Response{Errors: gqlerror.List{gErr}}), nil
	}
	events, err := delegate.DelegateSubscription(ctx, opts)
	if err != nil {
		return oneResponse(&graphql.Response{Errors: gqlerror.List{delegate.ErrorValue(err, path)}}), nil
	}

	out := make(chan *graphql.Response)
	go func() {
		defer close(out)
		for event := range events {
			resp := e.completeEvent(ctx, exeContext, typ, fieldNodes, path, event)
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// completeEvent builds the response of one subscription event. The event brings its
// own external object table, it is released once the response is built.
func (e *Executor) completeEvent(ctx context.Context, exeContext *ExecutionContext, typ *ast.Definition, fieldNodes []*ast.Field, path ast.Path, event *delegate.SubscriptionEvent) *graphql.Response {
	defer event.Externals.Release()

	eventContext := exeContext.event()
	eventCtx := merge.WithTable(ctx, event.Externals)
	eventCtx = batch.WithScheduler(eventCtx, e.newScheduler())
	eventCtx = delegate.WithMemo(eventCtx)

	responseKey := utils.ResponseKey(fieldNodes[0])
	fieldDef := utils.FieldDefinition(typ, fieldNodes[0].Name)
	completed, ok := completeValue(eventCtx, eventContext, fieldDef.Type, fieldNodes, path, event.Value)
	var data interface{}
	if ok {
		data = jsonmap.Ordered{
			Data:  map[string]interface{}{responseKey: completed},
			Order: []string{responseKey},
		}
	}

	return buildResponse(eventCtx, eventContext, data)
}

func oneResponse(resp *graphql.Response) <-chan *graphql.Response {
	ch := make(chan *graphql.Response, 1)
	ch <- resp
	close(ch)
	return ch
}

func (e *Executor) newScheduler() *batch.Scheduler {
	var opts []batch.Option
	if e.cfg.BatchWait > 0 {
		opts = append(opts, batch.WithWait(e.cfg.BatchWait))
	}
	if e.cfg.MaxBatch > 0 {
		opts = append(opts, batch.WithMaxBatch(e.cfg.MaxBatch))
	}
	return batch.NewScheduler(opts...)
}

// operationContext carries the per operation tables: external objects, batch groups and memo.
func (e *Executor) operationContext(ctx context.Context) context.Context {
	ctx = merge.WithTable(ctx, merge.NewTable())
	ctx = batch.WithScheduler(ctx, e.newScheduler())
	ctx = delegate.WithMemo(ctx)
	return ctx
}

func buildResponse(ctx context.Context, exeContext *ExecutionContext, data interface{}) *graphql.Response {
	errs := exeContext.takeErrors()
	errs = append(errs, merge.TableFromContext(ctx).TakeOrphans()...)

	b, err := json.Marshal(data)
	if err != nil {
		errs = append(errs, gqlerror.Errorf("json marshal error: %s", err))
		b = []byte("null")
	}

	return &graphql.Response{
		Errors: errs,
		Data:   b,
	}
}

func (e *Executor) buildExecutionContext(args *ExecutionArgs) (*ExecutionContext, gqlerror.List) {
	if args == nil || args.Document == nil {
		return nil, gqlerror.List{gqlerror.Errorf("must provide document")}
	}
	schema := e.cfg.Schema
	document := args.Document

	if gErrs := validator.Validate(schema, document); len(gErrs) != 0 {
		return nil, gErrs
	}

	var operation *ast.OperationDefinition
	switch {
	case args.OperationName != "":
		operation = document.Operations.ForName(args.OperationName)
		if operation == nil {
			return nil, gqlerror.List{gqlerror.Errorf(`unknown operation named "%s"`, args.OperationName)}
		}
	case len(document.Operations) == 1:
		operation = document.Operations[0]
	case len(document.Operations) == 0:
		return nil, gqlerror.List{gqlerror.Errorf("must provide an operation")}
	default:
		return nil, gqlerror.List{gqlerror.Errorf("must provide operation name if query contains multiple operations")}
	}

	coercedVariableValues, err := validator.VariableValues(schema, operation, args.VariableValues)
	if err != nil {
		return nil, gqlerror.List{gqlerror.WrapIfUnwrapped(err)}
	}

	return &ExecutionContext{
		Schema:         schema,
		Subschemas:     e.cfg.Subschemas,
		Resolver:       e.cfg.Resolver,
		Operation:      operation,
		Fragments:      document.Fragments,
		VariableValues: coercedVariableValues,
		mergedTypeOperation: &stitch.Operation{
			Fragments:           document.Fragments,
			VariableDefinitions: operation.VariableDefinitions,
			Variables:           coercedVariableValues,
		},
	}, nil
}

// event returns an execution context sharing everything but the errors.
func (exeContext *ExecutionContext) event() *ExecutionContext {
	return &ExecutionContext{
		Schema:              exeContext.Schema,
		Subschemas:          exeContext.Subschemas,
		Resolver:            exeContext.Resolver,
		Operation:           exeContext.Operation,
		Fragments:           exeContext.Fragments,
		VariableValues:      exeContext.VariableValues,
		mergedTypeOperation: exeContext.mergedTypeOperation,
	}
}

// addError reports err at path unless it already has one. Aggregated errors are
// reported one by one.
func (exeContext *ExecutionContext) addError(err *gqlerror.Error, path ast.Path) {
	exeContext.mu.Lock()
	defer exeContext.mu.Unlock()

	for _, err := range merge.Flatten(gqlerror.List{err}) {
		if len(err.Path) == 0 {
			copied := *err
			copied.Path = path
			err = &copied
		}
		exeContext.Errors = append(exeContext.Errors, err)
	}
}

func (exeContext *ExecutionContext) takeErrors() gqlerror.List {
	exeContext.mu.Lock()
	defer exeContext.mu.Unlock()

	errs := exeContext.Errors
	exeContext.Errors = nil
	return errs
}

func executeOperation(ctx context.Context, exeContext *ExecutionContext, operation *ast.OperationDefinition) (interface{}, *gqlerror.Error) {
	var typ *ast.Definition
	switch operation.Operation {
	case ast.Query:
		if typ = exeContext.Schema.Query; typ == nil {
			return nil, gqlerror.ErrorPosf(operation.Position, "schema does not define the required query root type")
		}
	case ast.Mutation:
		if typ = exeContext.Schema.Mutation; typ == nil {
			return nil, gqlerror.ErrorPosf(operation.Position, "schema is not configured for mutations")
		}
	case ast.Subscription:
		return nil, gqlerror.ErrorPosf(operation.Position, "subscriptions must be run with Subscribe")
	default:
		return nil, gqlerror.ErrorPosf(operation.Position, "can only have query, mutation and subscription operations")
	}

	fields := collectFields(ctx, exeContext, typ, operation.SelectionSet)

	// Errors from sub-fields of a NonNull type may propagate to the top level,
	// at which point we still log the error and null the parent field, which
	// in this case is the entire response.
	var result jsonmap.Ordered
	var ok bool
	if operation.Operation == ast.Mutation {
		result, ok = executeFieldsSerially(ctx, exeContext, typ, rootValue{}, nil, fields)
	} else {
		result, ok = executeFields(ctx, exeContext, typ, rootValue{}, nil, fields)
	}
	if !ok {
		return nil, nil
	}

	return result, nil
}

// executeFieldsSerially completes one field after the other, mutations rely on it.
func executeFieldsSerially(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue interface{}, path ast.Path, fields *Fields) (jsonmap.Ordered, bool) {
	out := jsonmap.Ordered{
		Data:  make(map[string]interface{}, len(fields.Names)),
		Order: make([]string, 0, len(fields.Names)),
	}
	valid := true
	for _, responseName := range fields.Names {
		fieldPath := utils.AppendPath(path, ast.PathName(responseName))
		value, ok := executeField(ctx, exeContext, parentType, sourceValue, fields.FieldMap[responseName], fieldPath)
		if !ok {
			valid = false
		}
		out.Data[responseName] = value
		out.Order = append(out.Order, responseName)
	}
	if !valid {
		return jsonmap.Ordered{}, false
	}
	return out, true
}

// executeFields completes sibling fields concurrently, lookups they trigger in the
// same pass share batches.
func executeFields(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue interface{}, path ast.Path, fields *Fields) (jsonmap.Ordered, bool) {
	values := make([]interface{}, len(fields.Names))
	oks := make([]bool, len(fields.Names))

	batch.FromContext(ctx).Parallel(len(fields.Names), func(i int) {
		responseName := fields.Names[i]
		fieldPath := utils.AppendPath(path, ast.PathName(responseName))
		values[i], oks[i] = executeField(ctx, exeContext, parentType, sourceValue, fields.FieldMap[responseName], fieldPath)
	})

	out := jsonmap.Ordered{
		Data:  make(map[string]interface{}, len(fields.Names)),
		Order: make([]string, 0, len(fields.Names)),
	}
	for i, responseName := range fields.Names {
		if !oks[i] {
			return jsonmap.Ordered{}, false
		}
		out.Data[responseName] = values[i]
		out.Order = append(out.Order, responseName)
	}
	return out, true
}

// executeField resolves a field on sourceValue and completes it. ok is false when
// a non-null violation must null the parent.
func executeField(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue interface{}, fieldNodes []*ast.Field, path ast.Path) (interface{}, bool) {
	fieldNode := fieldNodes[0]
	if fieldNode.Name == "__typename" {
		return parentType.Name, true
	}

	fieldDef := utils.FieldDefinition(parentType, fieldNode.Name)
	if fieldDef == nil {
		return nil, true
	}

	result := resolveField(ctx, exeContext, parentType, sourceValue, fieldNodes, path)
	return completeValue(ctx, exeContext, fieldDef.Type, fieldNodes, path, result)
}

func resolveField(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue interface{}, fieldNodes []*ast.Field, path ast.Path) interface{} {
	fieldNode := fieldNodes[0]

	switch source := sourceValue.(type) {
	case rootValue:
		return resolveRootField(ctx, exeContext, parentType, fieldNodes, path)
	case map[string]interface{}:
		return source[utils.ResponseKey(fieldNode)]
	case igraphql.Object:
		return source.Field(fieldNode.Name, fieldNode.ArgumentMap(exeContext.VariableValues))
	default:
		return gqlerror.ErrorPathf(path, "unexpected source value %T", sourceValue)
	}
}

// resolveRootField delegates a root field to the subschema serving it.
func resolveRootField(ctx context.Context, exeContext *ExecutionContext, rootType *ast.Definition, fieldNodes []*ast.Field, path ast.Path) interface{} {
	fieldNode := fieldNodes[0]
	if value, ok := igraphql.ResolveMetaField(exeContext.Schema, fieldNode.Name, fieldNode.ArgumentMap(exeContext.VariableValues)); ok {
		return value
	}

	opts, gErr := exeContext.rootFieldOptions(rootType, fieldNodes, path)
	if gErr != nil {
		return gErr
	}

	value, err := delegate.DelegateToSchema(ctx, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return delegate.ErrorValue(ctxErr, path)
		}
		return delegate.ErrorValue(err, path)
	}
	return value
}

func (exeContext *ExecutionContext) rootFieldOptions(rootType *ast.Definition, fieldNodes []*ast.Field, path ast.Path) (*delegate.Options, *gqlerror.Error) {
	fieldNode := fieldNodes[0]
	operation := exeContext.Operation.Operation

	subschema := exeContext.subschemaFor(operation, fieldNode.Name)
	if subschema == nil {
		return nil, gqlerror.ErrorPathf(path, `no subschema resolves "%s.%s"`, rootType.Name, fieldNode.Name)
	}

	var transforms []delegate.Transform
	if exeContext.Resolver != nil {
		transforms = exeContext.Resolver.Transforms(subschema.Name)
	}

	return &delegate.Options{
		Subschema:           subschema.Subschema,
		GatewaySchema:       subschema.ViewSchema(),
		Operation:           operation,
		FieldName:           fieldNode.Name,
		FieldNodes:          fieldNodes,
		Fragments:           exeContext.Fragments,
		VariableDefinitions: exeContext.Operation.VariableDefinitions,
		Variables:           exeContext.VariableValues,
		ResponseKey:         utils.ResponseKey(fieldNode),
		Path:                path,
		Transforms:          transforms,
	}, nil
}

// subschemaFor returns the first subschema, in declaration order, whose root type has fieldName.
func (exeContext *ExecutionContext) subschemaFor(operation ast.Operation, fieldName string) *stitch.Subschema {
	for _, subschema := range exeContext.Subschemas {
		rootType := utils.RootType(subschema.ViewSchema(), operation)
		if rootType != nil && rootType.Fields.ForName(fieldName) != nil {
			return subschema
		}
	}
	return nil
}

// completeValue turns result into the value returned for a field of returnType.
// ok is false when the value could not be completed and returnType is non-null,
// the parent has to become null in turn. Errors are reported on the way.
func completeValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Type, fieldNodes []*ast.Field, path ast.Path, result interface{}) (interface{}, bool) {
	if !returnType.NonNull {
		value, ok := completeNullableValue(ctx, exeContext, returnType, fieldNodes, path, result)
		if !ok {
			return nil, true
		}
		return value, true
	}

	nullableType := *returnType
	nullableType.NonNull = false
	value, ok := completeNullableValue(ctx, exeContext, &nullableType, fieldNodes, path, result)
	if !ok {
		return nil, false
	}
	if value == nil {
		exeContext.addError(gqlerror.ErrorPathf(path, "Cannot return null for non-nullable field %s.", fieldLabel(fieldNodes[0])), path)
		return nil, false
	}
	return value, true
}

// completeNullableValue returns false when the value had to be nulled, after reporting why.
func completeNullableValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Type, fieldNodes []*ast.Field, path ast.Path, result interface{}) (interface{}, bool) {
	if gErr, ok := merge.AsError(result); ok {
		exeContext.addError(gErr, path)
		return nil, false
	}

	if result == nil {
		return nil, true
	}

	if returnType.Elem != nil {
		return completeListValue(ctx, exeContext, returnType, fieldNodes, path, result)
	}

	def := exeContext.Schema.Types[returnType.NamedType]
	if def == nil {
		exeContext.addError(gqlerror.ErrorPathf(path, `unknown type "%s"`, returnType.NamedType), path)
		return nil, false
	}

	switch {
	case utils.IsLeafType(def):
		return completeLeafValue(exeContext, def, path, result)
	case utils.IsAbstractType(def):
		return completeAbstractValue(ctx, exeContext, def, fieldNodes, path, result)
	case def.Kind == ast.Object:
		return completeObjectValue(ctx, exeContext, def, fieldNodes, path, result)
	}

	exeContext.addError(gqlerror.ErrorPathf(path, `cannot complete value of unexpected output type "%s"`, def.Name), path)
	return nil, false
}

// completeListValue completes items concurrently, merged type lookups of items issued
// in the same pass batch together.
func completeListValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Type, fieldNodes []*ast.Field, path ast.Path, result interface{}) (interface{}, bool) {
	items, ok := result.([]interface{})
	if !ok {
		exeContext.addError(gqlerror.ErrorPathf(path, "Expected Iterable, but did not find one for field %s.", fieldLabel(fieldNodes[0])), path)
		return nil, false
	}

	completed := make([]interface{}, len(items))
	oks := make([]bool, len(items))

	batch.FromContext(ctx).Parallel(len(items), func(i int) {
		itemPath := utils.AppendPath(path, ast.PathIndex(i))
		completed[i], oks[i] = completeValue(ctx, exeContext, returnType.Elem, fieldNodes, itemPath, items[i])
	})

	for _, ok := range oks {
		if !ok {
			return nil, false
		}
	}
	return completed, true
}

func completeLeafValue(exeContext *ExecutionContext, def *ast.Definition, path ast.Path, result interface{}) (interface{}, bool) {
	value, err := igraphql.SerializeLeaf(def, result)
	if err != nil {
		exeContext.addError(gqlerror.WrapPath(path, err), path)
		return nil, false
	}
	return value, true
}

func completeAbstractValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field, path ast.Path, result interface{}) (interface{}, bool) {
	typeName := defaultTypeResolver(result)
	runtimeType, gErr := ensureValidRuntimeType(exeContext.Schema, typeName, returnType, fieldNodes, path)
	if gErr != nil {
		exeContext.addError(gErr, path)
		return nil, false
	}
	return completeObjectValue(ctx, exeContext, runtimeType, fieldNodes, path, result)
}

// defaultTypeResolver reads the __typename subschemas were asked for.
func defaultTypeResolver(value interface{}) string {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return ""
	}
	typeName, _ := obj["__typename"].(string)
	return typeName
}

func ensureValidRuntimeType(schema *ast.Schema, runtimeTypeName string, returnType *ast.Definition, fieldNodes []*ast.Field, path ast.Path) (*ast.Definition, *gqlerror.Error) {
	if runtimeTypeName == "" {
		return nil, gqlerror.ErrorPathf(path, `Abstract type "%s" must resolve to an Object type at runtime for field %s.`, returnType.Name, fieldLabel(fieldNodes[0]))
	}

	runtimeType := schema.Types[runtimeTypeName]
	if runtimeType == nil {
		return nil, gqlerror.ErrorPathf(path, `Abstract type "%s" was resolved to a type "%s" that does not exist inside the schema.`, returnType.Name, runtimeTypeName)
	}
	if runtimeType.Kind != ast.Object {
		return nil, gqlerror.ErrorPathf(path, `Abstract type "%s" was resolved to a non-object type "%s".`, returnType.Name, runtimeTypeName)
	}
	if !utils.IsTypeDefSubTypeOf(schema, runtimeType, returnType) {
		return nil, gqlerror.ErrorPathf(path, `Runtime Object type "%s" is not a possible type for "%s".`, runtimeTypeName, returnType.Name)
	}

	return runtimeType, nil
}

// completeObjectValue fetches the fields of merged types other subschemas hold,
// then completes the selection.
func completeObjectValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field, path ast.Path, result interface{}) (interface{}, bool) {
	subFields := collectSubfields(ctx, exeContext, returnType, fieldNodes)

	switch obj := result.(type) {
	case map[string]interface{}:
		if exeContext.Resolver != nil && exeContext.Resolver.IsMergedType(returnType.Name) {
			merged, err := exeContext.Resolver.ResolveMergedType(ctx, exeContext.mergedTypeOperation, returnType.Name, obj, subFields.all(), path)
			if err != nil {
				exeContext.addError(delegate.ErrorValue(err, path), path)
				return nil, false
			}
			obj = merged
		}
		for _, gErr := range merge.TableFromContext(ctx).TakeUnpathedErrors(obj) {
			exeContext.addError(gErr, path)
		}
		return executeFields(ctx, exeContext, returnType, obj, path, subFields)

	case igraphql.Object:
		return executeFields(ctx, exeContext, returnType, obj, path, subFields)

	default:
		exeContext.addError(gqlerror.ErrorPathf(path, `Expected value of type "%s" but got: %T.`, returnType.Name, result), path)
		return nil, false
	}
}

func fieldLabel(field *ast.Field) string {
	if field.ObjectDefinition != nil {
		return field.ObjectDefinition.Name + "." + field.Name
	}
	return field.Name
}
