package delegate

import (
	"context"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/utils"
)

// DelegationContext is the configuration of one delegation call. It is not modified
// after NewDelegationContext.
type DelegationContext struct {
	ID            uuid.UUID
	Subschema     *Subschema
	TargetSchema  *ast.Schema
	GatewaySchema *ast.Schema
	Executor      Executor

	Operation   ast.Operation
	FieldName   string
	ReturnType  *ast.Type
	ResponseKey string
	Transforms  []Transform

	// Path is where the delegated field lives in the caller's response.
	Path            ast.Path
	SkipTypeMerging bool
	OnLocatedError  merge.OnLocatedError
	Externals       *merge.Table
}

func NewDelegationContext(ctx context.Context, opts *Options) *DelegationContext {
	subschema := opts.Subschema

	responseKey := opts.ResponseKey
	if responseKey == "" {
		responseKey = opts.FieldName
	}
	operation := opts.Operation
	if operation == "" {
		operation = ast.Query
	}

	transforms := make([]Transform, 0, len(subschema.Transforms)+len(opts.Transforms))
	transforms = append(transforms, subschema.Transforms...)
	transforms = append(transforms, opts.Transforms...)

	externals := merge.TableFromContext(ctx)
	if externals == nil {
		externals = merge.NewTable()
	}

	onLocatedError := opts.OnLocatedError
	if onLocatedError == nil {
		onLocatedError = subschema.OnLocatedError
	}

	returnType := opts.ReturnType
	if returnType == nil {
		if def := rootFieldDefinition(subschema.Schema, operation, opts.FieldName); def != nil {
			returnType = def.Type
		}
	}

	return &DelegationContext{
		ID:              uuid.New(),
		Subschema:       subschema,
		TargetSchema:    subschema.Schema,
		GatewaySchema:   opts.GatewaySchema,
		Executor:        subschema.Executor,
		Operation:       operation,
		FieldName:       opts.FieldName,
		ReturnType:      returnType,
		ResponseKey:     responseKey,
		Transforms:      transforms,
		Path:            opts.Path,
		SkipTypeMerging: opts.SkipTypeMerging,
		OnLocatedError:  onLocatedError,
		Externals:       externals,
	}
}

// WithLogger returns ctx whose logger is scoped to this delegation.
func (dctx *DelegationContext) WithLogger(ctx context.Context) context.Context {
	return log.WithValues(
		ctx,
		"delegationID", dctx.ID.String(),
		"subschema", dctx.Subschema.Name,
		"field", dctx.FieldName,
		"path", dctx.Path.String(),
	)
}

// ResolveValue places errs into data, data being the value of the response key,
// and tags what comes out with this delegation's subschema.
func (dctx *DelegationContext) ResolveValue(data interface{}, errs gqlerror.List, path ast.Path, onLocatedError merge.OnLocatedError) interface{} {
	if onLocatedError == nil {
		onLocatedError = dctx.OnLocatedError
	}
	value, unpathed := merge.MergeDataAndErrors(data, errs, path, onLocatedError, 1)
	return merge.ResolveExternalValue(dctx.Externals, value, unpathed, dctx.Subschema.Name, dctx.SkipTypeMerging)
}

func rootFieldDefinition(schema *ast.Schema, operation ast.Operation, fieldName string) *ast.FieldDefinition {
	rootType := utils.RootType(schema, operation)
	if rootType == nil {
		return nil
	}
	return rootType.Fields.ForName(fieldName)
}
