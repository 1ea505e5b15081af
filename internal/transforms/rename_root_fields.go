package transforms

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/utils"
)

var (
	_ delegate.RequestTransformer = (*RenameRootFields)(nil)
	_ delegate.SchemaTransformer  = (*RenameRootFields)(nil)
)

// RenameRootFields exposes root fields of a subschema under other names.
// Renamed fields are aliased to the name the caller asked for, so results need no rewriting.
type RenameRootFields struct {
	// Renamer maps a subschema root field name to its gateway name.
	Renamer func(operation ast.Operation, name string) string
}

func NewRenameRootFields(renamer func(operation ast.Operation, name string) string) *RenameRootFields {
	return &RenameRootFields{Renamer: renamer}
}

func (rf *RenameRootFields) TransformName() string {
	return "RenameRootFields"
}

func (rf *RenameRootFields) gatewayName(operation ast.Operation, name string) string {
	if renamed := rf.Renamer(operation, name); renamed != "" {
		return renamed
	}
	return name
}

func (rf *RenameRootFields) TransformSchema(doc *ast.SchemaDocument) (*ast.SchemaDocument, error) {
	rootTypes := map[string]ast.Operation{
		"Query":        ast.Query,
		"Mutation":     ast.Mutation,
		"Subscription": ast.Subscription,
	}
	for _, list := range []ast.SchemaDefinitionList{doc.Schema, doc.SchemaExtension} {
		for _, schemaDef := range list {
			for _, opType := range schemaDef.OperationTypes {
				rootTypes[opType.Type] = opType.Operation
			}
		}
	}

	for _, defs := range []ast.DefinitionList{doc.Definitions, doc.Extensions} {
		for _, def := range defs {
			operation, ok := rootTypes[def.Name]
			if !ok {
				continue
			}
			for _, field := range def.Fields {
				field.Name = rf.gatewayName(operation, field.Name)
			}
		}
	}

	return doc, nil
}

func (rf *RenameRootFields) TransformRequest(ctx context.Context, req *delegate.Request, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Request, error) {
	rootType := utils.RootType(dctx.TargetSchema, req.OperationType)
	if rootType == nil {
		return req, nil
	}

	toTarget := make(map[string]string, len(rootType.Fields))
	for _, field := range rootType.Fields {
		toTarget[rf.gatewayName(req.OperationType, field.Name)] = field.Name
	}

	for _, op := range req.Document.Operations {
		for _, sel := range op.SelectionSet {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			target, ok := toTarget[field.Name]
			if !ok || target == field.Name {
				continue
			}
			if field.Alias == "" {
				field.Alias = field.Name
			}
			field.Name = target
		}
	}

	return req, nil
}
