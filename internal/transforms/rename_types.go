package transforms

import (
	"context"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/graphql"
	"github.com/vvakame/stitchway/internal/utils"
)

var (
	_ delegate.ScratchCreator     = (*RenameTypes)(nil)
	_ delegate.RequestTransformer = (*RenameTypes)(nil)
	_ delegate.ResultTransformer  = (*RenameTypes)(nil)
	_ delegate.SchemaTransformer  = (*RenameTypes)(nil)
)

// RenameTypes exposes the types of a subschema under other names.
type RenameTypes struct {
	// Renamer maps a subschema type name to its gateway name.
	Renamer func(name string) string

	once     sync.Once
	toTarget map[string]string
}

func NewRenameTypes(renamer func(name string) string) *RenameTypes {
	return &RenameTypes{Renamer: renamer}
}

// PrefixTypes is RenameTypes adding prefix to every type name.
func PrefixTypes(prefix string) *RenameTypes {
	return NewRenameTypes(func(name string) string {
		return prefix + name
	})
}

func (rt *RenameTypes) TransformName() string {
	return "RenameTypes"
}

func (rt *RenameTypes) gatewayName(name string) string {
	if !renamable(name) {
		return name
	}
	if renamed := rt.Renamer(name); renamed != "" {
		return renamed
	}
	return name
}

func (rt *RenameTypes) targetName(schema *ast.Schema, name string) string {
	rt.once.Do(func() {
		rt.toTarget = make(map[string]string)
		if schema == nil {
			return
		}
		for typeName := range schema.Types {
			rt.toTarget[rt.gatewayName(typeName)] = typeName
		}
	})
	if target, ok := rt.toTarget[name]; ok {
		return target
	}
	return name
}

func (rt *RenameTypes) TransformSchema(doc *ast.SchemaDocument) (*ast.SchemaDocument, error) {
	renameTypeRef := func(typ *ast.Type) {
		for ; typ != nil; typ = typ.Elem {
			if typ.NamedType != "" {
				typ.NamedType = rt.gatewayName(typ.NamedType)
			}
		}
	}
	renameFields := func(fields ast.FieldList) {
		for _, field := range fields {
			renameTypeRef(field.Type)
			for _, arg := range field.Arguments {
				renameTypeRef(arg.Type)
			}
		}
	}
	renameDefinitions := func(defs ast.DefinitionList) {
		for _, def := range defs {
			def.Name = rt.gatewayName(def.Name)
			for i, name := range def.Interfaces {
				def.Interfaces[i] = rt.gatewayName(name)
			}
			for i, name := range def.Types {
				def.Types[i] = rt.gatewayName(name)
			}
			renameFields(def.Fields)
		}
	}

	renameDefinitions(doc.Definitions)
	renameDefinitions(doc.Extensions)
	for _, list := range []ast.SchemaDefinitionList{doc.Schema, doc.SchemaExtension} {
		for _, schemaDef := range list {
			for _, opType := range schemaDef.OperationTypes {
				opType.Type = rt.gatewayName(opType.Type)
			}
		}
	}
	for _, directive := range doc.Directives {
		for _, arg := range directive.Arguments {
			renameTypeRef(arg.Type)
		}
	}

	return doc, nil
}

type renameTypesScratch struct {
	document *ast.QueryDocument
}

func (rt *RenameTypes) NewScratch() interface{} {
	return &renameTypesScratch{}
}

func (rt *RenameTypes) TransformRequest(ctx context.Context, req *delegate.Request, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Request, error) {
	rename := func(name string) string {
		return rt.targetName(dctx.TargetSchema, name)
	}

	var walk func(set ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				walk(sel.SelectionSet)
			case *ast.InlineFragment:
				if sel.TypeCondition != "" {
					sel.TypeCondition = rename(sel.TypeCondition)
				}
				walk(sel.SelectionSet)
			}
		}
	}

	for _, op := range req.Document.Operations {
		for _, def := range op.VariableDefinitions {
			for typ := def.Type; typ != nil; typ = typ.Elem {
				if typ.NamedType != "" {
					typ.NamedType = rename(typ.NamedType)
				}
			}
		}
		walk(op.SelectionSet)
	}
	for _, fragment := range req.Document.Fragments {
		fragment.TypeCondition = rename(fragment.TypeCondition)
		walk(fragment.SelectionSet)
	}

	if s, ok := scratch.(*renameTypesScratch); ok {
		s.document = req.Document
	}

	return req, nil
}

// TransformResult renames the values of __typename fields, found by the selection
// of the request so aliased ones are renamed too. Without the request only keys
// named __typename are.
func (rt *RenameTypes) TransformResult(ctx context.Context, result *delegate.Result, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Result, error) {
	var selectionSet ast.SelectionSet
	var fragments ast.FragmentDefinitionList
	if s, ok := scratch.(*renameTypesScratch); ok && s.document != nil && len(s.document.Operations) != 0 {
		selectionSet = s.document.Operations[0].SelectionSet
		fragments = s.document.Fragments
	}

	var walk func(value interface{}, selectionSet ast.SelectionSet)
	walk = func(value interface{}, selectionSet ast.SelectionSet) {
		switch value := value.(type) {
		case map[string]interface{}:
			fields := fieldsByResponseKey(selectionSet, fragments)
			for key, child := range value {
				nodes := fields[key]
				isTypename := key == "__typename"
				if len(nodes) != 0 {
					isTypename = nodes[0].Name == "__typename"
				}
				if typename, ok := child.(string); ok && isTypename {
					value[key] = rt.gatewayName(typename)
					continue
				}
				var childSet ast.SelectionSet
				for _, node := range nodes {
					childSet = append(childSet, node.SelectionSet...)
				}
				walk(child, childSet)
			}
		case []interface{}:
			for _, item := range value {
				walk(item, selectionSet)
			}
		}
	}
	walk(result.Data, selectionSet)

	return result, nil
}

// fieldsByResponseKey collects the fields of selectionSet, fragments included
// whatever their type condition.
func fieldsByResponseKey(selectionSet ast.SelectionSet, fragments ast.FragmentDefinitionList) map[string][]*ast.Field {
	fields := make(map[string][]*ast.Field)
	visited := make(map[string]bool)
	var collect func(set ast.SelectionSet)
	collect = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				key := utils.ResponseKey(sel)
				fields[key] = append(fields[key], sel)
			case *ast.InlineFragment:
				collect(sel.SelectionSet)
			case *ast.FragmentSpread:
				if visited[sel.Name] {
					continue
				}
				visited[sel.Name] = true
				if fragment := fragments.ForName(sel.Name); fragment != nil {
					collect(fragment.SelectionSet)
				}
			}
		}
	}
	collect(selectionSet)
	return fields
}

func renamable(name string) bool {
	return !graphql.IsSpecifiedScalarType(name) && !graphql.IsIntrospectionType(name)
}
