package gateway

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/transforms"
)

// PrefixTypes exposes every type of a subschema as prefix + name.
func PrefixTypes(prefix string) Transform {
	return transforms.PrefixTypes(prefix)
}

// RenameTypes exposes the types of a subschema under the names renamer returns.
// An empty name keeps the type as is.
func RenameTypes(renamer func(name string) string) Transform {
	return transforms.NewRenameTypes(renamer)
}

// PrefixRootFields exposes every root field of a subschema as prefix + name.
func PrefixRootFields(prefix string) Transform {
	return transforms.NewRenameRootFields(func(operation ast.Operation, name string) string {
		return prefix + name
	})
}

// RenameRootFields exposes the root fields of a subschema under the names renamer returns.
func RenameRootFields(renamer func(operation ast.Operation, name string) string) Transform {
	return transforms.NewRenameRootFields(renamer)
}

// WrapQuery replaces the selection of the field at path with what wrapper returns, and
// the value found there with what extractor returns.
func WrapQuery(path []string, wrapper func(set ast.SelectionSet) ast.SelectionSet, extractor func(value interface{}) interface{}) Transform {
	return &transforms.WrapQuery{Path: path, Wrapper: wrapper, Extractor: extractor}
}
