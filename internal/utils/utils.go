package utils

import "github.com/vektah/gqlparser/v2/ast"

func IsTypeDefSubTypeOf(schema *ast.Schema, maybeSubType, superType *ast.Definition) bool {
	// NOTE *ast.Definition doesn't have nullable and list information. just type.

	// Equivalent type is a valid subtype
	if maybeSubType == superType {
		return true
	}

	// If superType type is an abstract type, check if it is super type of maybeSubType.
	// Otherwise, the child type is not a valid subtype of the parent type.
	if !IsAbstractType(superType) {
		return false
	}
	if maybeSubType.Kind != ast.Interface && maybeSubType.Kind != ast.Object {
		return false
	}
	for _, def := range schema.GetPossibleTypes(superType) {
		if def.Name == maybeSubType.Name {
			return true
		}
	}
	return false
}

func IsAbstractType(def *ast.Definition) bool {
	if def == nil {
		return false
	}
	switch def.Kind {
	case ast.Interface, ast.Union:
		return true
	default:
		return false
	}
}

func IsCompositeType(def *ast.Definition) bool {
	if def == nil {
		return false
	}
	switch def.Kind {
	case ast.Object, ast.Interface, ast.Union:
		return true
	default:
		return false
	}
}

func IsLeafType(def *ast.Definition) bool {
	if def == nil {
		return false
	}
	switch def.Kind {
	case ast.Scalar, ast.Enum:
		return true
	default:
		return false
	}
}

// DoesTypeConditionMatch reports whether a fragment on typeCondition applies to typ.
func DoesTypeConditionMatch(schema *ast.Schema, typeCondition string, typ *ast.Definition) bool {
	if typeCondition == "" {
		return true
	}
	if typ == nil {
		return false
	}
	if typeCondition == typ.Name {
		return true
	}
	conditionalType := schema.Types[typeCondition]
	if conditionalType == nil {
		return false
	}
	if IsAbstractType(conditionalType) {
		return IsTypeDefSubTypeOf(schema, typ, conditionalType)
	}
	return false
}

// RootType returns the root operation type of schema.
func RootType(schema *ast.Schema, operation ast.Operation) *ast.Definition {
	if schema == nil {
		return nil
	}
	switch operation {
	case ast.Mutation:
		return schema.Mutation
	case ast.Subscription:
		return schema.Subscription
	default:
		return schema.Query
	}
}

// FieldDefinition looks up fieldName on def, including the __typename meta field.
func FieldDefinition(def *ast.Definition, fieldName string) *ast.FieldDefinition {
	if def == nil {
		return nil
	}
	if fieldName == "__typename" {
		return typenameFieldDef
	}
	return def.Fields.ForName(fieldName)
}

var typenameFieldDef = &ast.FieldDefinition{
	Name: "__typename",
	Type: ast.NonNullNamedType("String", nil),
}

func ResponseKey(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}
