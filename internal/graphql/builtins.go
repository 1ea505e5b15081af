package graphql

import "strings"

var specifiedDirectives = map[string]bool{
	"include":     true,
	"skip":        true,
	"deprecated":  true,
	"specifiedBy": true,
}

var specifiedScalarTypes = map[string]bool{
	"String":  true,
	"Int":     true,
	"Float":   true,
	"Boolean": true,
	"ID":      true,
}

// IsSpecifiedDirective reports whether name is a directive every schema has.
func IsSpecifiedDirective(name string) bool {
	return specifiedDirectives[name]
}

// IsSpecifiedScalarType reports whether name is one of the built-in scalars.
func IsSpecifiedScalarType(name string) bool {
	return specifiedScalarTypes[name]
}

// IsIntrospectionType reports whether name belongs to the introspection system.
func IsIntrospectionType(name string) bool {
	return strings.HasPrefix(name, "__")
}
