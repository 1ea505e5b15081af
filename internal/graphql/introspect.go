package graphql

import (
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

// Object is a value whose fields are computed when the executor asks for them.
type Object interface {
	Field(name string, args map[string]interface{}) interface{}
}

var (
	_ Object = (*schemaObject)(nil)
	_ Object = (*typeObject)(nil)
	_ Object = (*fieldObject)(nil)
	_ Object = (*inputValueObject)(nil)
	_ Object = (*enumValueObject)(nil)
	_ Object = (*directiveObject)(nil)
)

// ResolveMetaField answers the __schema and __type root fields against schema.
// ok is false for any other field.
func ResolveMetaField(schema *ast.Schema, fieldName string, args map[string]interface{}) (interface{}, bool) {
	switch fieldName {
	case "__schema":
		return &schemaObject{schema: schema}, true
	case "__type":
		name, _ := args["name"].(string)
		if schema.Types[name] == nil {
			return nil, true
		}
		return namedTypeObject(schema, name), true
	default:
		return nil, false
	}
}

type schemaObject struct {
	schema *ast.Schema
}

func (o *schemaObject) Field(name string, args map[string]interface{}) interface{} {
	schema := o.schema
	switch name {
	case "description":
		if schema.Description == "" {
			return nil
		}
		return schema.Description
	case "types":
		names := make([]string, 0, len(schema.Types))
		for typeName := range schema.Types {
			names = append(names, typeName)
		}
		sort.Strings(names)
		types := make([]interface{}, 0, len(names))
		for _, typeName := range names {
			types = append(types, namedTypeObject(schema, typeName))
		}
		return types
	case "queryType":
		return rootTypeObject(schema, schema.Query)
	case "mutationType":
		return rootTypeObject(schema, schema.Mutation)
	case "subscriptionType":
		return rootTypeObject(schema, schema.Subscription)
	case "directives":
		names := make([]string, 0, len(schema.Directives))
		for directiveName := range schema.Directives {
			names = append(names, directiveName)
		}
		sort.Strings(names)
		directives := make([]interface{}, 0, len(names))
		for _, directiveName := range names {
			directives = append(directives, &directiveObject{schema: schema, def: schema.Directives[directiveName]})
		}
		return directives
	}
	return nil
}

func rootTypeObject(schema *ast.Schema, def *ast.Definition) interface{} {
	if def == nil {
		return nil
	}
	return namedTypeObject(schema, def.Name)
}

type typeObject struct {
	schema *ast.Schema
	typ    *ast.Type
}

func namedTypeObject(schema *ast.Schema, name string) *typeObject {
	return &typeObject{schema: schema, typ: ast.NamedType(name, nil)}
}

func (o *typeObject) def() *ast.Definition {
	if o.typ.NonNull || o.typ.Elem != nil {
		return nil
	}
	return o.schema.Types[o.typ.NamedType]
}

func (o *typeObject) Field(name string, args map[string]interface{}) interface{} {
	includeDeprecated, _ := args["includeDeprecated"].(bool)

	switch name {
	case "kind":
		switch {
		case o.typ.NonNull:
			return "NON_NULL"
		case o.typ.Elem != nil:
			return "LIST"
		}
		if def := o.def(); def != nil {
			return string(def.Kind)
		}
		return nil
	case "ofType":
		switch {
		case o.typ.NonNull:
			nullable := *o.typ
			nullable.NonNull = false
			return &typeObject{schema: o.schema, typ: &nullable}
		case o.typ.Elem != nil:
			return &typeObject{schema: o.schema, typ: o.typ.Elem}
		}
		return nil
	}

	def := o.def()
	if def == nil {
		return nil
	}

	switch name {
	case "name":
		return def.Name
	case "description":
		return description(def.Description)
	case "specifiedByURL":
		if def.Kind != ast.Scalar {
			return nil
		}
		if directive := def.Directives.ForName("specifiedBy"); directive != nil {
			if url := directive.Arguments.ForName("url"); url != nil && url.Value != nil {
				return url.Value.Raw
			}
		}
		return nil
	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		fields := make([]interface{}, 0, len(def.Fields))
		for _, field := range def.Fields {
			if isMetaField(field.Name) {
				continue
			}
			if !includeDeprecated && field.Directives.ForName("deprecated") != nil {
				continue
			}
			fields = append(fields, &fieldObject{schema: o.schema, def: field})
		}
		return fields
	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		interfaces := make([]interface{}, 0, len(def.Interfaces))
		for _, iface := range def.Interfaces {
			interfaces = append(interfaces, namedTypeObject(o.schema, iface))
		}
		return interfaces
	case "possibleTypes":
		if def.Kind != ast.Interface && def.Kind != ast.Union {
			return nil
		}
		possibleTypes := o.schema.GetPossibleTypes(def)
		names := make([]string, 0, len(possibleTypes))
		for _, possibleType := range possibleTypes {
			names = append(names, possibleType.Name)
		}
		sort.Strings(names)
		types := make([]interface{}, 0, len(names))
		for _, typeName := range names {
			types = append(types, namedTypeObject(o.schema, typeName))
		}
		return types
	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		values := make([]interface{}, 0, len(def.EnumValues))
		for _, value := range def.EnumValues {
			if !includeDeprecated && value.Directives.ForName("deprecated") != nil {
				continue
			}
			values = append(values, &enumValueObject{def: value})
		}
		return values
	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		inputFields := make([]interface{}, 0, len(def.Fields))
		for _, field := range def.Fields {
			if !includeDeprecated && field.Directives.ForName("deprecated") != nil {
				continue
			}
			inputFields = append(inputFields, &inputValueObject{
				schema:       o.schema,
				name:         field.Name,
				description:  field.Description,
				typ:          field.Type,
				defaultValue: field.DefaultValue,
				directives:   field.Directives,
			})
		}
		return inputFields
	}
	return nil
}

type fieldObject struct {
	schema *ast.Schema
	def    *ast.FieldDefinition
}

func (o *fieldObject) Field(name string, args map[string]interface{}) interface{} {
	switch name {
	case "name":
		return o.def.Name
	case "description":
		return description(o.def.Description)
	case "args":
		includeDeprecated, _ := args["includeDeprecated"].(bool)
		return argumentObjects(o.schema, o.def.Arguments, includeDeprecated)
	case "type":
		return &typeObject{schema: o.schema, typ: o.def.Type}
	case "isDeprecated":
		return o.def.Directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecationReason(o.def.Directives)
	}
	return nil
}

type inputValueObject struct {
	schema       *ast.Schema
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
	directives   ast.DirectiveList
}

func argumentObjects(schema *ast.Schema, args ast.ArgumentDefinitionList, includeDeprecated bool) []interface{} {
	objects := make([]interface{}, 0, len(args))
	for _, arg := range args {
		if !includeDeprecated && arg.Directives.ForName("deprecated") != nil {
			continue
		}
		objects = append(objects, &inputValueObject{
			schema:       schema,
			name:         arg.Name,
			description:  arg.Description,
			typ:          arg.Type,
			defaultValue: arg.DefaultValue,
			directives:   arg.Directives,
		})
	}
	return objects
}

func (o *inputValueObject) Field(name string, args map[string]interface{}) interface{} {
	switch name {
	case "name":
		return o.name
	case "description":
		return description(o.description)
	case "type":
		return &typeObject{schema: o.schema, typ: o.typ}
	case "defaultValue":
		if o.defaultValue == nil {
			return nil
		}
		return o.defaultValue.String()
	case "isDeprecated":
		return o.directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecationReason(o.directives)
	}
	return nil
}

type enumValueObject struct {
	def *ast.EnumValueDefinition
}

func (o *enumValueObject) Field(name string, args map[string]interface{}) interface{} {
	switch name {
	case "name":
		return o.def.Name
	case "description":
		return description(o.def.Description)
	case "isDeprecated":
		return o.def.Directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecationReason(o.def.Directives)
	}
	return nil
}

type directiveObject struct {
	schema *ast.Schema
	def    *ast.DirectiveDefinition
}

func (o *directiveObject) Field(name string, args map[string]interface{}) interface{} {
	switch name {
	case "name":
		return o.def.Name
	case "description":
		return description(o.def.Description)
	case "locations":
		locations := make([]interface{}, 0, len(o.def.Locations))
		for _, location := range o.def.Locations {
			locations = append(locations, string(location))
		}
		return locations
	case "args":
		includeDeprecated, _ := args["includeDeprecated"].(bool)
		return argumentObjects(o.schema, o.def.Arguments, includeDeprecated)
	case "isRepeatable":
		return o.def.IsRepeatable
	}
	return nil
}

func description(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deprecationReason(directives ast.DirectiveList) interface{} {
	directive := directives.ForName("deprecated")
	if directive == nil {
		return nil
	}
	if reason := directive.Arguments.ForName("reason"); reason != nil && reason.Value != nil {
		return reason.Value.Raw
	}
	return "No longer supported"
}

func isMetaField(name string) bool {
	return name == "__schema" || name == "__type" || name == "__typename"
}
