package utils

import (
	"reflect"

	"github.com/vektah/gqlparser/v2/ast"
)

// AppendPath returns a new path, path never shares its backing array with the result.
func AppendPath(path ast.Path, elems ...ast.PathElement) ast.Path {
	newPath := make(ast.Path, 0, len(path)+len(elems))
	newPath = append(newPath, path...)
	newPath = append(newPath, elems...)
	return newPath
}

// DeepMerge merges source into target, nested objects are merged recursively and
// lists of equal length are merged item by item. Anything else in source wins.
func DeepMerge(target interface{}, source interface{}) interface{} {
	if source == nil {
		return target
	}
	switch target := target.(type) {
	case map[string]interface{}:
		sourceObj, ok := source.(map[string]interface{})
		if !ok {
			return source
		}
		for key, sourceValue := range sourceObj {
			targetValue, ok := target[key]
			if !ok || targetValue == nil {
				target[key] = sourceValue
				continue
			}
			target[key] = DeepMerge(targetValue, sourceValue)
		}
		return target
	case []interface{}:
		sourceList, ok := source.([]interface{})
		if !ok || len(sourceList) != len(target) {
			return source
		}
		for i := range target {
			target[i] = DeepMerge(target[i], sourceList[i])
		}
		return target
	default:
		return source
	}
}

// DeepCopy copies decoded JSON objects and lists, other values are shared.
func DeepCopy(value interface{}) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		copied := make(map[string]interface{}, len(value))
		for k, v := range value {
			copied[k] = DeepCopy(v)
		}
		return copied
	case []interface{}:
		copied := make([]interface{}, len(value))
		for i, v := range value {
			copied[i] = DeepCopy(v)
		}
		return copied
	default:
		return value
	}
}

// SameObject reports whether a and b are the same map, not merely equal ones.
func SameObject(a, b map[string]interface{}) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Identity returns the address behind a decoded JSON object or a non-empty list.
// Values sharing an identity share their contents.
func Identity(value interface{}) (uintptr, bool) {
	switch value := value.(type) {
	case map[string]interface{}:
		if value == nil {
			return 0, false
		}
		return reflect.ValueOf(value).Pointer(), true
	case []interface{}:
		if len(value) == 0 {
			return 0, false
		}
		return reflect.ValueOf(value).Pointer(), true
	default:
		return 0, false
	}
}
