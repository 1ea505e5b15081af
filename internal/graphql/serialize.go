package graphql

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// SerializeLeaf checks a scalar or enum value a subschema returned against def.
// Custom scalars are passed through.
func SerializeLeaf(def *ast.Definition, value interface{}) (interface{}, error) {
	if def.Kind == ast.Enum {
		s, ok := value.(string)
		if !ok || def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf(`Enum "%s" cannot represent value: %v`, def.Name, value)
		}
		return s, nil
	}

	switch def.Name {
	case "Int":
		n, ok := toInt(value)
		if !ok {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", value)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %v", value)
		}
		return json.Number(strconv.FormatInt(n, 10)), nil
	case "Float":
		f, ok := toFloat(value)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("Float cannot represent non numeric value: %v", value)
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	case "String":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("String cannot represent value: %v", value)
		}
		return s, nil
	case "Boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("Boolean cannot represent a non boolean value: %v", value)
		}
		return b, nil
	case "ID":
		switch value := value.(type) {
		case string:
			return value, nil
		default:
			if n, ok := toInt(value); ok {
				return strconv.FormatInt(n, 10), nil
			}
		}
		return nil, fmt.Errorf("ID cannot represent value: %v", value)
	}

	return value, nil
}

func toInt(value interface{}) (int64, bool) {
	switch value := value.(type) {
	case json.Number:
		n, err := value.Int64()
		return n, err == nil
	case int:
		return int64(value), true
	case int32:
		return int64(value), true
	case int64:
		return value, true
	case float64:
		if value != math.Trunc(value) {
			return 0, false
		}
		return int64(value), true
	}
	return 0, false
}

func toFloat(value interface{}) (float64, bool) {
	switch value := value.(type) {
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	}
	return 0, false
}
