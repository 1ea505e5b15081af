package merge

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/utils"
)

// error codes exposed on extensions.code.
const (
	CodeTransformError         = "TRANSFORM_ERROR"
	CodeDownstreamServiceError = "DOWNSTREAM_SERVICE_ERROR"
	CodeAggregateError         = "AGGREGATE_ERROR"
	CodeBatchError             = "BATCH_ERROR"
)

// OnLocatedError lets a caller rewrite a located error before it is relocated.
type OnLocatedError func(err *gqlerror.Error) *gqlerror.Error

var _ error = (*AggregateError)(nil)

// AggregateError holds 2+ errors that had no data left to attach to.
type AggregateError struct {
	Errors gqlerror.List
}

func (e *AggregateError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "\n")
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors.Unwrap()
}

// AsError reports whether value is an error placed where data would have gone.
func AsError(value interface{}) (*gqlerror.Error, bool) {
	switch value := value.(type) {
	case *gqlerror.Error:
		return value, value != nil
	case error:
		return gqlerror.WrapIfUnwrapped(value), true
	default:
		return nil, false
	}
}

// Relocate moves err under path. The first segment of err.Path is the response key
// consumed by the inner call, it is replaced by path.
func Relocate(err *gqlerror.Error, path ast.Path, onLocatedError OnLocatedError) *gqlerror.Error {
	if onLocatedError != nil {
		if rewritten := onLocatedError(err); rewritten != nil {
			err = rewritten
		}
	}

	var newPath ast.Path
	switch {
	case path == nil:
		newPath = err.Path
	case len(err.Path) == 0:
		newPath = utils.AppendPath(path)
	default:
		newPath = utils.AppendPath(path, err.Path[1:]...)
	}

	copied := *err
	copied.Path = newPath
	return &copied
}

// Combine turns errs into one error node located at path.
func Combine(errs gqlerror.List, path ast.Path) *gqlerror.Error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}

	aggregate := &AggregateError{Errors: errs}
	return &gqlerror.Error{
		Err:     aggregate,
		Message: aggregate.Error(),
		Path:    path,
		Extensions: map[string]interface{}{
			"code": CodeAggregateError,
		},
	}
}

// Flatten expands aggregate error nodes into their members.
func Flatten(errs gqlerror.List) gqlerror.List {
	var result gqlerror.List
	for _, err := range errs {
		if aggregate, ok := err.Err.(*AggregateError); ok {
			result = append(result, Flatten(aggregate.Errors)...)
			continue
		}
		result = append(result, err)
	}
	return result
}

// WithCode returns a copy of err carrying code, extensions already on err win.
func WithCode(err *gqlerror.Error, code string, extra map[string]interface{}) *gqlerror.Error {
	extensions := map[string]interface{}{
		"code": code,
	}
	for k, v := range extra {
		extensions[k] = v
	}
	for k, v := range err.Extensions {
		extensions[k] = v
	}
	copied := *err
	copied.Extensions = extensions
	return &copied
}

// WithServiceName records in extensions.serviceName which subschema located an error.
func WithServiceName(subschema string) OnLocatedError {
	return func(err *gqlerror.Error) *gqlerror.Error {
		if _, ok := err.Extensions["serviceName"]; ok {
			return err
		}
		extensions := make(map[string]interface{}, len(err.Extensions)+1)
		for k, v := range err.Extensions {
			extensions[k] = v
		}
		extensions["serviceName"] = subschema
		copied := *err
		copied.Extensions = extensions
		return &copied
	}
}
