package delegate

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/merge"
)

var errNilRequest = errors.New("transform returned no request")

var _ error = (*TransformError)(nil)

// TransformError is returned when a transform fails. Nothing was sent to the subschema.
type TransformError struct {
	Transform string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %s", e.Transform, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// ErrorValue turns err into an error node located at path.
// Errors that already are gqlerror nodes keep their message and path.
func ErrorValue(err error, path ast.Path) *gqlerror.Error {
	var gErr *gqlerror.Error
	if errors.As(err, &gErr) && gErr.Path != nil {
		return gErr
	}

	var transformErr *TransformError
	if errors.As(err, &transformErr) {
		return merge.WithCode(&gqlerror.Error{
			Err:     err,
			Message: err.Error(),
			Path:    path,
		}, merge.CodeTransformError, map[string]interface{}{
			"transform": transformErr.Transform,
		})
	}

	return gqlerror.WrapPath(path, err)
}

// executorError is what a failed executor call becomes, the same shape a downstream
// service failure has at the gateway.
func executorError(err error, serviceName string) *gqlerror.Error {
	message := err.Error()
	if message == "" {
		message = fmt.Sprintf(`error while fetching subquery from service "%s"`, serviceName)
	}

	var original *gqlerror.Error
	if errors.As(err, &original) {
		return merge.WithCode(&gqlerror.Error{
			Err:        err,
			Message:    original.Message,
			Extensions: original.Extensions,
		}, merge.CodeDownstreamServiceError, map[string]interface{}{
			"serviceName": serviceName,
		})
	}

	return merge.WithCode(&gqlerror.Error{
		Err:     err,
		Message: message,
	}, merge.CodeDownstreamServiceError, map[string]interface{}{
		"serviceName": serviceName,
	})
}
