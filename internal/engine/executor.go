package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vvakame/stitchway/internal/delegate"
)

var errSubscriptionUnsupported = errors.New("executor does not support subscriptions")

// rawQuery prints the operation the request executes.
func rawQuery(req *delegate.Request) (string, error) {
	if req.Operation() == nil {
		return "", fmt.Errorf("operation %q not found", req.OperationName)
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(req.Document)
	return buf.String(), nil
}

// response is the wire shape of a GraphQL response.
type response struct {
	Data       json.RawMessage        `json:"data"`
	Errors     gqlerror.List          `json:"errors"`
	Extensions map[string]interface{} `json:"extensions"`
}

// decodeResult turns a response into a Result. Numbers stay json.Number.
func decodeResult(resp *response) (*delegate.Result, error) {
	result := &delegate.Result{
		Errors:     resp.Errors,
		Extensions: resp.Extensions,
	}
	if len(resp.Data) == 0 {
		return result, nil
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Data))
	// without UseNumber 1 becomes float64 and scalars like Int can no longer be unmarshaled.
	dec.UseNumber()
	if err := dec.Decode(&result.Data); err != nil {
		return nil, fmt.Errorf("json unmarshal error: %w", err)
	}

	return result, nil
}

// FetchSDL asks a subschema for its SDL with the federation service query.
// It is used for subschemas configured without a schema.
func FetchSDL(ctx context.Context, executor delegate.Executor) (string, error) {
	doc, gErr := parser.ParseQuery(&ast.Source{Input: `{ _service { sdl } }`})
	if gErr != nil {
		return "", gErr
	}
	result, err := executor.Execute(ctx, &delegate.Request{
		Document:      doc,
		Variables:     map[string]interface{}{},
		OperationType: ast.Query,
	})
	if err != nil {
		return "", err
	}
	if len(result.Errors) != 0 {
		return "", result.Errors
	}

	data := result.DataObject()
	service, _ := data["_service"].(map[string]interface{})
	sdl, _ := service["sdl"].(string)
	if sdl == "" {
		return "", gqlerror.Errorf("sdl fetch failed")
	}

	return sdl, nil
}
