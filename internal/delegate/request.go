package delegate

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Request is one operation sent to a subschema.
// The document belongs to the delegation that built it, the client document is never shared.
type Request struct {
	Document      *ast.QueryDocument
	Variables     map[string]interface{}
	OperationName string
	OperationType ast.Operation
	Extensions    map[string]interface{}
}

// Operation returns the operation the request executes.
func (r *Request) Operation() *ast.OperationDefinition {
	if r == nil || r.Document == nil {
		return nil
	}
	if r.OperationName != "" {
		return r.Document.Operations.ForName(r.OperationName)
	}
	if len(r.Document.Operations) == 0 {
		return nil
	}
	return r.Document.Operations[0]
}

// WithDocument returns a shallow copy of r carrying doc.
func (r *Request) WithDocument(doc *ast.QueryDocument) *Request {
	copied := *r
	copied.Document = doc
	return &copied
}

// Result is what a subschema answered. Data is decoded JSON.
type Result struct {
	Data       interface{}
	Errors     gqlerror.List
	Extensions map[string]interface{}
}

// DataObject returns Data as an object, or nil.
func (r *Result) DataObject() map[string]interface{} {
	if r == nil {
		return nil
	}
	obj, _ := r.Data.(map[string]interface{})
	return obj
}
