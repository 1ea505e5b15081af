package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
)

var _ delegate.Executor = (*RemoteExecutor)(nil)

// RemoteExecutor posts requests to a GraphQL endpoint as JSON.
type RemoteExecutor struct {
	URL string

	Client *http.Client
	// Header is added to every request.
	Header http.Header
}

func (re *RemoteExecutor) Execute(ctx context.Context, req *delegate.Request) (*delegate.Result, error) {
	hc := re.Client
	if hc == nil {
		hc = http.DefaultClient
	}

	query, err := rawQuery(req)
	if err != nil {
		return nil, err
	}

	type RawParams struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName,omitempty"`
		Variables     map[string]interface{} `json:"variables,omitempty"`
		Extensions    map[string]interface{} `json:"extensions,omitempty"`
	}

	params := &RawParams{
		Query:         query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Extensions:    req.Extensions,
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, re.URL, bytes.NewBuffer(b))
	if err != nil {
		return nil, err
	}
	for k, vs := range re.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	log.FromContext(ctx).V(log.LevelTrace).Info("sending remote operation", "url", re.URL, "query", query)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	gqlResp := &response{}
	if resp.StatusCode != http.StatusOK {
		// GraphQL over HTTP servers answer request errors with 4xx and a regular body.
		if err := json.Unmarshal(b, gqlResp); err == nil && len(gqlResp.Errors) != 0 {
			log.FromContext(ctx).V(log.LevelDebug).Info("remote operation failed", "url", re.URL, "status", resp.StatusCode)
			return decodeResult(gqlResp)
		}
		return nil, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	err = json.Unmarshal(b, gqlResp)
	if err != nil {
		return nil, fmt.Errorf("json unmarshal error: %w", err)
	}

	return decodeResult(gqlResp)
}
