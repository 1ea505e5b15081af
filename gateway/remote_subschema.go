package gateway

import (
	"net/http"

	"github.com/vvakame/stitchway/internal/engine"
)

func NewRemoteSubschema(name string, endpointURL string) *SubschemaConfig {
	return &SubschemaConfig{
		Name:   name,
		URL:    endpointURL,
		Header: http.Header{},
	}
}

// WithHTTPClient posts the requests of s with hc.
func (s *SubschemaConfig) WithHTTPClient(hc *http.Client) *SubschemaConfig {
	s.Executor = &engine.RemoteExecutor{
		URL:    s.URL,
		Client: hc,
		Header: s.Header,
	}
	return s
}
