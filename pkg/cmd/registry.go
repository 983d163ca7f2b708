package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/actions/httprequest"
	"github.com/dukex/stepflow/pkg/registry"
)

// NewRegistry returns a registry with the native step types. requestTimeout bounds each
// outbound API step request; zero keeps the executor default.
func NewRegistry(log *slog.Logger, requestTimeout time.Duration) *registry.Registry {
	var opts []httprequest.Option
	if requestTimeout > 0 {
		opts = append(opts, httprequest.WithTimeout(requestTimeout))
	}

	return registry.NewDefaultRegistry(log, opts...)
}
