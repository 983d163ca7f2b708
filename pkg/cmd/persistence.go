// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/badger"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/dukex/stepflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "redis", "badger"}

// NewPersistence opens the job store selected by the database URL scheme.
// A URL without a known scheme is a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Store, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening job store", "provider", provider)

	var (
		store persistence.Store
		err   error
	)

	switch provider {
	case "postgres", "postgresql":
		store, err = postgresql.NewStore(ctx, logger, databaseURL)
	case "redis":
		store, err = redis.NewStore(ctx, logger, databaseURL)
	case "badger":
		store, err = badger.NewStore(logger, databaseURL)
	default:
		store, err = file.NewStore(databaseURL)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", provider, err)
	}

	return store, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
