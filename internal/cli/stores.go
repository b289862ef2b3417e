package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/txclassifier/internal/core/config"
	redisclient "github.com/vietddude/txclassifier/internal/infra/redis"
	"github.com/vietddude/txclassifier/internal/infra/storage"
	"github.com/vietddude/txclassifier/internal/infra/storage/sqlstore"
)

type stores struct {
	retries storage.RetryRepository
	history storage.HistoryRepository
	close   func()
}

// openStores connects to the durable stores the server writes to.
func openStores(ctx context.Context, cfg *config.AppConfig) (*stores, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		return nil, errors.New("storage.driver is memory; there is no state to inspect outside the server")
	}

	db, err := sqlstore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &stores{
		retries: sqlstore.NewRetryRepo(db),
		history: sqlstore.NewHistoryRepo(db),
		close:   func() { _ = db.Close() },
	}

	if cfg.Redis.RetryStore {
		client, err := redisclient.NewClient(cfg.Redis.Config)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.retries = redisclient.NewRetryRepo(client, cfg.Redis.Prefix)
		s.close = func() {
			_ = client.Close()
			_ = db.Close()
		}
	}
	return s, nil
}
