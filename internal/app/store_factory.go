package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"qlsv/internal/store"
	"qlsv/internal/store/postgres"
	"qlsv/internal/store/sqlite"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// NewStore picks the store implementation from the DSN and retries the
// initial connection a bounded number of times. Mid-request failures are
// reported to callers, never retried, to avoid duplicate side effects.
func NewStore(dsn string) (store.Store, error) {
	open := func() (store.Store, error) {
		if strings.HasPrefix(dsn, "postgres") {
			return postgres.NewPostgresStore(dsn)
		}
		return sqlite.NewSQLiteStore(dsn)
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		s, err := open()
		if err == nil {
			return s, nil
		}
		lastErr = err
		logger.Info.Printf("Database connection failed (attempt %d/%d): %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			time.Sleep(connectBackoff)
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", connectAttempts, lastErr)
}
