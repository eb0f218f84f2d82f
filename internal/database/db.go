package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// Pinger は接続確認が可能なDBハンドルを表す。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitForConnection はPingが成功するまで固定間隔で最大maxAttempts回試行する。
// すべての試行が失敗した場合は最後のエラーを返す。
func WaitForConnection(ctx context.Context, db Pinger, maxAttempts int, interval time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = db.PingContext(ctx)
		if lastErr == nil {
			slog.Info("database connected", slog.Int("attempt", attempt))
			return nil
		}

		slog.Warn("database connection failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("database connection aborted: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("failed to connect to database after %d attempts: %w", maxAttempts, lastErr)
}

// Connect はDBを開き、WaitForConnectionで疎通を確認してから返す。
func Connect(ctx context.Context, databaseURL string, maxAttempts int, interval time.Duration) (*sql.DB, error) {
	db, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}

	if err := WaitForConnection(ctx, db, maxAttempts, interval); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
