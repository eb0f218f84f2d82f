package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/lifetracker/internal/model"
)

// PostgresTrackRepo はPostgreSQLを使用したトラックリポジトリ。
type PostgresTrackRepo struct {
	db *sql.DB
}

// NewPostgresTrackRepo はPostgresTrackRepoを生成する。
func NewPostgresTrackRepo(db *sql.DB) *PostgresTrackRepo {
	return &PostgresTrackRepo{db: db}
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// encodeTrackData はdataをJSONBカラム用にエンコードする。nilの場合はNULLを返す。
func encodeTrackData(data map[string]any) (any, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode track data: %w", err)
	}
	return b, nil
}

func scanTrack(row rowScanner) (*model.Track, error) {
	t := &model.Track{}
	var data []byte

	err := row.Scan(&t.ID, &t.UserID, &t.TrackName, &t.Date, &t.DurationMinutes, &data, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, fmt.Errorf("failed to decode track data: %w", err)
		}
	}
	return t, nil
}

func insertTrack(ctx context.Context, db execer, t *model.Track) error {
	data, err := encodeTrackData(t.Data)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO tracks (id, user_id, track_name, date, duration_minutes, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.TrackName, t.Date, t.DurationMinutes, data, t.CreatedAt, t.UpdatedAt,
	)
	return mapTrackWriteError(err)
}

// Create はトラックを作成する。
func (r *PostgresTrackRepo) Create(ctx context.Context, track *model.Track) error {
	if err := insertTrack(ctx, r.db, track); err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	return nil
}

// CreateMany は複数のトラックを同一トランザクションで作成する。
func (r *PostgresTrackRepo) CreateMany(ctx context.Context, tracks []*model.Track) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, t := range tracks {
		if err := insertTrack(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to insert track %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定ユーザーが所有する指定IDのトラックを取得する。
func (r *PostgresTrackRepo) FindByID(ctx context.Context, userID, id string) (*model.Track, error) {
	t, err := scanTrack(r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find track: %w", err)
	}
	return t, nil
}

// List は検索条件に一致するトラックを返す。
func (r *PostgresTrackRepo) List(ctx context.Context, filter model.TrackFilter) ([]*model.Track, error) {
	query, args := buildTrackListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracks: %w", err)
	}

	return tracks, nil
}

// Update はトラックを行ロックしてapplyを適用し保存する。
func (r *PostgresTrackRepo) Update(ctx context.Context, userID, id string, apply func(*model.Track) error) (*model.Track, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTrack(tx.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock track: %w", err)
	}

	if err := apply(t); err != nil {
		return nil, err
	}

	data, err := encodeTrackData(t.Data)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tracks
		 SET track_name = $1, date = $2, duration_minutes = $3, data = $4, updated_at = $5
		 WHERE id = $6`,
		t.TrackName, t.Date, t.DurationMinutes, data, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update track: %w", mapTrackWriteError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t, nil
}

// Delete は指定トラックを削除する。
func (r *PostgresTrackRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tracks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete track: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteLatest は作成日時が最も新しいトラックを1文で削除して返す。
// 作成日時が同じ場合は後から挿入した行を優先する。
func (r *PostgresTrackRepo) DeleteLatest(ctx context.Context, userID string) (*model.Track, error) {
	t, err := scanTrack(r.db.QueryRowContext(ctx,
		`DELETE FROM tracks
		 WHERE id = (
		   SELECT id FROM tracks WHERE user_id = $1
		   ORDER BY created_at DESC, seq DESC
		   LIMIT 1
		 )
		 RETURNING `+trackColumns,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete latest track: %w", err)
	}
	return t, nil
}

// compile-time interface check
var _ TrackRepository = (*PostgresTrackRepo)(nil)
