package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/repository"
)

// MaxImportSize は1回の一括インポートで受け付ける最大件数。
const MaxImportSize = 1000

// CreateInput はトラック作成の入力値。
// DateとTimeOffsetが両方nilの場合は現在時刻を記録日時とする。
type CreateInput struct {
	TrackName       string
	Date            *time.Time
	TimeOffset      *time.Duration
	DurationMinutes int
	Data            map[string]any
}

// UpdateInput はトラック部分更新の入力値。nilのフィールドは変更しない。
type UpdateInput struct {
	TrackName       *string
	Date            *time.Time
	DurationMinutes *int
	Data            map[string]any
}

// AccessTokenResolver はアクセストークンからユーザーを引く。
type AccessTokenResolver interface {
	FindByAccessToken(ctx context.Context, token string) (*model.User, error)
}

// Service はトラック記録のサービス層。
type Service struct {
	tracks  repository.TrackRepository
	users   AccessTokenResolver
	policy  Policy
	metrics metrics.MetricsCollector
	now     func() time.Time
	newID   func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	tracks repository.TrackRepository,
	users AccessTokenResolver,
	policy Policy,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		tracks:  tracks,
		users:   users,
		policy:  policy,
		metrics: collector,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// build は入力値を検証してトラックを組み立てる。永続化はしない。
func (s *Service) build(userID string, in CreateInput, now time.Time) (*model.Track, error) {
	name, err := s.policy.Validate(in.TrackName, in.Data)
	if err != nil {
		return nil, err
	}
	if err := ValidateDuration(in.DurationMinutes); err != nil {
		return nil, err
	}

	date := now
	switch {
	case in.Date != nil:
		date = in.Date.UTC()
	case in.TimeOffset != nil:
		date = now.Add(*in.TimeOffset)
	}
	if date.IsZero() || date.Year() < 1 || date.Year() > 9999 {
		return nil, model.NewInvalidTrackError("dateが不正です")
	}

	return &model.Track{
		ID:              s.newID(),
		UserID:          userID,
		TrackName:       name,
		Date:            date,
		DurationMinutes: in.DurationMinutes,
		Data:            in.Data,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Create はトラックを検証して作成する。検証に失敗した場合は何も保存しない。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Track, error) {
	t, err := s.build(userID, in, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.tracks.Create(ctx, t); err != nil {
		return nil, storeError(err, "トラックの作成に失敗しました")
	}

	s.metrics.RecordTracksCreated(1)
	slog.Debug("トラックを作成しました",
		slog.String("user_id", userID),
		slog.String("track_id", t.ID),
		slog.String("track_name", t.TrackName),
	)
	return t, nil
}

// Import は複数のトラックをまとめて作成する。
// 1件でも検証に失敗した場合は位置を示すエラーを返し、何も保存しない。
func (s *Service) Import(ctx context.Context, userID string, inputs []CreateInput) ([]*model.Track, error) {
	if len(inputs) == 0 {
		return nil, model.NewValidationError("tracksが空です")
	}
	if len(inputs) > MaxImportSize {
		return nil, model.NewValidationError(fmt.Sprintf("一度にインポートできるのは%d件までです", MaxImportSize))
	}

	now := s.now().UTC()
	tracks := make([]*model.Track, 0, len(inputs))
	for i, in := range inputs {
		t, err := s.build(userID, in, now)
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				apiErr.Message = fmt.Sprintf("tracks[%d]: %s", i, apiErr.Message)
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}

	if err := s.tracks.CreateMany(ctx, tracks); err != nil {
		return nil, storeError(err, "トラックの一括作成に失敗しました")
	}

	s.metrics.RecordTracksCreated(len(tracks))
	slog.Info("トラックをインポートしました",
		slog.String("user_id", userID),
		slog.Int("count", len(tracks)),
	)
	return tracks, nil
}

// List は検索条件に一致するトラックを返す。該当なしは空スライス。
func (s *Service) List(ctx context.Context, filter model.TrackFilter) ([]*model.Track, error) {
	tracks, err := s.tracks.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("トラック一覧の取得に失敗しました: %w", err)
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	return tracks, nil
}

// Get は指定トラックを返す。
func (s *Service) Get(ctx context.Context, userID, trackID string) (*model.Track, error) {
	t, err := s.tracks.FindByID(ctx, userID, trackID)
	if err != nil {
		return nil, fmt.Errorf("トラックの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTrackNotFoundError()
	}
	return t, nil
}

// Update はトラックを部分更新する。
// 検証はトランザクション内で行い、失敗した場合は何も変更しない。
func (s *Service) Update(ctx context.Context, userID, trackID string, in UpdateInput) (*model.Track, error) {
	now := s.now().UTC()

	t, err := s.tracks.Update(ctx, userID, trackID, func(t *model.Track) error {
		name := t.TrackName
		if in.TrackName != nil {
			name = *in.TrackName
		}
		data := t.Data
		if in.Data != nil {
			data = in.Data
		}

		validated, err := s.policy.Validate(name, data)
		if err != nil {
			return err
		}
		t.TrackName = validated
		t.Data = data

		if in.Date != nil {
			t.Date = in.Date.UTC()
		}
		if in.DurationMinutes != nil {
			if err := ValidateDuration(*in.DurationMinutes); err != nil {
				return err
			}
			t.DurationMinutes = *in.DurationMinutes
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(err, "トラックの更新に失敗しました")
	}
	if t == nil {
		return nil, model.NewTrackNotFoundError()
	}
	return t, nil
}

// storeError はストアのエラーをAPIエラーに変換する。
// 変換できないエラーはmsgで包んで返す。
func storeError(err error, msg string) error {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.Is(err, repository.ErrOwnerNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, repository.ErrCheckViolation):
		return model.NewInvalidTrackError("記録の値が制約を満たしていません")
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// Delete は指定トラックを削除する。
func (s *Service) Delete(ctx context.Context, userID, trackID string) error {
	deleted, err := s.tracks.Delete(ctx, userID, trackID)
	if err != nil {
		return fmt.Errorf("トラックの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTrackNotFoundError()
	}
	s.metrics.RecordTracksDeleted(1)
	return nil
}

// DeleteLatest はユーザーが最後に作成したトラックを削除して返す。
func (s *Service) DeleteLatest(ctx context.Context, userID string) (*model.Track, error) {
	t, err := s.tracks.DeleteLatest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("最新トラックの削除に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTrackNotFoundError()
	}
	s.metrics.RecordTracksDeleted(1)
	return t, nil
}

// resolveToken はアクセストークンの所有ユーザーIDを返す。
func (s *Service) resolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewInvalidAccessTokenError()
	}
	u, err := s.users.FindByAccessToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("アクセストークンの照合に失敗しました: %w", err)
	}
	if u == nil {
		return "", model.NewInvalidAccessTokenError()
	}
	return u.ID, nil
}

// CreateWithAccessToken はWebhook経由でトラックを作成する。
func (s *Service) CreateWithAccessToken(ctx context.Context, token string, in CreateInput) (*model.Track, error) {
	userID, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, userID, in)
}

// DeleteLatestWithAccessToken はWebhook経由で最新トラックを削除する。
func (s *Service) DeleteLatestWithAccessToken(ctx context.Context, token string) (*model.Track, error) {
	userID, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.DeleteLatest(ctx, userID)
}
