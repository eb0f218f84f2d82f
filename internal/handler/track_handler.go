package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/track"
)

// maxTimeOffsetMillis はtimeOffsetの絶対値の上限（ミリ秒）。10年分。
const maxTimeOffsetMillis = float64(10 * 365 * 24 * time.Hour / time.Millisecond)

// TrackServiceInterface はトラックハンドラーが必要とするサービスインターフェース。
type TrackServiceInterface interface {
	Create(ctx context.Context, userID string, in track.CreateInput) (*model.Track, error)
	Import(ctx context.Context, userID string, inputs []track.CreateInput) ([]*model.Track, error)
	List(ctx context.Context, filter model.TrackFilter) ([]*model.Track, error)
	Get(ctx context.Context, userID, trackID string) (*model.Track, error)
	Update(ctx context.Context, userID, trackID string, in track.UpdateInput) (*model.Track, error)
	Delete(ctx context.Context, userID, trackID string) error
	DeleteLatest(ctx context.Context, userID string) (*model.Track, error)
	CreateWithAccessToken(ctx context.Context, token string, in track.CreateInput) (*model.Track, error)
	DeleteLatestWithAccessToken(ctx context.Context, token string) (*model.Track, error)
}

// TrackHandler はトラック記録のHTTPハンドラー。
type TrackHandler struct {
	service TrackServiceInterface
}

// NewTrackHandler はTrackHandlerを生成する。
func NewTrackHandler(service TrackServiceInterface) *TrackHandler {
	return &TrackHandler{
		service: service,
	}
}

// createTrackRequest はトラック作成リクエストのボディ。
// timeOffsetは現在時刻からのずれ（ミリ秒）で、dateが指定された場合は無視する。
type createTrackRequest struct {
	TrackName  *string        `json:"trackName" validate:"required,min=1"`
	Date       *string        `json:"date"`
	TimeOffset *float64       `json:"timeOffset"`
	Duration   *int           `json:"duration"`
	Data       map[string]any `json:"data"`
}

type updateTrackRequest struct {
	TrackName *string        `json:"trackName"`
	Date      *string        `json:"date"`
	Duration  *int           `json:"duration"`
	Data      map[string]any `json:"data"`
}

type deleteTrackRequest struct {
	ConfirmDeletion *bool `json:"confirmDeletion" validate:"required"`
}

type importTracksRequest struct {
	Tracks []createTrackRequest `json:"tracks" validate:"required,dive"`
}

type webhookCreateRequest struct {
	AccessToken *string        `json:"accessToken" validate:"required,min=1"`
	TrackName   *string        `json:"trackName" validate:"required,min=1"`
	TimeOffset  *float64       `json:"timeOffset"`
	Duration    *int           `json:"duration"`
	Data        map[string]any `json:"data"`
}

type webhookDeleteRequest struct {
	AccessToken *string `json:"accessToken" validate:"required,min=1"`
}

// trackResponse はトラックのAPIレスポンス。
type trackResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	TrackName string         `json:"trackName"`
	Date      time.Time      `json:"date"`
	Duration  int            `json:"duration"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func toTrackResponse(t *model.Track) trackResponse {
	return trackResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		TrackName: t.TrackName,
		Date:      t.Date,
		Duration:  t.DurationMinutes,
		Data:      t.Data,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTrackResponses(tracks []*model.Track) []trackResponse {
	resp := make([]trackResponse, 0, len(tracks))
	for _, t := range tracks {
		resp = append(resp, toTrackResponse(t))
	}
	return resp
}

// parseTimeOffset はミリ秒のtimeOffsetをtime.Durationに変換する。
func parseTimeOffset(ms *float64) (*time.Duration, error) {
	if ms == nil {
		return nil, nil
	}
	if math.IsNaN(*ms) || math.Abs(*ms) > maxTimeOffsetMillis {
		return nil, model.NewInvalidTrackError("timeOffsetは前後10年以内で指定してください")
	}
	d := time.Duration(*ms * float64(time.Millisecond))
	return &d, nil
}

// parseDateField は日付文字列を解釈する。nilはnilのまま返す。
func parseDateField(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, ok := track.ParseDate(*s)
	if !ok {
		return nil, model.NewInvalidTrackError("dateを解釈できません: " + *s)
	}
	return &t, nil
}

func (req createTrackRequest) toInput() (track.CreateInput, error) {
	date, err := parseDateField(req.Date)
	if err != nil {
		return track.CreateInput{}, err
	}
	offset, err := parseTimeOffset(req.TimeOffset)
	if err != nil {
		return track.CreateInput{}, err
	}
	in := track.CreateInput{
		TrackName:  *req.TrackName,
		Date:       date,
		TimeOffset: offset,
		Data:       req.Data,
	}
	if req.Duration != nil {
		in.DurationMinutes = *req.Duration
	}
	return in, nil
}

// trackIDParam はパスのトラックIDを検証して返す。不正なら400を書き込みfalseを返す。
func trackIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError(id))
		return "", false
	}
	return id, true
}

// CreateTrack はトラックを作成する。
// POST /v1/tracks
func (h *TrackHandler) CreateTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTrackRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	t, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTrackResponse(t))
}

// ImportTracks はトラックを一括作成する。1件でも不正なら何も保存しない。
// POST /v1/tracks/import
func (h *TrackHandler) ImportTracks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req importTracksRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	inputs := make([]track.CreateInput, 0, len(req.Tracks))
	for i, tr := range req.Tracks {
		in, err := tr.toInput()
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				apiErr.Message = fmt.Sprintf("tracks[%d]: %s", i, apiErr.Message)
			}
			handleServiceError(w, err)
			return
		}
		inputs = append(inputs, in)
	}

	tracks, err := h.service.Import(r.Context(), userID, inputs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTrackResponses(tracks))
}

// ListTracks はクエリ条件に一致するトラック一覧を返す。該当なしは空配列。
// GET /v1/tracks
func (h *TrackHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	filter, err := track.ParseListQuery(userID, r.URL.Query())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	tracks, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTrackResponses(tracks))
}

// GetTrack はトラック詳細を返す。
// GET /v1/tracks/{id}
func (h *TrackHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	trackID, ok := trackIDParam(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, trackID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTrackResponse(t))
}

// UpdateTrack はトラックを部分更新する。
// PATCH /v1/tracks/{id}
func (h *TrackHandler) UpdateTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	trackID, ok := trackIDParam(w, r)
	if !ok {
		return
	}

	var req updateTrackRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	date, err := parseDateField(req.Date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	t, err := h.service.Update(r.Context(), userID, trackID, track.UpdateInput{
		TrackName:       req.TrackName,
		Date:            date,
		DurationMinutes: req.Duration,
		Data:            req.Data,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTrackResponse(t))
}

// DeleteTrack はトラックを削除する。confirmDeletion=trueが必要。
// DELETE /v1/tracks/{id}
func (h *TrackHandler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	trackID, ok := trackIDParam(w, r)
	if !ok {
		return
	}

	var req deleteTrackRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if !*req.ConfirmDeletion {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewConfirmationRequiredError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, trackID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteLastTrack は最後に作成したトラックを削除する。
// DELETE /v1/tracks/last
func (h *TrackHandler) DeleteLastTrack(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.DeleteLatest(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// WebhookCreateTrack はアクセストークンで認証してトラックを作成する。
// POST /v1/tracks/webhook
func (h *TrackHandler) WebhookCreateTrack(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	offset, err := parseTimeOffset(req.TimeOffset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	in := track.CreateInput{
		TrackName:  *req.TrackName,
		TimeOffset: offset,
		Data:       req.Data,
	}
	if req.Duration != nil {
		in.DurationMinutes = *req.Duration
	}

	t, err := h.service.CreateWithAccessToken(r.Context(), *req.AccessToken, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTrackResponse(t))
}

// WebhookDeleteLastTrack はアクセストークンで認証して最新トラックを削除する。
// DELETE /v1/tracks/webhook
func (h *TrackHandler) WebhookDeleteLastTrack(w http.ResponseWriter, r *http.Request) {
	var req webhookDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if _, err := h.service.DeleteLatestWithAccessToken(r.Context(), *req.AccessToken); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
