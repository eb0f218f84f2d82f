package model

import "time"

// Track はユーザーが記録した1件の出来事を表す。
type Track struct {
	ID              string
	UserID          string
	TrackName       string
	Date            time.Time
	DurationMinutes int
	Data            map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TrackSort はトラック一覧の並び順を表す。
type TrackSort string

// 指定可能な並び順。先頭の"-"は降順を表す。
const (
	SortDateAsc       TrackSort = "date"
	SortDateDesc      TrackSort = "-date"
	SortCreatedAtAsc  TrackSort = "createdAt"
	SortCreatedAtDesc TrackSort = "-createdAt"
	SortNameAsc       TrackSort = "trackName"
	SortNameDesc      TrackSort = "-trackName"
)

// DefaultTrackSort は並び順未指定時の既定値。
const DefaultTrackSort = SortDateDesc

// IsValid は並び順が許可リストに含まれるかどうかを返す。
func (s TrackSort) IsValid() bool {
	switch s {
	case SortDateAsc, SortDateDesc, SortCreatedAtAsc, SortCreatedAtDesc, SortNameAsc, SortNameDesc:
		return true
	}
	return false
}

// TrackFilter はトラック一覧の検索条件を表す。
// nilのフィールドは条件に含めない。
type TrackFilter struct {
	UserID    string
	TrackName *string
	FromDate  *time.Time
	ToDate    *time.Time
	Skip      *int
	Limit     *int
	Sort      TrackSort
}

// Matches はトラックが絞り込み条件に一致するかどうかを返す。
// 日付の範囲は両端を含む。Skip/Limit/Sortは評価しない。
func (f TrackFilter) Matches(t *Track) bool {
	if t.UserID != f.UserID {
		return false
	}
	if f.TrackName != nil && t.TrackName != *f.TrackName {
		return false
	}
	if f.FromDate != nil && t.Date.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && t.Date.After(*f.ToDate) {
		return false
	}
	return true
}
