package track

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

// MaxListLimit は1回の一覧取得で返す最大件数。
const MaxListLimit = 1000

// 日付パラメータとして受け付ける書式。先頭から順に試す。
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// ParseDate は日付文字列をUTCの時刻に変換する。
// YYYY-MM-DD形式はUTCの0時として扱う。
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseListQuery はクエリパラメータからトラック一覧の検索条件を組み立てる。
//
// trackName、fromDate、toDateは指定された場合のみ条件に加え、不正な値はエラーとする。
// skip、limit、sortは有効な値に解釈できた場合のみ適用し、不正な値は無視する。
func ParseListQuery(userID string, q url.Values) (model.TrackFilter, error) {
	filter := model.TrackFilter{UserID: userID, Sort: model.DefaultTrackSort}

	if q.Has("trackName") {
		name := strings.TrimSpace(q.Get("trackName"))
		if name == "" {
			return filter, model.NewInvalidQueryError("trackNameが空です")
		}
		filter.TrackName = &name
	}

	if v := q.Get("fromDate"); v != "" {
		from, ok := ParseDate(v)
		if !ok {
			return filter, model.NewInvalidQueryError("fromDateを解釈できません: " + v)
		}
		filter.FromDate = &from
	}

	if v := q.Get("toDate"); v != "" {
		to, ok := ParseDate(v)
		if !ok {
			return filter, model.NewInvalidQueryError("toDateを解釈できません: " + v)
		}
		filter.ToDate = &to
	}

	if filter.FromDate != nil && filter.ToDate != nil && filter.FromDate.After(*filter.ToDate) {
		return filter, model.NewInvalidQueryError("fromDateはtoDate以前で指定してください")
	}

	if skip, err := strconv.Atoi(q.Get("skip")); err == nil && skip >= 0 {
		filter.Skip = &skip
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		if limit > MaxListLimit {
			limit = MaxListLimit
		}
		filter.Limit = &limit
	}

	if sort := model.TrackSort(q.Get("sort")); sort.IsValid() {
		filter.Sort = sort
	}

	return filter, nil
}
