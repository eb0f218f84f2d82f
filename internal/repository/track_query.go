package repository

import (
	"fmt"
	"strings"

	"github.com/hitoshi/lifetracker/internal/model"
)

const trackColumns = `id, user_id, track_name, date, duration_minutes, data, created_at, updated_at`

// 並び順と ORDER BY 句の対応。ここにない値は既定の並び順にフォールバックする。
// 同値の行はseq（挿入順）で並べ、一括登録で作成日時が揃っても順序を一意にする。
var trackOrderBy = map[model.TrackSort]string{
	model.SortDateAsc:       "date ASC, seq ASC",
	model.SortDateDesc:      "date DESC, seq DESC",
	model.SortCreatedAtAsc:  "created_at ASC, seq ASC",
	model.SortCreatedAtDesc: "created_at DESC, seq DESC",
	model.SortNameAsc:       "track_name ASC, date DESC, seq DESC",
	model.SortNameDesc:      "track_name DESC, date DESC, seq DESC",
}

// buildTrackListQuery は検索条件からSELECT文とプレースホルダ引数を組み立てる。
// ユーザーIDは常に条件に含める。値はすべてプレースホルダで渡す。
func buildTrackListQuery(f model.TrackFilter) (string, []any) {
	var b strings.Builder
	args := []any{f.UserID}

	b.WriteString(`SELECT ` + trackColumns + ` FROM tracks WHERE user_id = $1`)

	if f.TrackName != nil {
		args = append(args, *f.TrackName)
		fmt.Fprintf(&b, " AND track_name = $%d", len(args))
	}
	if f.FromDate != nil {
		args = append(args, *f.FromDate)
		fmt.Fprintf(&b, " AND date >= $%d", len(args))
	}
	if f.ToDate != nil {
		args = append(args, *f.ToDate)
		fmt.Fprintf(&b, " AND date <= $%d", len(args))
	}

	orderBy, ok := trackOrderBy[f.Sort]
	if !ok {
		orderBy = trackOrderBy[model.DefaultTrackSort]
	}
	b.WriteString(" ORDER BY " + orderBy)

	if f.Limit != nil {
		args = append(args, *f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Skip != nil {
		args = append(args, *f.Skip)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return b.String(), args
}
