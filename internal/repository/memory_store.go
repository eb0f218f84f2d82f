package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

// MemoryStore は開発用のインメモリストア。
// ユーザー、トラック、セッションを1つのミューテックスで保護し、
// 複数レコードにまたがる操作をPostgreSQL実装と同じく原子的に行う。
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	tracks   map[string]*memoryTrack
	sessions map[string]*model.Session
	seq      uint64
	now      func() time.Time
}

// memoryTrack は同一作成日時のトラックを挿入順で区別するための連番を持つ。
type memoryTrack struct {
	track *model.Track
	seq   uint64
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*model.User),
		tracks:   make(map[string]*memoryTrack),
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// PingContext はヘルスチェック用。インメモリストアは常に利用可能。
func (s *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// Users はユーザーリポジトリを返す。
func (s *MemoryStore) Users() *MemoryUserRepo { return &MemoryUserRepo{s: s} }

// Tracks はトラックリポジトリを返す。
func (s *MemoryStore) Tracks() *MemoryTrackRepo { return &MemoryTrackRepo{s: s} }

// Sessions はセッションリポジトリを返す。
func (s *MemoryStore) Sessions() *MemorySessionRepo { return &MemorySessionRepo{s: s} }

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.PasswordResetCode != nil {
		code := *u.PasswordResetCode
		c.PasswordResetCode = &code
	}
	if u.PasswordResetRequestedAt != nil {
		at := *u.PasswordResetRequestedAt
		c.PasswordResetRequestedAt = &at
	}
	return &c
}

func cloneTrack(t *model.Track) *model.Track {
	c := *t
	c.Data = maps.Clone(t.Data)
	return &c
}

// MemoryUserRepo はMemoryStore上のUserRepository実装。
type MemoryUserRepo struct {
	s *MemoryStore
}

// conflict はexcludeID以外のユーザーとの一意制約違反を検出する。呼び出し側でロックを保持すること。
func (r *MemoryUserRepo) conflict(excludeID, email, token, resetCode string) error {
	for id, u := range r.s.users {
		if id == excludeID {
			continue
		}
		if email != "" && u.Email == email {
			return ErrDuplicateEmail
		}
		if token != "" && u.AccessToken == token {
			return ErrDuplicateAccessToken
		}
		if resetCode != "" && u.PasswordResetCode != nil && *u.PasswordResetCode == resetCode {
			return ErrDuplicateResetCode
		}
	}
	return nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return ErrDuplicateKey
	}
	if err := r.conflict(user.ID, user.Email, user.AccessToken, ""); err != nil {
		return err
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func (r *MemoryUserRepo) find(match func(*model.User) bool) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if match(u) {
			return cloneUser(u)
		}
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

// FindByAccessToken はアクセストークンでユーザーを取得する。
func (r *MemoryUserRepo) FindByAccessToken(ctx context.Context, token string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.AccessToken == token }), nil
}

// UpdateAccessToken はアクセストークンを置き換える。
func (r *MemoryUserRepo) UpdateAccessToken(ctx context.Context, id, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.conflict(id, "", token, ""); err != nil {
		return err
	}
	u.AccessToken = token
	u.UpdatedAt = r.s.now()
	return nil
}

// SetPasswordResetCode はパスワードリセットコードを保存する。
func (r *MemoryUserRepo) SetPasswordResetCode(ctx context.Context, id, code string, requestedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.conflict(id, "", "", code); err != nil {
		return err
	}
	u.PasswordResetCode = &code
	u.PasswordResetRequestedAt = &requestedAt
	u.UpdatedAt = r.s.now()
	return nil
}

// RedeemPasswordReset はリセットコードを消費してパスワードを更新する。
func (r *MemoryUserRepo) RedeemPasswordReset(ctx context.Context, code, passwordHash string, issuedAfter time.Time) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.PasswordResetCode == nil || *u.PasswordResetCode != code {
			continue
		}
		if u.PasswordResetRequestedAt == nil || u.PasswordResetRequestedAt.Before(issuedAfter) {
			return "", ErrNotFound
		}

		u.PasswordHash = passwordHash
		u.PasswordResetCode = nil
		u.PasswordResetRequestedAt = nil
		u.UpdatedAt = r.s.now()
		for id, sess := range r.s.sessions {
			if sess.UserID == u.ID {
				delete(r.s.sessions, id)
			}
		}
		return u.ID, nil
	}
	return "", ErrNotFound
}

// ClearStaleResetCodes は有効期限を過ぎたリセットコードを消去する。
func (r *MemoryUserRepo) ClearStaleResetCodes(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, u := range r.s.users {
		if u.PasswordResetCode != nil && u.PasswordResetRequestedAt != nil && u.PasswordResetRequestedAt.Before(before) {
			u.PasswordResetCode = nil
			u.PasswordResetRequestedAt = nil
			n++
		}
	}
	return n, nil
}

// DeleteWithTracks はユーザーと所有する全トラック、セッションを削除する。
func (r *MemoryUserRepo) DeleteWithTracks(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return ErrNotFound
	}
	for trackID, mt := range r.s.tracks {
		if mt.track.UserID == id {
			delete(r.s.tracks, trackID)
		}
	}
	for sessionID, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, sessionID)
		}
	}
	delete(r.s.users, id)
	return nil
}

// MemoryTrackRepo はMemoryStore上のTrackRepository実装。
type MemoryTrackRepo struct {
	s *MemoryStore
}

// insert はロックを保持した状態で呼び出すこと。
func (r *MemoryTrackRepo) insert(t *model.Track) error {
	if _, ok := r.s.users[t.UserID]; !ok {
		return ErrOwnerNotFound
	}
	if _, ok := r.s.tracks[t.ID]; ok {
		return ErrDuplicateKey
	}
	r.s.seq++
	r.s.tracks[t.ID] = &memoryTrack{track: cloneTrack(t), seq: r.s.seq}
	return nil
}

// Create はトラックを作成する。所有ユーザーが存在しない場合はErrOwnerNotFoundを返す。
func (r *MemoryTrackRepo) Create(ctx context.Context, track *model.Track) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.insert(track)
}

// CreateMany は全件を検証してから一括で保存する。
func (r *MemoryTrackRepo) CreateMany(ctx context.Context, tracks []*model.Track) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		if _, ok := r.s.users[t.UserID]; !ok {
			return ErrOwnerNotFound
		}
		if _, ok := r.s.tracks[t.ID]; ok || seen[t.ID] {
			return ErrDuplicateKey
		}
		seen[t.ID] = true
	}
	for _, t := range tracks {
		if err := r.insert(t); err != nil {
			return err
		}
	}
	return nil
}

// FindByID は指定ユーザーが所有する指定IDのトラックを取得する。
func (r *MemoryTrackRepo) FindByID(ctx context.Context, userID, id string) (*model.Track, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	mt, ok := r.s.tracks[id]
	if !ok || mt.track.UserID != userID {
		return nil, nil
	}
	return cloneTrack(mt.track), nil
}

// List は検索条件に一致するトラックを返す。
func (r *MemoryTrackRepo) List(ctx context.Context, filter model.TrackFilter) ([]*model.Track, error) {
	r.s.mu.Lock()
	matched := make([]*memoryTrack, 0)
	for _, mt := range r.s.tracks {
		if filter.Matches(mt.track) {
			matched = append(matched, &memoryTrack{track: cloneTrack(mt.track), seq: mt.seq})
		}
	}
	r.s.mu.Unlock()

	sort.SliceStable(matched, trackLess(matched, filter.Sort))

	if filter.Skip != nil {
		if *filter.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[*filter.Skip:]
		}
	}
	if filter.Limit != nil && *filter.Limit < len(matched) {
		matched = matched[:*filter.Limit]
	}

	out := make([]*model.Track, len(matched))
	for i, mt := range matched {
		out[i] = mt.track
	}
	return out, nil
}

// trackLess はbuildTrackListQueryのORDER BYと同じ順序を返す比較関数を作る。
func trackLess(ts []*memoryTrack, s model.TrackSort) func(i, j int) bool {
	if !s.IsValid() {
		s = model.DefaultTrackSort
	}
	return func(i, j int) bool {
		a, b := ts[i], ts[j]
		switch s {
		case model.SortDateAsc:
			if !a.track.Date.Equal(b.track.Date) {
				return a.track.Date.Before(b.track.Date)
			}
			return a.seq < b.seq
		case model.SortCreatedAtAsc:
			if !a.track.CreatedAt.Equal(b.track.CreatedAt) {
				return a.track.CreatedAt.Before(b.track.CreatedAt)
			}
			return a.seq < b.seq
		case model.SortCreatedAtDesc:
			if !a.track.CreatedAt.Equal(b.track.CreatedAt) {
				return a.track.CreatedAt.After(b.track.CreatedAt)
			}
			return a.seq > b.seq
		case model.SortNameAsc, model.SortNameDesc:
			if a.track.TrackName != b.track.TrackName {
				if s == model.SortNameAsc {
					return a.track.TrackName < b.track.TrackName
				}
				return a.track.TrackName > b.track.TrackName
			}
			if !a.track.Date.Equal(b.track.Date) {
				return a.track.Date.After(b.track.Date)
			}
			return a.seq > b.seq
		default:
			if !a.track.Date.Equal(b.track.Date) {
				return a.track.Date.After(b.track.Date)
			}
			return a.seq > b.seq
		}
	}
}

// Update はapplyを適用して保存する。applyが失敗した場合は何も変更しない。
func (r *MemoryTrackRepo) Update(ctx context.Context, userID, id string, apply func(*model.Track) error) (*model.Track, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	mt, ok := r.s.tracks[id]
	if !ok || mt.track.UserID != userID {
		return nil, nil
	}

	working := cloneTrack(mt.track)
	if err := apply(working); err != nil {
		return nil, err
	}
	mt.track = cloneTrack(working)
	return working, nil
}

// Delete は指定トラックを削除する。
func (r *MemoryTrackRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	mt, ok := r.s.tracks[id]
	if !ok || mt.track.UserID != userID {
		return false, nil
	}
	delete(r.s.tracks, id)
	return true, nil
}

// DeleteLatest は作成日時が最も新しいトラックを削除して返す。
func (r *MemoryTrackRepo) DeleteLatest(ctx context.Context, userID string) (*model.Track, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var latest *memoryTrack
	for _, mt := range r.s.tracks {
		if mt.track.UserID != userID {
			continue
		}
		if latest == nil ||
			mt.track.CreatedAt.After(latest.track.CreatedAt) ||
			(mt.track.CreatedAt.Equal(latest.track.CreatedAt) && mt.seq > latest.seq) {
			latest = mt
		}
	}
	if latest == nil {
		return nil, nil
	}
	delete(r.s.tracks, latest.track.ID)
	return latest.track, nil
}

// MemorySessionRepo はMemoryStore上のSessionRepository実装。
type MemorySessionRepo struct {
	s *MemoryStore
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[session.UserID]; !ok {
		return ErrNotFound
	}
	c := *session
	r.s.sessions[session.ID] = &c
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok || sess.IsExpired(r.s.now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.IsExpired(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ TrackRepository   = (*MemoryTrackRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
)
