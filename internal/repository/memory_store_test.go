package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *MemoryStore, id, email, token string) {
	t.Helper()
	err := s.Users().Create(context.Background(), &model.User{
		ID:          id,
		UserName:    "user-" + id,
		Email:       email,
		AccessToken: token,
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedTrack(t *testing.T, s *MemoryStore, id, userID, name string, date time.Time) {
	t.Helper()
	err := s.Tracks().Create(context.Background(), &model.Track{
		ID:        id,
		UserID:    userID,
		TrackName: name,
		Date:      date,
		CreatedAt: date,
	})
	if err != nil {
		t.Fatalf("failed to seed track: %v", err)
	}
}

func TestMemoryUserRepo_Create_DuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com", "tok1")

	err := s.Users().Create(context.Background(), &model.User{ID: "u2", Email: "a@example.com", AccessToken: "tok2"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestMemoryUserRepo_Create_DuplicateAccessToken(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com", "tok1")

	err := s.Users().Create(context.Background(), &model.User{ID: "u2", Email: "b@example.com", AccessToken: "tok1"})
	if !errors.Is(err, ErrDuplicateAccessToken) {
		t.Errorf("err = %v, want ErrDuplicateAccessToken", err)
	}
}

func TestMemoryUserRepo_FindReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com", "tok1")

	u, _ := s.Users().FindByID(context.Background(), "u1")
	u.Email = "changed@example.com"

	again, _ := s.Users().FindByEmail(context.Background(), "a@example.com")
	if again == nil {
		t.Fatal("mutating a returned user must not change the store")
	}
}

func TestMemoryUserRepo_DeleteWithTracks_OnlyOwnedTracks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedUser(t, s, "u2", "b@example.com", "tok2")
	seedTrack(t, s, "t1", "u1", "coffee", baseTime)
	seedTrack(t, s, "t2", "u1", "tea", baseTime.Add(time.Hour))
	seedTrack(t, s, "t3", "u2", "coffee", baseTime)

	if err := s.Users().DeleteWithTracks(ctx, "u1"); err != nil {
		t.Fatalf("DeleteWithTracks failed: %v", err)
	}

	if u, _ := s.Users().FindByID(ctx, "u1"); u != nil {
		t.Error("user u1 should be deleted")
	}
	left, _ := s.Tracks().List(ctx, model.TrackFilter{UserID: "u1"})
	if len(left) != 0 {
		t.Errorf("u1 tracks left = %d, want 0", len(left))
	}
	other, _ := s.Tracks().List(ctx, model.TrackFilter{UserID: "u2"})
	if len(other) != 1 {
		t.Errorf("u2 tracks = %d, want 1", len(other))
	}
}

func TestMemoryUserRepo_DeleteWithTracks_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Users().DeleteWithTracks(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryUserRepo_RedeemPasswordReset_SingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	if err := s.Sessions().Create(ctx, &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := s.Users().SetPasswordResetCode(ctx, "u1", "code-1", baseTime); err != nil {
		t.Fatalf("SetPasswordResetCode failed: %v", err)
	}

	userID, err := s.Users().RedeemPasswordReset(ctx, "code-1", "new-hash", baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want u1", userID)
	}

	u, _ := s.Users().FindByID(ctx, "u1")
	if u.PasswordHash != "new-hash" || u.PasswordResetCode != nil {
		t.Errorf("user after redeem = %+v", u)
	}
	if sess, _ := s.Sessions().FindByID(ctx, "s1"); sess != nil {
		t.Error("sessions should be dropped after password reset")
	}

	if _, err := s.Users().RedeemPasswordReset(ctx, "code-1", "other-hash", baseTime.Add(-time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("second redeem err = %v, want ErrNotFound", err)
	}
	u, _ = s.Users().FindByID(ctx, "u1")
	if u.PasswordHash != "new-hash" {
		t.Error("second redeem must not change the password")
	}
}

func TestMemoryUserRepo_RedeemPasswordReset_StaleCode(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	s.Users().SetPasswordResetCode(ctx, "u1", "code-1", baseTime)

	_, err := s.Users().RedeemPasswordReset(ctx, "code-1", "new-hash", baseTime.Add(time.Minute))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryUserRepo_ClearStaleResetCodes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedUser(t, s, "u2", "b@example.com", "tok2")
	s.Users().SetPasswordResetCode(ctx, "u1", "old", baseTime.Add(-2*time.Hour))
	s.Users().SetPasswordResetCode(ctx, "u2", "new", baseTime)

	n, err := s.Users().ClearStaleResetCodes(ctx, baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}
	u2, _ := s.Users().FindByID(ctx, "u2")
	if u2.PasswordResetCode == nil {
		t.Error("fresh reset code should be kept")
	}
}

func TestMemoryTrackRepo_List_DateRangeInclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")

	d1 := baseTime
	d2 := baseTime.Add(24 * time.Hour)
	d3 := baseTime.Add(48 * time.Hour)
	seedTrack(t, s, "t1", "u1", "coffee", d1)
	seedTrack(t, s, "t2", "u1", "coffee", d2)
	seedTrack(t, s, "t3", "u1", "coffee", d3)

	got, err := s.Tracks().List(ctx, model.TrackFilter{
		UserID:   "u1",
		FromDate: &d1,
		ToDate:   &d2,
		Sort:     model.SortDateAsc,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("got %d tracks, want [t1 t2]", len(got))
	}
}

func TestMemoryTrackRepo_List_SkipLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		seedTrack(t, s, id, "u1", "walk", baseTime.Add(time.Duration(i)*time.Hour))
	}

	skip, limit := 1, 2
	got, _ := s.Tracks().List(ctx, model.TrackFilter{UserID: "u1", Skip: &skip, Limit: &limit, Sort: model.SortDateAsc})
	if len(got) != 2 || got[0].ID != "t2" || got[1].ID != "t3" {
		t.Errorf("unexpected page: %v", trackIDs(got))
	}

	far := 10
	got, _ = s.Tracks().List(ctx, model.TrackFilter{UserID: "u1", Skip: &far})
	if len(got) != 0 {
		t.Errorf("skip past end should be empty, got %v", trackIDs(got))
	}
}

func TestMemoryTrackRepo_Update_AbortsOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedTrack(t, s, "t1", "u1", "coffee", baseTime)

	wantErr := errors.New("invalid")
	_, err := s.Tracks().Update(ctx, "u1", "t1", func(tr *model.Track) error {
		tr.TrackName = "changed"
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	got, _ := s.Tracks().FindByID(ctx, "u1", "t1")
	if got.TrackName != "coffee" {
		t.Errorf("TrackName = %q, failed update must not persist", got.TrackName)
	}
}

func TestMemoryTrackRepo_Update_OtherUsersTrack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedUser(t, s, "u2", "b@example.com", "tok2")
	seedTrack(t, s, "t1", "u1", "coffee", baseTime)

	got, err := s.Tracks().Update(ctx, "u2", "t1", func(*model.Track) error { return nil })
	if err != nil || got != nil {
		t.Errorf("Update by non-owner = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestMemoryTrackRepo_DeleteLatest_PerUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedUser(t, s, "u2", "b@example.com", "tok2")
	seedTrack(t, s, "t1", "u1", "a", baseTime)
	seedTrack(t, s, "t2", "u1", "b", baseTime.Add(time.Minute))
	seedTrack(t, s, "t3", "u2", "c", baseTime.Add(time.Hour))

	deleted, err := s.Tracks().DeleteLatest(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted == nil || deleted.ID != "t2" {
		t.Fatalf("deleted = %v, want t2", deleted)
	}

	if got, _ := s.Tracks().FindByID(ctx, "u2", "t3"); got == nil {
		t.Error("other user's newer track must survive")
	}
	if got, _ := s.Tracks().FindByID(ctx, "u1", "t1"); got == nil {
		t.Error("older track must survive")
	}
}

func TestMemoryTrackRepo_DeleteLatest_NoTracks(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com", "tok1")

	got, err := s.Tracks().DeleteLatest(context.Background(), "u1")
	if err != nil || got != nil {
		t.Errorf("DeleteLatest = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestMemoryTrackRepo_CreateMany_AllOrNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	seedTrack(t, s, "t1", "u1", "coffee", baseTime)

	err := s.Tracks().CreateMany(ctx, []*model.Track{
		{ID: "t2", UserID: "u1", TrackName: "tea"},
		{ID: "t1", UserID: "u1", TrackName: "dup"},
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if got, _ := s.Tracks().FindByID(ctx, "u1", "t2"); got != nil {
		t.Error("no track from a failed batch may be stored")
	}
}

func TestMemorySessionRepo_ExpiredSessionIsHidden(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@example.com", "tok1")
	s.Sessions().Create(ctx, &model.Session{ID: "old", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)})
	s.Sessions().Create(ctx, &model.Session{ID: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})

	if got, _ := s.Sessions().FindByID(ctx, "old"); got != nil {
		t.Error("expired session should not be returned")
	}

	n, _ := s.Sessions().DeleteExpired(ctx, time.Now())
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
	if got, _ := s.Sessions().FindByID(ctx, "live"); got == nil {
		t.Error("live session should remain")
	}
}

func trackIDs(ts []*model.Track) []string {
	ids := make([]string, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	return ids
}

func TestMemoryTrackRepo_Create_OwnerMissing(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	err := s.Tracks().Create(context.Background(), &model.Track{
		ID: "t1", UserID: "ghost", TrackName: "coffee", Date: now, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("err = %v, want ErrOwnerNotFound", err)
	}
}
