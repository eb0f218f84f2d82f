package user

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("secret-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "secret-pass" || strings.Contains(hash, "secret-pass") {
		t.Fatal("ハッシュに平文が含まれています")
	}
	if !ComparePassword(hash, "secret-pass") {
		t.Error("正しいパスワードが一致しませんでした")
	}
	if ComparePassword(hash, "secret-pasS") {
		t.Error("誤ったパスワードが一致しました")
	}
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	a, err := HashPassword("same", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := HashPassword("same", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("同じパスワードから同一のハッシュが生成されました")
	}
}

func TestHashPassword_MaxLengthPassword(t *testing.T) {
	raw := strings.Repeat("あ", 100)
	hash, err := HashPassword(raw, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("100文字のパスワードでエラー: %v", err)
	}
	if !ComparePassword(hash, raw) {
		t.Error("100文字のパスワードが一致しませんでした")
	}
	if ComparePassword(hash, strings.Repeat("あ", 99)) {
		t.Error("末尾が異なるパスワードが一致しました")
	}
}

func TestComparePassword_EmptyHash(t *testing.T) {
	if ComparePassword("", "anything") {
		t.Error("空のハッシュで一致しました")
	}
}

func TestGenerateAccessToken_LengthAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateAccessToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(token) != AccessTokenLength {
			t.Fatalf("len(token) = %d, want %d", len(token), AccessTokenLength)
		}
		if seen[token] {
			t.Fatalf("トークンが重複しました: %s", token)
		}
		seen[token] = true
	}
}

func TestGenerateResetCode_Length(t *testing.T) {
	code, err := GenerateResetCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != ResetCodeLength {
		t.Errorf("len(code) = %d, want %d", len(code), ResetCodeLength)
	}
}
