package user

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// AccessTokenLength はアクセストークンの文字数。
	AccessTokenLength = 21
	// ResetCodeLength はパスワードリセットコードの文字数。
	ResetCodeLength = 32
)

// bcryptInput はbcryptに渡す入力を返す。
// bcryptは72バイトを超える入力を受け付けないため、SHA-256で固定長にしてから渡す。
func bcryptInput(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword は平文パスワードからソルト付きハッシュを生成する。
func HashPassword(raw string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(raw), cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	return string(hash), nil
}

// ComparePassword は候補のパスワードがハッシュと一致するかどうかを返す。
func ComparePassword(hash, candidate string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(candidate)) == nil
}

// GenerateAccessToken は新しいアクセストークンを生成する。一意性は呼び出し側で保証する。
func GenerateAccessToken() (string, error) {
	token, err := gonanoid.New(AccessTokenLength)
	if err != nil {
		return "", fmt.Errorf("アクセストークンの生成に失敗しました: %w", err)
	}
	return token, nil
}

// GenerateResetCode は新しいパスワードリセットコードを生成する。
func GenerateResetCode() (string, error) {
	code, err := gonanoid.New(ResetCodeLength)
	if err != nil {
		return "", fmt.Errorf("リセットコードの生成に失敗しました: %w", err)
	}
	return code, nil
}
