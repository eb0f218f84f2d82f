// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashとPasswordResetCodeはレスポンスに含めてはならない。
type User struct {
	ID                       string
	UserName                 string
	Email                    string
	PasswordHash             string
	AccessToken              string
	PasswordResetCode        *string
	PasswordResetRequestedAt *time.Time
	SignUpDate               time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はnow時点でセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
