// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupGuard はユーザー名やトラック名など、クライアントがそのまま
// 画面に表示する短いテキストにマークアップが含まれるかを判定する。
// 入力は書き換えず、判定結果をもとに呼び出し側が拒否する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector は表示用テキストのマークアップ判定のインターフェースを定義する。
type MarkupDetector interface {
	// ContainsMarkup はbluemondayが除去する要素を含む場合にtrueを返す。
	ContainsMarkup(s string) bool
}

// MarkupGuard はMarkupDetectorの実装。bluemondayのポリシーはスレッドセーフ。
type MarkupGuard struct {
	policy *bluemonday.Policy
}

// NewMarkupGuard はタグを一切許可しないMarkupGuardを生成する。
func NewMarkupGuard() *MarkupGuard {
	return &MarkupGuard{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup はStrictPolicyでサニタイズした結果が入力と異なるかを判定する。
// 文字参照のエスケープ差は比較前に正規化するため、"&"や引用符だけでは該当しない。
func (g *MarkupGuard) ContainsMarkup(text string) bool {
	if text == "" {
		return false
	}
	return html.UnescapeString(g.policy.Sanitize(text)) != html.UnescapeString(text)
}

var _ MarkupDetector = (*MarkupGuard)(nil)
