// Package track はトラック記録のドメインロジックを提供する。
package track

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/security"
)

// DefaultMaxNameLength はフリーフォーム方式のトラック名の最大文字数。
const DefaultMaxNameLength = 100

// Policy はトラック名と付随データの検証方式を表す。
// 検証に成功した場合は正規化したトラック名を返す。副作用を持たない。
type Policy interface {
	Validate(name string, data map[string]any) (string, error)
}

// FreeFormPolicy は任意の名前を許可する検証方式。
// 前後の空白だけを取り除き、空でなくMaxNameLength文字以内であることを要求する。
// Markupが設定されていれば、マークアップを含む名前は書き換えずに拒否する。
type FreeFormPolicy struct {
	MaxNameLength int
	Markup        security.MarkupDetector
}

// NewFreeFormPolicy はFreeFormPolicyを生成する。
func NewFreeFormPolicy(markup security.MarkupDetector) *FreeFormPolicy {
	return &FreeFormPolicy{MaxNameLength: DefaultMaxNameLength, Markup: markup}
}

// Validate はトラック名を検証する。付随データは任意のJSONオブジェクトを許可する。
func (p *FreeFormPolicy) Validate(name string, data map[string]any) (string, error) {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return "", model.NewInvalidTrackError("trackNameは必須です")
	}
	if p.Markup != nil && p.Markup.ContainsMarkup(cleaned) {
		return "", model.NewInvalidTrackError("trackNameにHTMLタグは使用できません")
	}

	maxLen := p.MaxNameLength
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if utf8.RuneCountInString(cleaned) > maxLen {
		return "", model.NewInvalidTrackError(fmt.Sprintf("trackNameは%d文字以内で指定してください", maxLen))
	}

	return cleaned, nil
}

// RegistryPolicy は登録済みのトラック種別のみを許可する検証方式。
// 付随データのキーと値の型も種別ごとのスキーマで検証する。
type RegistryPolicy struct {
	Registry SchemaRegistry
}

// NewRegistryPolicy はRegistryPolicyを生成する。
func NewRegistryPolicy(registry SchemaRegistry) *RegistryPolicy {
	return &RegistryPolicy{Registry: registry}
}

// Validate はトラック名が登録済みであり、付随データがスキーマに一致することを検証する。
// 付随データがない場合は常に有効とする。
func (p *RegistryPolicy) Validate(name string, data map[string]any) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.NewInvalidTrackError("trackNameは必須です")
	}

	schema, ok := p.Registry.Lookup(name)
	if !ok {
		return "", model.NewInvalidTrackError(fmt.Sprintf("未登録のトラック種別です: %s（使用可能: %s）",
			name, strings.Join(p.Registry.Names(), ", ")))
	}

	for key, value := range data {
		kind, allowed := schema[key]
		if !allowed {
			return "", model.NewInvalidTrackError(fmt.Sprintf("%sに%sは指定できません", name, key))
		}
		if !kind.accepts(value) {
			return "", model.NewInvalidTrackError(fmt.Sprintf("%s.%sは%sで指定してください", name, key, kind))
		}
	}

	return name, nil
}

// ValidateDuration は所要時間（分）が0以上であることを検証する。
func ValidateDuration(minutes int) error {
	if minutes < 0 {
		return model.NewInvalidTrackError("durationは0以上で指定してください")
	}
	return nil
}
