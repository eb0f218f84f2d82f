package user

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/security"
)

// userFields はユーザー属性の検証ルール。文字数はルーン数で数える。
type userFields struct {
	UserName string `json:"userName" validate:"min=2,max=50"`
	Email    string `json:"email" validate:"min=5,max=100,email"`
	Password string `json:"password" validate:"min=4,max=100"`
}

type passwordField struct {
	Password string `json:"password" validate:"min=4,max=100"`
}

// Validator はユーザー属性の検証と正規化を行う。ユーザー名は前後の空白以外を書き換えない。
type Validator struct {
	validate *validator.Validate
	markup   security.MarkupDetector
}

// NewValidator はValidatorを生成する。
func NewValidator(markup security.MarkupDetector) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v, markup: markup}
}

// NormalizeEmail はメールアドレスの前後の空白を除き小文字にする。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser はユーザー名、メールアドレス、パスワードを検証し、正規化済みのユーザーを返す。
// ID、パスワードハッシュ、アクセストークンは呼び出し側で設定する。
func (v *Validator) NewUser(name, email, rawPassword string) (*model.User, error) {
	fields := userFields{
		UserName: strings.TrimSpace(name),
		Email:    NormalizeEmail(email),
		Password: rawPassword,
	}
	if err := v.validate.Struct(fields); err != nil {
		return nil, translate(err)
	}
	if v.markup != nil && v.markup.ContainsMarkup(fields.UserName) {
		return nil, model.NewValidationError("userNameにHTMLタグは使用できません")
	}

	return &model.User{
		UserName: fields.UserName,
		Email:    fields.Email,
	}, nil
}

// ValidatePassword はパスワードの文字数を検証する。
func (v *Validator) ValidatePassword(raw string) error {
	if err := v.validate.Struct(passwordField{Password: raw}); err != nil {
		return translate(err)
	}
	return nil
}

// translate は検証エラーを最初の違反を説明するAPIErrorに変換する。
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("ユーザー属性の検証に失敗しました: %w", err)
	}
	return model.NewValidationError(describe(verrs[0]))
}

// describe は検証違反1件を日本語のメッセージにする。
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%sは必須です", fe.Field())
	case "min":
		return fmt.Sprintf("%sは%s文字以上で指定してください", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%sは%s文字以内で指定してください", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%sの形式が不正です", fe.Field())
	default:
		return fmt.Sprintf("%sが不正です", fe.Field())
	}
}
