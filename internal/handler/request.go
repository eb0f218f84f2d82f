package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/lifetracker/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限。一括インポートを考慮した値。
const maxRequestBodyBytes = 4 << 20

// requestValidator はリクエスト構造体の検証に使うバリデーター。
// エラーメッセージのフィールド名にはjsonタグの名前を使う。
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON はリクエストボディをdstにデコードし、タグに従って検証する。
// 不正なJSONや型の誤り、検証エラーはVALIDATION_ERRORとして返す。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return translateDecodeError(err)
	}
	return validateRequest(dst)
}

func translateDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return model.NewValidationError("リクエストボディが空です")
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return model.NewValidationError(fmt.Sprintf("%sの型が不正です（%sが必要です）", field, typeErr.Type.Kind()))
	default:
		return model.NewValidationError("リクエストボディの解析に失敗しました")
	}
}

// validateRequest はvalidateタグに従ってリクエストを検証し、最初の違反を返す。
func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError("リクエストの検証に失敗しました")
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return model.NewValidationError(field + "は必須です")
	case "min":
		if fe.Kind() == reflect.String {
			return model.NewValidationError(field + "が空です")
		}
		return model.NewValidationError(fmt.Sprintf("%sは%s以上で指定してください", field, fe.Param()))
	case "max":
		return model.NewValidationError(fmt.Sprintf("%sは%s件以下で指定してください", field, fe.Param()))
	default:
		return model.NewValidationError(field + "が不正です")
	}
}
