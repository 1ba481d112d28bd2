// Package validation はvalidator/v10を使ったリクエスト検証を提供する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/hitoshi/ulib/internal/model"
)

// Validator はvalidator/v10をラップし、違反をmodel.APIErrorに変換する。
type Validator struct {
	v *validator.Validate
}

// New はJSONタグ名でフィールドを報告するValidatorを生成する。
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// 空白のみの文字列を拒否する
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("failed to register notblank validation: %v", err))
	}

	return &Validator{v: v}
}

// Validate は構造体を検証する。違反があれば全フィールドのメッセージを含むVALIDATION_ERRORを返す。
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Var は単一の値を検証する。違反があればfieldをキーとしたVALIDATION_ERRORを返す。
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.v.Var(value, tag)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}
	return model.NewValidationError(map[string]string{field: friendlyMessage(validationErrs[0])})
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fields := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		fields[fieldPath(e)] = friendlyMessage(e)
	}
	return model.NewValidationError(fields)
}

// fieldPath はトップレベルの構造体名を除いたフィールドパスを返す（例: genres[0]）。
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return e.Field()
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "notblank":
		return "必須項目です"
	case "email":
		return "有効なメールアドレスを指定してください"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("%s件以上指定してください", e.Param())
		}
		return fmt.Sprintf("%s文字以上で入力してください", e.Param())
	case "max":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("%s件以下で指定してください", e.Param())
		}
		return fmt.Sprintf("%s文字以内で入力してください", e.Param())
	case "url", "http_url":
		return "有効なURLを指定してください"
	case "uuid":
		return "有効なIDを指定してください"
	case "oneof":
		return "次のいずれかを指定してください: " + e.Param()
	case "gte":
		return e.Param() + "以上を指定してください"
	case "lte":
		return e.Param() + "以下を指定してください"
	default:
		return "不正な値です"
	}
}
