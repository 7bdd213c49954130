package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/bastion/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		return models.ValidatePermissions([]string{fl.Field().String()}) == nil
	})
	return v
}

// ValidateRequest runs struct validation and reports the first failing field.
func ValidateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validation failed: %w", err)
	}
	fe := fieldErrs[0]
	return fmt.Errorf("validation failed: %s: %s", fe.Field(), describeRule(fe.Tag(), fe.Param()))
}

var ruleMessages = map[string]string{
	"required":   "this field is required",
	"email":      "must be a valid email address",
	"numeric":    "must be numeric",
	"permission": "must be a well-formed permission such as keys.read",
	"min":        "must be at least %s long",
	"max":        "must be at most %s long",
	"oneof":      "must be one of: %s",
	"gte":        "must be >= %s",
	"lte":        "must be <= %s",
}

func describeRule(tag, param string) string {
	msg, ok := ruleMessages[tag]
	if !ok {
		return "failed rule " + tag
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, param)
	}
	return msg
}
