package anpr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"traffic-anpr-service/internal/utils"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("plate", plateFits)
	})
	return validate
}

// Validate checks the structural rules of a payload. It never touches
// storage and must run before any detection is processed.
func (p *WebhookPayload) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if _, err := ParseTimestamp(p.Timestamp); err != nil {
		return err
	}
	return nil
}

func (p *ParkPowPayload) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if _, err := ParseTimestamp(p.Timestamp); err != nil {
		return err
	}
	return nil
}

// plateFits bounds the normalized plate, which is what gets stored.
// Separators a camera adds do not count against the limit.
func plateFits(fl validator.FieldLevel) bool {
	return utf8.RuneCountInString(utils.NormalizePlate(fl.Field().String())) <= MaxPlateLength
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %q is not an RFC 3339 time", s)
	}
	return t, nil
}

func validateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), rootName(fe.Namespace())+".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte", "lte":
		return fmt.Sprintf("%s must be between 0 and 1", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "plate":
		return fmt.Sprintf("%s must be at most %d characters once normalized", field, MaxPlateLength)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func rootName(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i]
	}
	return ns
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}
