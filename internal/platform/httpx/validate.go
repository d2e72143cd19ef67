package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shopledger/shopledger/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind decodes the request body into target and validates its struct tags.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}

// Validate runs struct tag validation and reports the first failing field.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return shared.NewValidationError(fieldPath(fe.Namespace()), ruleMessage(fe))
	}
	return shared.NewValidationError("", err.Error())
}

func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "dive":
		return "is invalid"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

// QueryTime parses an optional RFC3339 or YYYY-MM-DD query parameter in loc.
func QueryTime(r *http.Request, name string, loc *time.Location) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, shared.NewValidationError(name, "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	return t, nil
}

// QueryBool parses an optional boolean query parameter; nil means unset.
func QueryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, shared.NewValidationError(name, "must be a boolean")
	}
	return &v, nil
}
