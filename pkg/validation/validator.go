package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// DateLayout is the accepted calendar date format.
const DateLayout = "2006-01-02"

var (
	tradeIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,64}$`)
	xssRegex     = regexp.MustCompile(`(?i)(<script|<iframe|<object|<embed|javascript:|vbscript:|on\w+\s*=)`)
)

// Validator validates request payloads and sanitizes free-text fields.
type Validator struct {
	validator *validator.Validate
	sanitizer *bluemonday.Policy
}

func NewValidator() *Validator {
	v := &Validator{
		validator: validator.New(),
		sanitizer: bluemonday.StrictPolicy(),
	}
	// report fields by their JSON names
	v.validator.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	v.registerCustomValidators()
	return v
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(ve))
	for _, e := range ve {
		msgs = append(msgs, e.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: errorMessage(fe),
		})
	}
	return out
}

// SanitizeInput strips markup from free text and trims surrounding space.
func (v *Validator) SanitizeInput(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(v.sanitizer.Sanitize(input))
}

// ParseDate parses a yyyy-mm-dd value as a UTC date. Empty input yields nil.
func ParseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", value)
	}
	return &t, nil
}

func (v *Validator) registerCustomValidators() {
	_ = v.validator.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		_, err := time.Parse(DateLayout, value)
		return err == nil
	})

	_ = v.validator.RegisterValidation("trade_id", func(fl validator.FieldLevel) bool {
		return tradeIDRegex.MatchString(fl.Field().String())
	})

	_ = v.validator.RegisterValidation("secure_string", func(fl validator.FieldLevel) bool {
		return !xssRegex.MatchString(fl.Field().String())
	})

	_ = v.validator.RegisterValidation("yes_no", func(fl validator.FieldLevel) bool {
		switch strings.ToUpper(fl.Field().String()) {
		case "", "Y", "N":
			return true
		}
		return false
	})
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "isodate":
		return fmt.Sprintf("%s must be a date in yyyy-mm-dd format", fe.Field())
	case "trade_id":
		return fmt.Sprintf("%s must be 1-64 letters, digits or . _ : -", fe.Field())
	case "secure_string":
		return fmt.Sprintf("%s contains forbidden content", fe.Field())
	case "yes_no":
		return fmt.Sprintf("%s must be Y or N", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
