package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"tether-go/internal/models"
)

// MaxShortKeyLength is the width of the url_key column
const MaxShortKeyLength = 20

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validation functions
	if err := validate.RegisterValidation("url", validateURL); err != nil {
		panic(fmt.Sprintf("failed to register url validation: %v", err))
	}
	if err := validate.RegisterValidation("shortkey", validateShortKey); err != nil {
		panic(fmt.Sprintf("failed to register shortkey validation: %v", err))
	}
	if err := validate.RegisterValidation("redirectcode", validateRedirectCode); err != nil {
		panic(fmt.Sprintf("failed to register redirectcode validation: %v", err))
	}
}

// Validate validates a struct using tags
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// ValidateURL validates a URL separately
func ValidateURL(urlStr string) error {
	return validate.Var(urlStr, "required,url")
}

// ValidateShortKey validates a short key separately
func ValidateShortKey(key string) error {
	return validate.Var(key, "required,shortkey")
}

// Custom validation functions

func validateURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	// Destinations must be absolute http(s) URLs
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateShortKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if len(key) < 1 || len(key) > MaxShortKeyLength {
		return false
	}

	for _, char := range key {
		isAlnum := (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9')
		if !isAlnum {
			return false
		}
	}
	return true
}

func validateRedirectCode(fl validator.FieldLevel) bool {
	return models.IsValidRedirectStatusCode(int(fl.Field().Int()))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// FormatError formats a validation error into a human-readable message
func FormatError(err error) []ValidationError {
	var validationErrors []ValidationError

	if err == nil {
		return validationErrors
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return validationErrors
	}

	for _, e := range errs {
		var message string

		switch e.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", e.Field())
		case "url":
			message = "Invalid URL format. Must be an absolute http or https URL"
		case "shortkey":
			message = fmt.Sprintf("Key must be 1-%d characters long and contain only letters and numbers", MaxShortKeyLength)
		case "redirectcode":
			message = "Redirect status code must be one of 301, 302, 303, 307 or 308"
		default:
			message = fmt.Sprintf("Invalid value for %s", e.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field: strings.ToLower(e.Field()),
			Error: message,
		})
	}

	return validationErrors
}
