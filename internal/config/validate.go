package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config file names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"mapstructure", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ValidationError lists every problem found in the configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// describe renders validator field errors as "runs[0].name is required"
func describe(err error) []string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		field := fe.Namespace()
		// Drop the root struct name
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "lte":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a URL", field))
		case "excludesall":
			messages = append(messages, fmt.Sprintf("%s must not contain path separators", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
		}
	}
	return messages
}
