package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

// Validate checks the `validate` struct tags of config.  Every violated tag is reported as an
// *mrerrors.ErrInvalidArgument, collected in a multierror.
func Validate(config interface{}) error {
	err := validator.New().Struct(config)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.WithStack(err)
	}
	var result *multierror.Error
	for _, fieldErr := range validationErrors {
		result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
			Name:    stripPrefix(fieldErr.Namespace()),
			Value:   fieldErr.Value(),
			Message: describe(fieldErr),
		})
	}
	return result.ErrorOrNil()
}

func describe(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required but was not found"
	case "oneof":
		return fmt.Sprintf("must be one of %s", err.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	default:
		return fmt.Sprintf("fails %s", err.Tag())
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
