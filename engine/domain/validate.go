package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so callers see the field they actually sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateQuery checks the structural requirements of a query request. An
// absent text is a hard failure; a blank one is not.
func ValidateQuery(r QueryRequest) error {
	return structErr(validate.Struct(r))
}

// ValidateEntities checks an entity-evidence request.
func ValidateEntities(r EntityRequest) error {
	if err := structErr(validate.Struct(r)); err != nil {
		return err
	}
	for i, name := range r.EntityNames {
		if strings.TrimSpace(name) == "" {
			return NewValidationError(fmt.Sprintf("entityNames[%d]", i), name, ErrMissingField)
		}
	}
	return nil
}

// ValidateFacet checks a discovery request.
func ValidateFacet(r FacetRequest) error {
	return structErr(validate.Struct(r))
}

// structErr converts the first validator failure into a ValidationError.
func structErr(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewValidationError("", "", fmt.Errorf("%w: %v", ErrInvalidField, err))
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return NewValidationError(fe.Field(), "", ErrMissingField)
	}
	return NewValidationError(fe.Field(), fmt.Sprint(fe.Value()), ErrInvalidField)
}
