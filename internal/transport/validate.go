package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Janar2510/driveapipe-app/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// decodeJSON decodes the request body into dst and validates it. An empty
// body decodes to the zero value.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return validateStruct(dst)
}

// validateStruct runs the struct tags of v and converts failures into a
// VALIDATION_ERROR envelope.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewBadRequestError(err.Error())
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError(fe))
	}
	return model.NewValidationError(details)
}

func fieldError(fe validator.FieldError) model.FieldError {
	field := fe.Namespace()
	// Drop the root struct name: "createDealRequest.title" -> "title".
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "notblank":
		return model.FieldError{Field: field, Code: "REQUIRED", Message: field + " is required"}
	case "min", "max", "gte", "lte":
		return model.FieldError{Field: field, Code: "RANGE",
			Message: fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())}
	case "len", "alpha", "uppercase":
		return model.FieldError{Field: field, Code: "FORMAT",
			Message: fmt.Sprintf("%s must satisfy %s", field, fe.Tag())}
	default:
		return model.FieldError{Field: field, Code: strings.ToUpper(fe.Tag()),
			Message: fmt.Sprintf("%s failed %s validation", field, fe.Tag())}
	}
}
