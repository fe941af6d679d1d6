/*
Package req provides helpers for HTTP request parsing and validation.

BindJSON decodes a strict JSON body and then runs go-playground/validator rules declared
on the destination struct, so handlers only see well-formed input.
*/
package req

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/logx"
)

// MaxJSONBodyBytes bounds request bodies; every JSON input of the API is tiny.
const MaxJSONBodyBytes int64 = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindJSON decodes the request body into dst and validates it.
func BindJSON(r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return Validate(dst)
}

// Validate runs the struct's validate tags.
func Validate(dst any) *errs.CustomError {
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			logx.Warn("request validation failed", "fields", fields)
		}
		return errs.NewError(errs.ErrInvalidParams)
	}
	return nil
}
