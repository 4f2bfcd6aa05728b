package service

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized   = "UNAUTHORIZED"
	TextCodeBadInput       = "BAD_INPUT"
	TextCodeGrantConflict  = "GRANT_CONFLICT"
	TextCodeInternal       = "INTERNAL_ERROR"
	TextCodeUnavailable    = "UNAVAILABLE"
	defaultInternalMessage = "An unexpected error occurred"
)

func serviceError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func serviceWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return serviceError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// AsServiceError returns err as a go-errors envelope, classifying bare errors as internal.
func AsServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return serviceWrapError(err, goerrors.CategoryInternal, defaultInternalMessage, http.StatusInternalServerError, TextCodeInternal, nil)
}

// HTTPStatus is the status a transport should answer with for a failed call.
// Only authentication, bad input and transient unavailability escape the 500 bucket.
func HTTPStatus(err error) int {
	rich := AsServiceError(err)
	if rich == nil {
		return http.StatusOK
	}
	switch {
	case rich.Category == goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case rich.Category == goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case rich.Code == http.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
