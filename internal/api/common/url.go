package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// GetAndValidateURLParam extracts and decodes a URL parameter. The value must not
// be empty or contain whitespace.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL encoding in %s", service.ErrInvalidInput, paramName)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%w: %s cannot be empty", service.ErrInvalidInput, paramName)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%w: %s cannot contain whitespace", service.ErrInvalidInput, paramName)
	}
	return decoded, nil
}

// GetIDParam extracts a UUID URL parameter
func GetIDParam(r *http.Request, paramName string) (uuid.UUID, error) {
	raw, err := GetAndValidateURLParam(r, paramName)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a UUID, got %q", service.ErrInvalidInput, paramName, raw)
	}
	return id, nil
}
