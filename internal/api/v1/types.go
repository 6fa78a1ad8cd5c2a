package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// CreatePatternRequest is the body of POST /v1/patterns
type CreatePatternRequest struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Attributes  []service.AttributeRef `json:"attributes"`
}

// UpdatePatternRequest is the body of PUT /v1/patterns/{id}. Omitted fields are unchanged.
type UpdatePatternRequest struct {
	Description *string                `json:"description,omitempty"`
	Attributes  []service.AttributeRef `json:"attributes,omitempty"`
}

// PatternListResponse is the body of GET /v1/patterns
type PatternListResponse struct {
	Patterns []*service.Pattern `json:"patterns"`
	Count    int                `json:"count"`
}

// PackageListResponse is the body of GET /v1/patterns/{id}/packages
type PackageListResponse struct {
	Packages []service.Package `json:"packages"`
	// Latest maps each package name to its newest version
	Latest map[string]string `json:"latest"`
}

// SignalRequest is the body of POST /v1/patterns/{id}/pipeline-signal
type SignalRequest struct {
	RunID         *uuid.UUID           `json:"runId,omitempty"`
	Stage         string               `json:"stage"`
	Status        string               `json:"status"`
	Packages      []service.PackageRef `json:"packages,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	RepositoryRef string               `json:"repositoryRef,omitempty"`
	SignalTime    time.Time            `json:"signalTime"`
}

// SignalResponse reports whether a signal changed anything
type SignalResponse struct {
	Applied bool `json:"applied"`
}

// DefineAttributeRequest is the body of POST /v1/attributes
type DefineAttributeRequest struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// AttributeListResponse is the body of GET /v1/attributes
type AttributeListResponse struct {
	Attributes []*service.Attribute `json:"attributes"`
}
