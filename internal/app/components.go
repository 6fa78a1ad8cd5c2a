package app

import (
	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/orchestrator"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/poller"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store persists patterns, attributes, packages and runs
	Store service.Store

	// Registry holds the attribute schemas
	Registry *registry.Registry

	// Catalog owns pattern lifecycle state
	Catalog *catalog.Catalog

	// Orchestrator drives pipeline runs against the build system
	Orchestrator *orchestrator.Orchestrator

	// Poller reconciles runs whose signals went missing
	Poller poller.Poller

	// BuildSystem is the driver pipeline requests are sent to
	BuildSystem buildsystem.Client
}

// close releases the in-process components in dependency order
func (c *AppComponents) close() {
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if local, ok := c.BuildSystem.(*buildsystem.Local); ok {
		local.Close()
	}
	if c.Catalog != nil {
		c.Catalog.Close()
	}
}
