// Package server exposes the HTTP API: health, status, metrics, the manual
// highlight trigger, the highlight audit log, and the settings surface used
// by the control panel UI. It includes permissive CORS for development and
// injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/highlight-relay/config"
	"github.com/onnwee/highlight-relay/obs"
)

// Controller is the slice of the OBS client facade the handlers consume.
// Narrowed to an interface so handler tests can stub it.
type Controller interface {
	Status() obs.Status
	Subscribe() (<-chan obs.Status, func())
	Highlight(ctx context.Context, ev obs.MessageEvent) error
	Connect(ctx context.Context) error
	Disconnect()
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db   *sql.DB
	ctrl Controller
	cfg  *config.Config
	ctx  context.Context
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, dbx *sql.DB, ctrl Controller, cfg *config.Config) *Handlers {
	return &Handlers{
		db:   dbx,
		ctrl: ctrl,
		cfg:  cfg,
		ctx:  ctx,
	}
}
