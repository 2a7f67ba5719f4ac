package tools

import (
	"log/slog"
	"time"

	"github.com/NERVsystems/osmstore/pkg/osm"
	"github.com/NERVsystems/osmstore/pkg/store"
)

// DefaultLoadTimeout bounds a single load started from a tool call.
const DefaultLoadTimeout = 60 * time.Second

// Workspace is the editing session the tools operate on: one store, the
// connection that fills it and the undo history of local edits.
type Workspace struct {
	conn        *osm.Connection
	store       *store.Store
	history     *store.History
	logger      *slog.Logger
	loadTimeout time.Duration
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*Workspace)

func WithLoadTimeout(d time.Duration) WorkspaceOption {
	return func(w *Workspace) { w.loadTimeout = d }
}

func WithWorkspaceLogger(logger *slog.Logger) WorkspaceOption {
	return func(w *Workspace) { w.logger = logger }
}

// NewWorkspace creates a workspace over the connection's store.
func NewWorkspace(conn *osm.Connection, opts ...WorkspaceOption) *Workspace {
	w := &Workspace{
		conn:        conn,
		store:       conn.Store(),
		history:     store.NewHistory(),
		logger:      slog.Default(),
		loadTimeout: DefaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workspace) Store() *store.Store { return w.store }

func (w *Workspace) History() *store.History { return w.history }

func (w *Workspace) Connection() *osm.Connection { return w.conn }

// Stats summarizes the store for health reporting.
func (w *Workspace) Stats() map[string]int {
	c := w.store.Counts()
	return map[string]int{
		"nodes":     c.Nodes,
		"ways":      c.Ways,
		"relations": c.Relations,
		"pois":      c.POIs,
		"undo":      w.history.Len(),
	}
}
