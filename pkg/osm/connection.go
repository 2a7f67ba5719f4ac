package osm

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/osmdoc"
	"github.com/NERVsystems/osmstore/pkg/store"
	"github.com/NERVsystems/osmstore/pkg/tracing"
)

// Callback receives the nodes registered by a successful load, in document
// order.
type Callback func(nodes []*entity.Node)

// Load is the pending result of an asynchronous load.
type Load struct {
	done   chan struct{}
	report *store.Report
	err    error
}

// Done is closed once the load has succeeded or failed.
func (l *Load) Done() <-chan struct{} { return l.done }

// Wait blocks until the load completes or ctx ends.
func (l *Load) Wait(ctx context.Context) (*store.Report, error) {
	select {
	case <-l.done:
		return l.report, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connection loads documents from the API into a store.
type Connection struct {
	client *Client
	store  *store.Store
	logger *slog.Logger
}

// NewConnection binds a client to a store.
func NewConnection(client *Client, st *store.Store, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{client: client, store: st, logger: logger}
}

func (c *Connection) Client() *Client     { return c.client }
func (c *Connection) Store() *store.Store { return c.store }

// LoadFromURL fetches url in the background, parses it into the store and
// calls cb with the parsed nodes. cb is only called on success; failures
// are reported through the returned Load. ctx bounds the whole load.
func (c *Connection) LoadFromURL(ctx context.Context, url string, cb Callback) *Load {
	l := &Load{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		l.report, l.err = c.load(ctx, url)
		if l.err != nil {
			c.logger.Error("load failed", "url", url, "error", l.err)
			return
		}
		if cb != nil {
			cb(l.report.Nodes)
		}
	}()
	return l
}

// LoadFromAPI loads the map call for box.
func (c *Connection) LoadFromAPI(ctx context.Context, box Extent, cb Callback) *Load {
	return c.LoadFromURL(ctx, c.client.APIURL(box), cb)
}

func (c *Connection) load(ctx context.Context, url string) (*store.Report, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.load")
	defer span.End()

	doc, err := c.client.Fetch(ctx, url)
	if err != nil {
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	return c.apply(ctx, doc)
}

func (c *Connection) apply(ctx context.Context, doc *osmdoc.Document) (*store.Report, error) {
	_, span := tracing.StartSpan(ctx, "store.parse")
	defer span.End()

	rep, err := c.store.Parse(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(tracing.ParseAttributes(
		len(rep.Nodes), rep.Ways, rep.Relations, rep.Placeholders, len(rep.Skipped))...)
	for _, d := range rep.Skipped {
		span.AddEvent("skipped_element", trace.WithAttributes(attribute.String("reason", d.String())))
	}
	return rep, nil
}

// LoadAreas downloads several boxes concurrently and applies them to the
// store one after another in argument order, so ways in a later box may
// reference nodes of an earlier one. Nothing is applied if any download
// fails.
func (c *Connection) LoadAreas(ctx context.Context, boxes []Extent) ([]*store.Report, error) {
	docs := make([]*osmdoc.Document, len(boxes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, box := range boxes {
		g.Go(func() error {
			doc, err := c.client.Fetch(gctx, c.client.APIURL(box))
			if err != nil {
				return fmt.Errorf("area %d: %w", i, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]*store.Report, len(docs))
	for i, doc := range docs {
		rep, err := c.apply(ctx, doc)
		if err != nil {
			return reports[:i], fmt.Errorf("area %d: %w", i, err)
		}
		reports[i] = rep
	}
	return reports, nil
}

// CheckHealth probes the API, for use with a connection monitor.
func (c *Connection) CheckHealth(ctx context.Context) error {
	return c.client.Ping(ctx)
}
