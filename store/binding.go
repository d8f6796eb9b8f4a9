package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alimasry/go-ydoc/ydoc"
)

const tracerName = "github.com/alimasry/go-ydoc/store"

// Binding keeps a document's update log in a DocumentStore. Updates
// committed on the document are queued and written by Flush. A Binding is
// not safe for concurrent use, like the document it wraps.
type Binding struct {
	id      string
	doc     *ydoc.Doc
	st      DocumentStore
	sub     ydoc.SubscriptionID
	version int
	pending [][]byte
	tracer  trace.Tracer
	log     logr.Logger
}

// BindOption configures a Binding.
type BindOption func(*Binding)

// WithBindingLogger sets the logger of a Binding.
func WithBindingLogger(l logr.Logger) BindOption {
	return func(b *Binding) { b.log = l }
}

// WithTracerProvider sets the provider spans are created from. The default
// is the global provider.
func WithTracerProvider(p trace.TracerProvider) BindOption {
	return func(b *Binding) { b.tracer = p.Tracer(tracerName) }
}

// Bind loads document id from st into doc, creating it if it does not
// exist, and starts recording doc's updates. The snapshot and the log
// must have been written with doc's codec. Edits made to doc before Bind
// reach the store with the next Compact.
func Bind(ctx context.Context, st DocumentStore, id string, doc *ydoc.Doc, opts ...BindOption) (_ *Binding, err error) {
	b := &Binding{
		id:     id,
		doc:    doc,
		st:     st,
		tracer: otel.Tracer(tracerName),
		log:    stdr.New(log.Default()).WithName("binding"),
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, span := b.start(ctx, "Bind")
	defer func() { end(span, err) }()

	info, err := st.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if err := st.Create(ctx, id, nil); err != nil && !errors.Is(err, ErrExists) {
			return nil, fmt.Errorf("bind %q: %w", id, err)
		}
		info, err = st.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", id, err)
	}

	updates, err := st.GetUpdates(ctx, id, info.SnapshotVersion)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", id, err)
	}
	doc.Commit()
	if len(info.Snapshot) > 0 {
		if err := doc.Restore(info.Snapshot); err != nil {
			return nil, fmt.Errorf("bind %q: snapshot: %w", id, err)
		}
	}
	for i, u := range updates {
		if err := doc.Sync(u); err != nil {
			return nil, fmt.Errorf("bind %q: update %d: %w", id, info.SnapshotVersion+i+1, err)
		}
	}
	doc.Commit()
	b.version = info.SnapshotVersion + len(updates)
	span.SetAttributes(
		attribute.Int("snapshot.bytes", len(info.Snapshot)),
		attribute.Int("updates.replayed", len(updates)),
		attribute.Int("version", b.version),
	)

	sub, err := doc.OnUpdate(func(update []byte) {
		b.pending = append(b.pending, update)
	})
	if err != nil {
		return nil, err
	}
	b.sub = sub
	b.log.V(1).Info("bound document", "doc", id, "version", b.version, "replayed", len(updates))
	return b, nil
}

// Version is the number of updates the store holds for the document, as
// far as this binding knows.
func (b *Binding) Version() int { return b.version }

// Pending reports how many committed updates have not been flushed.
func (b *Binding) Pending() int { return len(b.pending) }

// Flush appends the queued updates to the store in commit order. On error
// the unwritten updates stay queued.
func (b *Binding) Flush(ctx context.Context) (err error) {
	if len(b.pending) == 0 {
		return nil
	}
	ctx, span := b.start(ctx, "Flush")
	defer func() { end(span, err) }()
	span.SetAttributes(attribute.Int("updates", len(b.pending)))

	for len(b.pending) > 0 {
		if err := b.st.AppendUpdate(ctx, b.id, b.pending[0], b.version+1); err != nil {
			return fmt.Errorf("flush %q: version %d: %w", b.id, b.version+1, err)
		}
		b.pending = b.pending[1:]
		b.version++
	}
	return nil
}

// Compact flushes the queue and stores the whole document as the snapshot,
// so later loads skip the log written so far.
func (b *Binding) Compact(ctx context.Context) (err error) {
	ctx, span := b.start(ctx, "Compact")
	defer func() { end(span, err) }()

	b.doc.Commit()
	if err := b.Flush(ctx); err != nil {
		return err
	}
	snapshot := b.doc.FullDiff()
	span.SetAttributes(attribute.Int("snapshot.bytes", len(snapshot)), attribute.Int("version", b.version))
	if err := b.st.UpdateSnapshot(ctx, b.id, snapshot, b.version); err != nil {
		return fmt.Errorf("compact %q: %w", b.id, err)
	}
	b.log.V(1).Info("compacted document", "doc", b.id, "version", b.version, "bytes", len(snapshot))
	return nil
}

// Close flushes the queue and stops recording updates.
func (b *Binding) Close(ctx context.Context) error {
	b.doc.Commit()
	err := b.Flush(ctx)
	b.doc.OffUpdate(b.sub)
	return err
}

func (b *Binding) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "store.Binding."+name, trace.WithAttributes(attribute.String("doc", b.id)))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}
