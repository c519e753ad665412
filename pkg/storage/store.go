package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/projector"
)

const tracerName = "lensmerge.storage"

// Store hosts many documents read under the same schema. Calls on one
// document are serialized; different documents proceed in parallel.
type Store struct {
	engine *Engine
	schema string
	lenses []lens.Registration
	opts   []projector.Option
	tracer trace.Tracer
	logger *slog.Logger
}

type StoreOption func(*Store)

// WithProjectorOptions passes opts to every backend the store creates.
func WithProjectorOptions(opts ...projector.Option) StoreOption {
	return func(s *Store) { s.opts = append(s.opts, opts...) }
}

func WithTracerProvider(tp trace.TracerProvider) StoreOption {
	return func(s *Store) { s.tracer = tp.Tracer(tracerName) }
}

func NewStore(engine *Engine, schema string, lenses []lens.Registration, opts ...StoreOption) *Store {
	s := &Store{
		engine: engine,
		schema: schema,
		lenses: slices.Clone(lenses),
		tracer: otel.Tracer(tracerName),
		logger: slog.Default().With("schema", schema),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns the entry of id, creating the document on first use.
func (s *Store) Open(id string) (*Entry, error) {
	if entry, ok := s.engine.Get(id); ok {
		return entry, nil
	}

	opts := append(slices.Clone(s.opts), projector.WithLogger(s.logger.With("doc", id)))
	backend, err := projector.Init(s.schema, s.lenses, opts...)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", id, err)
	}
	entry, created := s.engine.PutIfAbsent(id, &Entry{Backend: backend, LastUpdated: time.Now()})
	if created {
		s.logger.Debug("opened document", "doc", id)
	}
	return entry, nil
}

func (s *Store) ApplyChanges(ctx context.Context, id string, blocks []projector.Block) (p projector.Patch, err error) {
	_, span := s.start(ctx, "storage.ApplyChanges", id, attribute.Int("blocks", len(blocks)))
	defer func() { finish(span, err) }()

	entry, err := s.Open(id)
	if err != nil {
		return projector.Patch{}, err
	}
	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	p, err = entry.Backend.ApplyChanges(blocks)
	if err != nil {
		return projector.Patch{}, fmt.Errorf("document %s: %w", id, err)
	}
	entry.LastUpdated = time.Now()
	span.SetAttributes(attribute.Int("diffs", len(p.Diffs)))
	return p, nil
}

func (s *Store) ApplyLocalChange(ctx context.Context, id string, change crdt.Change) (p projector.Patch, block projector.Block, err error) {
	_, span := s.start(ctx, "storage.ApplyLocalChange", id, attribute.String("actor", change.Actor))
	defer func() { finish(span, err) }()

	entry, err := s.Open(id)
	if err != nil {
		return projector.Patch{}, projector.Block{}, err
	}
	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	p, block, err = entry.Backend.ApplyLocalChange(change)
	if err != nil {
		return projector.Patch{}, projector.Block{}, fmt.Errorf("document %s: %w", id, err)
	}
	entry.LastUpdated = time.Now()
	span.SetAttributes(attribute.Int64("seq", int64(block.Change.Seq)))
	return p, block, nil
}

func (s *Store) GetPatch(ctx context.Context, id string) (p projector.Patch, err error) {
	_, span := s.start(ctx, "storage.GetPatch", id)
	defer func() { finish(span, err) }()

	entry, ok := s.engine.Get(id)
	if !ok {
		return projector.Patch{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	return entry.Backend.GetPatch()
}

func (s *Store) GetChanges(ctx context.Context, id string, have crdt.Clock) (blocks []projector.Block, err error) {
	_, span := s.start(ctx, "storage.GetChanges", id)
	defer func() { finish(span, err) }()

	entry, ok := s.engine.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	blocks = entry.Backend.GetChanges(have)
	span.SetAttributes(attribute.Int("blocks", len(blocks)))
	return blocks, nil
}

func (s *Store) Delete(id string) error {
	if !s.engine.Delete(id) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	s.logger.Debug("deleted document", "doc", id)
	return nil
}

// Documents lists the ids of open documents in ascending order.
func (s *Store) Documents() []string {
	return s.engine.Keys()
}

func (s *Store) start(ctx context.Context, name, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("doc", id), attribute.String("schema", s.schema))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
