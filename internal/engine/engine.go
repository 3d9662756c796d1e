// Package engine runs the fetch, validate, transform, conditional-write cycle
// for the navigation document. It holds no document state between calls and
// never retries: a version conflict is returned to the caller, who must start
// a fresh cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"navsphere/api/internal/blob"
	"navsphere/api/internal/navigation"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "navsphere/api/internal/engine"

// Actor is the caller a mutation runs for. Credential proves write
// authority; StoreToken, when set, is forwarded to stores that commit as
// the caller.
type Actor struct {
	ID         string
	Name       string
	Email      string
	Credential string
	StoreToken string
}

// Mutation transforms a validated document.
type Mutation func(navigation.Document) (navigation.Change, error)

// Outcome reports a completed cycle. When Changed is false no write was
// issued and Version is the token that was read.
type Outcome struct {
	Version string
	Changed bool
	Summary string
}

type Engine struct {
	store        blob.Store
	logger       log.FieldLogger
	tracer       trace.Tracer
	storeTimeout time.Duration
}

type Option func(*Engine)

func WithLogger(logger log.FieldLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithStoreTimeout bounds each store round trip. Zero disables the bound.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = timeout }
}

func New(store blob.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: log.StandardLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Read fetches and validates the document at path without modifying it.
func (e *Engine) Read(ctx context.Context, path string) (navigation.Document, string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.read", trace.WithAttributes(attribute.String("navsphere.path", path)))
	defer span.End()

	doc, version, err := e.fetch(ctx, path)
	if err != nil {
		recordError(span, err)
		return navigation.Document{}, "", err
	}
	return doc, version, nil
}

// Apply runs one read-modify-write cycle of mutate against path.
func (e *Engine) Apply(ctx context.Context, path string, actor Actor, mutate Mutation) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.apply", trace.WithAttributes(
		attribute.String("navsphere.path", path),
		attribute.String("navsphere.actor", actor.Name),
	))
	defer span.End()

	outcome, err := e.apply(ctx, path, actor, mutate)
	if err != nil {
		recordError(span, err)
		return Outcome{}, err
	}
	span.SetAttributes(
		attribute.Bool("navsphere.changed", outcome.Changed),
		attribute.String("navsphere.version", outcome.Version),
	)
	return outcome, nil
}

func (e *Engine) apply(ctx context.Context, path string, actor Actor, mutate Mutation) (Outcome, error) {
	if actor.Credential == "" {
		return Outcome{}, newError(KindUnauthorized, "write credential required", nil)
	}
	logger := e.logger.WithFields(log.Fields{"path": path, "actor": actor.Name})

	doc, version, err := e.fetch(ctx, path)
	if err != nil {
		return Outcome{}, err
	}

	_, span := e.tracer.Start(ctx, "engine.transform")
	change, err := mutate(doc)
	span.End()
	if err != nil {
		return Outcome{}, mutationError(err)
	}
	if !change.Changed {
		logger.WithField("version", version).Debug("engine: no-op mutation, skipping write")
		return Outcome{Version: version, Changed: false, Summary: change.Summary}, nil
	}
	if err := change.Document.Validate(); err != nil {
		return Outcome{}, newError(KindInvalidRequest, "mutation produced an invalid document", err)
	}

	payload, err := navigation.Encode(change.Document)
	if err != nil {
		return Outcome{}, newError(KindInvalidRequest, "encode navigation document", err)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, newError(KindCanceled, "request ended before write", err)
	}

	newVersion, err := e.write(ctx, blob.WriteRequest{
		Path:            path,
		Content:         payload,
		ExpectedVersion: version,
		Message:         change.Summary,
		Author: blob.Author{
			Name:  actor.Name,
			Email: actor.Email,
			Token: actor.StoreToken,
		},
	})
	if err != nil {
		logger.WithError(err).Warn("engine: write failed")
		return Outcome{}, err
	}
	logger.WithFields(log.Fields{"from": version, "to": newVersion}).Info("engine: " + change.Summary)
	return Outcome{Version: newVersion, Changed: true, Summary: change.Summary}, nil
}

func (e *Engine) fetch(ctx context.Context, path string) (navigation.Document, string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.fetch")
	defer span.End()

	storeCtx, cancel := e.withStoreTimeout(ctx)
	defer cancel()

	current, err := e.store.Read(storeCtx, path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return navigation.Document{}, "", newError(KindFetchFailed, fmt.Sprintf("navigation document %s not found", path), err)
		}
		return navigation.Document{}, "", newError(KindFetchFailed, "read navigation document", err)
	}
	span.SetAttributes(attribute.String("navsphere.version", current.Version))

	doc, err := navigation.Decode(current.Content)
	if err != nil {
		return navigation.Document{}, "", newError(KindInvalidDocument, "Invalid navigation data structure", err)
	}
	return doc, current.Version, nil
}

func (e *Engine) write(ctx context.Context, req blob.WriteRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.write")
	defer span.End()

	storeCtx, cancel := e.withStoreTimeout(ctx)
	defer cancel()

	version, err := e.store.Write(storeCtx, req)
	if err != nil {
		if errors.Is(err, blob.ErrVersionConflict) {
			return "", newError(KindVersionConflict, "navigation document changed since it was read", err)
		}
		if errors.Is(err, blob.ErrUnauthorized) {
			return "", newError(KindUnauthorized, "store rejected the write credential", err)
		}
		return "", newError(KindTransport, "write navigation document", err)
	}
	return version, nil
}

func (e *Engine) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

func mutationError(err error) error {
	switch {
	case errors.Is(err, navigation.ErrCategoryNotFound):
		return newError(KindNotFound, "Navigation item not found", err)
	case errors.Is(err, navigation.ErrInvalidDocument):
		return newError(KindInvalidDocument, "Invalid navigation data structure", err)
	default:
		return newError(KindInvalidRequest, err.Error(), err)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
}
