// Package connectors implements the source connector contract (§6) for
// the hydration pipeline: validate_config, list_changes, get_metadata,
// download. Each connector is opaque to the pipeline about what an
// "item" actually is — it's whatever the connector's own list_changes
// handed back.
package connectors

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Item is opaque to the pipeline; connectors type-assert their own
// concrete item type back out of it.
type Item any

// Metadata is what the pipeline needs to decide whether a document
// changed, regardless of source.
type Metadata struct {
	SourceDocumentID string
	Name             string
	MIME             string
	ModifiedTime     *time.Time
	Size             *int64
	Checksum         string
	Path             string
	Removed          bool
}

// Connector is implemented per source_type (google_drive,
// google_drive_public, server_fs, ...).
type Connector interface {
	ValidateConfig() error
	ListChanges(ctx context.Context, cursor *string) (items []Item, newCursor *string, err error)
	GetMetadata(ctx context.Context, item Item) (Metadata, error)
	Download(ctx context.Context, item Item) ([]byte, error)
}

// Factory builds a Connector from a source's parsed config and
// optional secrets reference.
type Factory func(config map[string]any, secretsRef *string) (Connector, error)

// Registry resolves a source_type to its Factory. Construction for a
// given (source_type, config) pair is coalesced through a singleflight
// group so two hydration runs racing over the same source — e.g. a
// scheduled sweep and a manual retrigger — share one connector build
// instead of each paying its own breaker/client setup cost.
type Registry struct {
	factories map[string]Factory
	building  singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(sourceType string, factory Factory) {
	r.factories[sourceType] = factory
}

func (r *Registry) Build(sourceType string, config map[string]any, secretsRef *string) (Connector, error) {
	factory, ok := r.factories[sourceType]
	if !ok {
		return nil, &UnknownSourceTypeError{SourceType: sourceType}
	}
	key := fmt.Sprintf("%s:%v:%v", sourceType, config, secretsRef)
	v, err, _ := r.building.Do(key, func() (any, error) {
		return factory(config, secretsRef)
	})
	if err != nil {
		return nil, err
	}
	return v.(Connector), nil
}

// UnknownSourceTypeError reports a source_type absent from the registry.
type UnknownSourceTypeError struct {
	SourceType string
}

func (e *UnknownSourceTypeError) Error() string {
	return "unknown source type: " + e.SourceType
}
