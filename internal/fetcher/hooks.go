// Package fetcher runs the relay-facing orchestration: loaders subscribe
// for a scope and feed adapted annotations into the collection; the
// publisher adapts, signs and broadcasts drafts.
package fetcher

import "github.com/starford/margin/internal/models"

// Hooks observe orchestration. Every field is optional; callbacks may run
// concurrently.
type Hooks struct {
	// OnEvent is called for every relay delivery, duplicates included.
	OnEvent func(kind int)
	// OnSkip is called when an event cannot be adapted.
	OnSkip func(reason string)
	// OnUpsert is called after an annotation was written to the collection.
	OnUpsert func(ann models.Annotation)
	// OnFetch is called when a subscription starts (true) and when it
	// reaches end of stored events or ends (false).
	OnFetch func(scope string, started bool)
	// OnPublish is called after every publish attempt.
	OnPublish func(kind string, err error)
}

func (h Hooks) event(kind int) {
	if h.OnEvent != nil {
		h.OnEvent(kind)
	}
}

func (h Hooks) skip(reason string) {
	if h.OnSkip != nil {
		h.OnSkip(reason)
	}
}

func (h Hooks) upsert(ann models.Annotation) {
	if h.OnUpsert != nil {
		h.OnUpsert(ann)
	}
}

func (h Hooks) fetch(scope string, started bool) {
	if h.OnFetch != nil {
		h.OnFetch(scope, started)
	}
}

func (h Hooks) publish(kind string, err error) {
	if h.OnPublish != nil {
		h.OnPublish(kind, err)
	}
}
