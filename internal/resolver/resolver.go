// Package resolver finds the local annotations an incoming reply points at.
// Delivery order across relays is not guaranteed, so lookups are retried on
// a bounded backoff schedule before a reference is declared missing.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
)

// Lookup is the read side of the annotation collection. FindByID returns
// (nil, nil) when the id is unknown.
type Lookup interface {
	FindByID(ctx context.Context, id string) (*models.Annotation, error)
}

// Resolver resolves event references against a live collection.
type Resolver struct {
	coll   Lookup
	policy Policy
	logger *slog.Logger
}

// New creates a Resolver.
func New(coll Lookup, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{coll: coll, policy: policy, logger: logger}
}

var errNotYet = errors.New("not in collection yet")

// Resolve looks id up, retrying per the policy. Exhaustion yields an error
// wrapping apperr.ErrReferenceNotFound; a failing lookup is returned as is,
// without retries.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.Annotation, error) {
	ann, err := Retry(ctx, r.policy, func(ctx context.Context) (*models.Annotation, error) {
		a, err := r.coll.FindByID(ctx, id)
		if err != nil {
			return nil, Permanent(err)
		}
		if a == nil {
			return nil, errNotYet
		}
		return a, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("resolver: %s: %w", id, ctxErr)
		}
		if !errors.Is(err, errNotYet) {
			return nil, fmt.Errorf("resolver: lookup %s: %w", id, err)
		}
		r.logger.Debug("resolver: reference not found", slog.String("id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("resolver: %s: %w", id, apperr.ErrReferenceNotFound)
	}
	return ann, nil
}

// Chain is the resolved ancestry of a reply event.
type Chain struct {
	Root       *models.Annotation
	Parent     *models.Annotation
	References []string
}

// ChainFor resolves the root named by ev's E tag and, when ev also names a
// distinct parent with an e tag, that parent. References is the parent's
// references plus the parent's id, or just the root id for direct replies.
// A parent whose chain does not start at the declared root is rejected with
// apperr.ErrRootMismatch.
func (r *Resolver) ChainFor(ctx context.Context, ev *nostr.Event) (Chain, error) {
	rootID := protocol.TagValue(ev.Tags, protocol.TagRootEvent)
	if rootID == "" {
		return Chain{}, fmt.Errorf("resolver: event %s has no root reference: %w", ev.ID, apperr.ErrInvalidEvent)
	}
	root, err := r.Resolve(ctx, rootID)
	if err != nil {
		return Chain{}, err
	}

	parentID := protocol.TagValue(ev.Tags, protocol.TagParentEvent)
	if parentID == "" || parentID == rootID {
		return Chain{Root: root, Parent: root, References: []string{rootID}}, nil
	}

	parent, err := r.Resolve(ctx, parentID)
	if err != nil {
		return Chain{}, err
	}
	refs := Extend(parent)
	if refs[0] != rootID {
		return Chain{}, fmt.Errorf("resolver: event %s declares root %s, parent %s has root %s: %w",
			ev.ID, rootID, parentID, refs[0], apperr.ErrRootMismatch)
	}
	return Chain{Root: root, Parent: parent, References: refs}, nil
}

// Extend returns the references of a reply to parent.
func Extend(parent *models.Annotation) []string {
	out := make([]string, 0, len(parent.References)+1)
	out = append(out, parent.References...)
	return append(out, parent.ID)
}
