// Package storage defines the document-store facade (§4.2, §6.3): the
// pluggable persistence interface the rest of the core is written
// against, plus the derived indexes (§3.4) needed to serve it without
// a full table scan on every request.
package storage

import (
	"context"
	"time"

	"github.com/onem2m/cse/resource"
)

// Criteria describes a discovery/search query (§4.4 "Discovery").
type Criteria struct {
	// Root restricts the search to the subtree rooted at this ri.
	Root string
	Ty   *resource.Type
	// AnyLabel matches if the resource carries any of these labels.
	AnyLabel   []string
	CRA, CRB   *time.Time
	AttrEquals map[string]any
	Limit      int
	Offset     int
}

// ErrNotFound is returned by Get/GetByName/Delete when the resource
// does not exist.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "resource not found" }

// Store is the document-store facade (§4.2). Every method is a
// single-operation atomic; callers that need multi-step behavior
// (e.g. CREATE's rollback-on-failure, §4.4) compose Store calls
// themselves rather than relying on any cross-call transaction.
type Store interface {
	Put(ctx context.Context, r *resource.Resource) error
	Get(ctx context.Context, ri string) (*resource.Resource, error)
	GetByName(ctx context.Context, pi, rn string) (*resource.Resource, error)
	Delete(ctx context.Context, ri string) error
	// Children returns pi's direct children, optionally filtered to the
	// given types, in (ct, ri) order (stable for la/ol resolution).
	Children(ctx context.Context, pi string, tyFilter ...resource.Type) ([]*resource.Resource, error)
	Search(ctx context.Context, c Criteria) ([]*resource.Resource, error)
}
