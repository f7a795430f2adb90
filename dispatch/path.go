package dispatch

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
	"github.com/onem2m/cse/storage"
)

// resolve turns a request's To path into a resource, supporting the
// three addressing forms §4.4 "Path resolution" describes:
//
//   - absolute:    //<SP-ID>/<CSE-ID>/<structured-path...>
//   - SP-relative: /<CSE-ID>/<structured-path...>
//   - CSE-relative (unstructured): a bare resource-ID (ri)
//
// A structured path is resolved by walking child-by-rn from the
// CSEBase; an unstructured path is a direct ri lookup. The last
// segment "la"/"ol" of a structured path resolves to the virtual
// latest/oldest child instead of a stored sibling.
func (d *Dispatcher) resolve(ctx context.Context, to string) (*resource.Resource, error) {
	segs := splitPath(to)
	if len(segs) == 0 {
		return d.store.Get(ctx, d.cseBaseRI)
	}

	// An absolute path starts with the SP-ID; drop it so absolute and
	// SP-relative paths both start at the CSE-ID.
	if strings.HasPrefix(to, "//") {
		segs = segs[1:]
	}
	// SP-relative / absolute paths name the CSE-ID next (configured
	// with a leading "/"); strip it if it matches ours, then strip the
	// CSEBase rn, so the remainder is CSE-relative either way.
	if len(segs) > 0 && segs[0] == strings.TrimPrefix(d.cseID, "/") {
		segs = segs[1:]
	}
	if len(segs) > 0 && segs[0] == d.cseRN {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return d.store.Get(ctx, d.cseBaseRI)
	}

	// A single remaining segment is tried as an ri first (unstructured
	// addressing), and only then as an rn under the CSEBase.
	if len(segs) == 1 {
		if r, err := d.store.Get(ctx, segs[0]); err == nil {
			return r, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	parent, err := d.store.Get(ctx, d.cseBaseRI)
	if err != nil {
		return nil, err
	}
	for i, seg := range segs {
		last := i == len(segs)-1
		if last && (seg == "la" || seg == "ol") {
			return d.resolveVirtual(ctx, parent, seg)
		}
		child, err := d.store.GetByName(ctx, parent.RI, seg)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, rsc.ErrNotFound(errors.Errorf("no resource named %q under %s", seg, parent.RI))
			}
			return nil, err
		}
		parent = child
	}
	return parent, nil
}

func (d *Dispatcher) resolveVirtual(ctx context.Context, parent *resource.Resource, which string) (*resource.Resource, error) {
	kids, err := d.store.Children(ctx, parent.RI, resource.TypeCIN, resource.TypeFCI)
	if err != nil {
		return nil, err
	}
	latest, oldest := resource.LatestOldest(kids)
	var r *resource.Resource
	if which == "la" {
		r = latest
	} else {
		r = oldest
	}
	if r == nil {
		return nil, rsc.ErrNotFound(errors.Errorf("%s has no instance children", parent.RI))
	}
	return r, nil
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "//")
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
