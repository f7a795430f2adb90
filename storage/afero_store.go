package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/onem2m/cse/resource"
)

// AferoStore is the pluggable document store (§4.2, §6.3): one JSON
// file per resource on an afero.Fs, with in-memory indexes rebuilt at
// Open (ri -> resource, (pi,rn) -> ri, pi -> []ri). Tests use
// afero.NewMemMapFs(); a running CSE uses afero.NewOsFs() rooted at a
// data directory.
type AferoStore struct {
	fs  afero.Fs
	dir string

	mu       sync.RWMutex
	byRI     map[string]*resource.Resource
	siblings map[string]string   // pi+"\x00"+rn -> ri
	children map[string][]string // pi -> []ri, insertion order
}

// Open opens (creating if necessary) a document store rooted at dir
// on fs, and rebuilds its indexes from whatever resources are already
// persisted there. Re-deriving indexes this way, rather than
// persisting them separately, guarantees they can never drift from
// the resources on disk (§6.3 "re-derivation on startup must produce
// identical indexes").
func Open(ctx context.Context, fs afero.Fs, dir string) (*AferoStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}

	s := &AferoStore{
		fs:       fs,
		dir:      dir,
		byRI:     map[string]*resource.Resource{},
		siblings: map[string]string{},
		children: map[string][]string{},
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrap(err, "list storage directory")
	}

	type loaded struct {
		r *resource.Resource
	}
	var all []loaded
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := afero.ReadFile(fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		r := &resource.Resource{}
		if err := json.Unmarshal(b, r); err != nil {
			return nil, errors.Wrapf(err, "decode %s", e.Name())
		}
		all = append(all, loaded{r})
	}

	// Insert parents before children so Children() ordering (by
	// creation time) is meaningful even if the directory listing isn't
	// sorted that way.
	sort.Slice(all, func(i, j int) bool { return all[i].r.CT.Before(all[j].r.CT) })
	for _, l := range all {
		s.index(l.r)
	}

	return s, nil
}

func siblingKey(pi, rn string) string { return pi + "\x00" + rn }

// index updates the in-memory indexes for a resource that is now
// known to exist; callers hold s.mu.
func (s *AferoStore) index(r *resource.Resource) {
	s.byRI[r.RI] = r
	s.siblings[siblingKey(r.PI, r.RN)] = r.RI
	if r.PI != "" {
		found := false
		for _, ri := range s.children[r.PI] {
			if ri == r.RI {
				found = true
				break
			}
		}
		if !found {
			s.children[r.PI] = append(s.children[r.PI], r.RI)
		}
	}
}

func (s *AferoStore) deindex(r *resource.Resource) {
	delete(s.byRI, r.RI)
	delete(s.siblings, siblingKey(r.PI, r.RN))
	if r.PI != "" {
		list := s.children[r.PI]
		for i, ri := range list {
			if ri == r.RI {
				s.children[r.PI] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (s *AferoStore) path(ri string) string {
	return filepath.Join(s.dir, ri+".json")
}

// Put persists r, creating or overwriting its file and updating
// indexes atomically with respect to other Store calls.
func (s *AferoStore) Put(_ context.Context, r *resource.Resource) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal resource")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := afero.WriteFile(s.fs, s.path(r.RI), b, 0o644); err != nil {
		return errors.Wrapf(err, "write resource %s", r.RI)
	}
	s.index(r.Clone())
	return nil
}

// Get returns the resource with the given ri, or ErrNotFound.
func (s *AferoStore) Get(_ context.Context, ri string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byRI[ri]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// GetByName resolves a sibling by (pi, rn), or ErrNotFound.
func (s *AferoStore) GetByName(ctx context.Context, pi, rn string) (*resource.Resource, error) {
	s.mu.RLock()
	ri, ok := s.siblings[siblingKey(pi, rn)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, ri)
}

// Delete removes the resource with the given ri. It is not recursive:
// the Dispatcher walks the subtree itself and calls Delete per node,
// since only it can order each deletion against its own notification
// and deactivate hooks (§4.4 DELETE pipeline).
func (s *AferoStore) Delete(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byRI[ri]
	if !ok {
		return ErrNotFound
	}
	if err := s.fs.Remove(s.path(ri)); err != nil {
		return errors.Wrapf(err, "remove resource %s", ri)
	}
	s.deindex(r)
	return nil
}

// Children returns pi's direct children in (ct, ri) order, optionally
// restricted to the given types.
func (s *AferoStore) Children(_ context.Context, pi string, tyFilter ...resource.Type) ([]*resource.Resource, error) {
	want := map[resource.Type]bool{}
	for _, t := range tyFilter {
		want[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*resource.Resource, 0, len(s.children[pi]))
	for _, ri := range s.children[pi] {
		r := s.byRI[ri]
		if r == nil {
			continue
		}
		if len(want) > 0 && !want[r.Ty] {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CT.Equal(out[j].CT) {
			return out[i].CT.Before(out[j].CT)
		}
		return out[i].RI < out[j].RI
	})
	return out, nil
}

// Search implements discovery (§4.4): tree-DFS from Root, filtered by
// ty/label/creation-time/attribute-equality, ordered by (ct, ri),
// bounded by Limit/Offset.
func (s *AferoStore) Search(ctx context.Context, c Criteria) ([]*resource.Resource, error) {
	var matches []*resource.Resource

	var walk func(pi string) error
	walk = func(pi string) error {
		kids, err := s.Children(ctx, pi)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if matchesCriteria(k, c) {
				matches = append(matches, k)
			}
			if err := walk(k.RI); err != nil {
				return err
			}
		}
		return nil
	}

	root := c.Root
	if root == "" {
		return nil, errors.New("search requires a root")
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CT.Equal(matches[j].CT) {
			return matches[i].CT.Before(matches[j].CT)
		}
		return matches[i].RI < matches[j].RI
	})

	if c.Offset > 0 {
		if c.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[c.Offset:]
	}
	if c.Limit > 0 && c.Limit < len(matches) {
		matches = matches[:c.Limit]
	}
	return matches, nil
}

func matchesCriteria(r *resource.Resource, c Criteria) bool {
	if c.Ty != nil && r.Ty != *c.Ty {
		return false
	}
	if c.CRA != nil && r.CT.Before(*c.CRA) {
		return false
	}
	if c.CRB != nil && r.CT.After(*c.CRB) {
		return false
	}
	if len(c.AnyLabel) > 0 {
		labels := r.LabelSet()
		any := false
		for _, l := range c.AnyLabel {
			if labels[l] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for k, v := range c.AttrEquals {
		got, ok := r.Get(k)
		if !ok || got != v {
			return false
		}
	}
	return true
}
