package resource

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Common holds the attributes every resource type carries (§3.1).
type Common struct {
	RI   string `json:"ri"`
	RN   string `json:"rn"`
	PI   string `json:"pi"`
	Ty   Type   `json:"ty"`
	CT   time.Time  `json:"ct"`
	LT   time.Time  `json:"lt"`
	ET   *time.Time `json:"et,omitempty"`
	ACPI []string   `json:"acpi,omitempty"`
	LBL  []string   `json:"lbl,omitempty"`
	AT   []string   `json:"at,omitempty"`
	AA   []string   `json:"aa,omitempty"`
	CR   string     `json:"cr,omitempty"`
}

// Resource is a single node in the resource tree: its common
// attributes plus a type-specific, dynamically-typed attribute map.
// Attrs is "paved" the way the teacher's fieldpath.Paved wraps a
// map[string]interface{} with get/set-by-path helpers (pkg/fieldpath/paved.go),
// generalized here to carry our own attribute-policy enforcement
// instead of a Kubernetes unstructured object.
type Resource struct {
	Common
	Attrs map[string]any `json:"-"`
}

// New creates a bare resource of the given type with no attributes
// set. Callers populate Common and Attrs before passing it through the
// dispatcher's CREATE pipeline.
func New(ty Type) *Resource {
	return &Resource{Common: Common{Ty: ty}, Attrs: map[string]any{}}
}

// Clone returns a deep-enough copy of r suitable for returning to a
// caller without aliasing the stored copy's Attrs map.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.ACPI = append([]string(nil), r.ACPI...)
	c.LBL = append([]string(nil), r.LBL...)
	c.AT = append([]string(nil), r.AT...)
	c.AA = append([]string(nil), r.AA...)
	if r.ET != nil {
		et := *r.ET
		c.ET = &et
	}
	c.Attrs = make(map[string]any, len(r.Attrs))
	for k, v := range r.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

// Get returns a named attribute, checking the common fields first and
// falling back to the overflow map.
func (r *Resource) Get(name string) (any, bool) {
	switch name {
	case "ri":
		return r.RI, true
	case "rn":
		return r.RN, true
	case "pi":
		return r.PI, true
	case "ty":
		return r.Ty, true
	case "ct":
		return r.CT, true
	case "lt":
		return r.LT, true
	case "et":
		if r.ET == nil {
			return nil, false
		}
		return *r.ET, true
	case "acpi":
		return r.ACPI, true
	case "cr":
		return r.CR, true
	}
	v, ok := r.Attrs[name]
	return v, ok
}

// Set writes a named attribute into the overflow map. Callers that
// need to set a common field (ri, rn, ...) use the Common struct
// directly; Set is for type-specific and custom FlexContainer fields.
func (r *Resource) Set(name string, value any) {
	if r.Attrs == nil {
		r.Attrs = map[string]any{}
	}
	r.Attrs[name] = value
}

// LabelSet returns lbl as a set for membership tests (§4.4 discovery).
func (r *Resource) LabelSet() map[string]bool {
	s := make(map[string]bool, len(r.LBL))
	for _, l := range r.LBL {
		s[l] = true
	}
	return s
}

// reservedForCopy lists attributes FlexContainerInstance snapshots
// never copy from their parent FCNT (§4.1 "FlexContainer instances").
var reservedForCopy = map[string]bool{
	"cni": true, "cbs": true, "cnd": true, "cs": true,
	"ri": true, "rn": true, "pi": true, "ty": true,
	"ct": true, "lt": true, "et": true, "acpi": true, "cr": true,
	"st": true,
}

// CanonicalJSON returns the byte-stable JSON encoding of r's
// non-reserved attributes, used both for cs computation (SPEC_FULL
// §9 open question (b)) and for equality checks in tests. Map keys
// sort lexically, matching encoding/json's own map-marshaling order,
// so the result is stable across runs without needing a separate
// canonicalization library.
func (r *Resource) CanonicalJSON() ([]byte, error) {
	keys := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		if reservedForCopy[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]any, len(keys))
	for _, k := range keys {
		ordered[k] = r.Attrs[k]
	}

	b, err := json.Marshal(ordered)
	return b, errors.Wrap(err, "canonicalize resource attributes")
}

// ByteSize returns the size used for cs/cbs accounting. For a CIN
// whose con is a string or []byte it is the length of con; for every
// other resource it is the length of CanonicalJSON, which is portable
// and reproducible (SPEC_FULL §9(b)).
func (r *Resource) ByteSize() (int, error) {
	if r.Ty == TypeCIN {
		switch con := r.Attrs["con"].(type) {
		case string:
			return len(con), nil
		case []byte:
			return len(con), nil
		}
	}
	b, err := r.CanonicalJSON()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
