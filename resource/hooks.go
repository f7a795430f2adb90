package resource

import (
	"sort"

	"github.com/pkg/errors"
)

// Hooks is the small capability table every resource type may
// implement (§4.1, §9 "Per-type polymorphism": "Express as a
// capability table keyed by type tag rather than an inheritance
// hierarchy"). All three methods are pure functions of already-loaded
// resources; they never touch storage themselves; the Dispatcher (D)
// loads whatever a hook needs and carries out any resulting storage
// mutation (e.g. quota eviction) as part of its own pipeline, per
// §4.4 "each eviction is itself a full delete including its
// notifications".
type Hooks struct {
	// ChildWillBeAdded is the parent's veto for an about-to-be-added
	// child, e.g. FCNT rejecting an instance exceeding mbs, or CNT
	// rejecting rn in {la, ol}.
	ChildWillBeAdded func(parent, child *Resource) error

	// Validate recomputes derived attributes and enforces type-specific
	// invariants. Called on every mutation.
	Validate func(self *Resource, onCreate bool) error

	// Activate runs after insert. No type in this package registers
	// one; la/ol resolve without activation.
	Activate func(self, parent *Resource)
}

var hooksByType = map[Type]Hooks{}

func init() {
	hooksByType[TypeContainer] = Hooks{
		ChildWillBeAdded: containerChildWillBeAdded,
		Validate:         validateContainer,
	}
	hooksByType[TypeFlexContainer] = Hooks{
		ChildWillBeAdded: flexContainerChildWillBeAdded,
		Validate:         validateFlexContainer,
	}
	hooksByType[TypeGroup] = Hooks{
		Validate: validateGroup,
	}
}

// HooksFor returns the capability table for ty, defaulting to a table
// of nil fields (no-ops) for types with no special lifecycle behavior.
func HooksFor(ty Type) Hooks {
	return hooksByType[ty.Announces()]
}

func attrInt(r *Resource, name string) (int, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func containerChildWillBeAdded(parent, child *Resource) error {
	if child.Ty == TypeCIN {
		if mbs, ok := attrInt(parent, "mbs"); ok {
			cs, err := child.ByteSize()
			if err != nil {
				return errors.Wrap(err, "compute child content size")
			}
			if cs > mbs {
				return &QuotaError{Reason: "content instance exceeds mbs"}
			}
		}
	}
	if child.RN == "la" || child.RN == "ol" {
		return &ReservedNameError{Name: child.RN}
	}
	return nil
}

func flexContainerChildWillBeAdded(parent, child *Resource) error {
	if child.Ty != TypeFCI {
		return nil
	}
	if mbs, ok := attrInt(parent, "mbs"); ok {
		cs, err := child.ByteSize()
		if err != nil {
			return errors.Wrap(err, "compute child content size")
		}
		if cs > mbs {
			return &QuotaError{Reason: "flexcontainer instance exceeds mbs"}
		}
	}
	return nil
}

// validateContainer recomputes nothing by itself: cni/cbs are
// maintained by the Dispatcher's quota-enforcement step (§4.1), since
// they require the full, current child list which only storage can
// provide. This hook is a placeholder for future self-contained
// invariants (e.g. mia bounds checking) and documents the seam.
func validateContainer(_ *Resource, _ bool) error { return nil }

func validateFlexContainer(_ *Resource, _ bool) error { return nil }

// validateGroup enforces §4.1/SPEC_FULL feature 5:
// groupMemberTypeInconsistent when member resources don't share a
// single mt. The Dispatcher supplies the already-resolved member
// types via the "memberTypes" pseudo-attribute it stashes on self
// before calling Validate, since resolving mid -> member resource
// requires storage.
func validateGroup(self *Resource, _ bool) error {
	raw, ok := self.Get("memberTypes")
	if !ok {
		return nil
	}
	types, ok := raw.([]Type)
	if !ok || len(types) == 0 {
		return nil
	}
	mtRaw, _ := self.Get("mt")
	mt, _ := mtRaw.(Type)
	for _, t := range types {
		if t != mt {
			return &GroupTypeError{Expected: mt, Got: t}
		}
	}
	return nil
}

// QuotaEvictionOrder sorts children oldest-first by (ct, ri), the
// tie-break §4.1 rule 4 requires, so the Dispatcher can evict from the
// front of the slice until quotas are satisfied.
func QuotaEvictionOrder(children []*Resource) []*Resource {
	out := append([]*Resource(nil), children...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CT.Equal(out[j].CT) {
			return out[i].CT.Before(out[j].CT)
		}
		return out[i].RI < out[j].RI
	})
	return out
}

// QuotaError indicates a child would violate a parent's mbs/mni quota
// (§4.1 quota enforcement step 1).
type QuotaError struct{ Reason string }

func (e *QuotaError) Error() string { return e.Reason }

// ReservedNameError indicates a CREATE used a reserved virtual-child
// name (§8 boundary behavior: "CREATE on CNT with rn in {la, ol}").
type ReservedNameError struct{ Name string }

func (e *ReservedNameError) Error() string {
	return "reserved resource name: " + e.Name
}

// GroupTypeError indicates a GRP's members do not share mt (SPEC_FULL
// feature 5).
type GroupTypeError struct {
	Expected, Got Type
}

func (e *GroupTypeError) Error() string {
	return "group member type inconsistent: expected " + e.Expected.String() + " got " + e.Got.String()
}
