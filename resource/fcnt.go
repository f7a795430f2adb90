package resource

import "fmt"

// SnapshotFCI builds the FlexContainerInstance materialized on every
// successful UPDATE of a FlexContainer that has mni or mbs set
// (§4.1 "FlexContainer instances"). The caller (Dispatcher) persists
// the result directly, then runs quota enforcement and the creation
// notification for it; the CREATE pipeline's parent veto and
// attribute validation are not applied to it.
func SnapshotFCI(parent *Resource) (*Resource, error) {
	st, _ := attrInt(parent, "st")

	fci := New(TypeFCI)
	fci.PI = parent.RI
	fci.RN = fmt.Sprintf("%s_%d", parent.RN, st)
	fci.CR = parent.CR

	for k, v := range parent.Attrs {
		if reservedForCopy[k] {
			continue
		}
		fci.Attrs[k] = v
	}

	cs, err := fci.ByteSize()
	if err != nil {
		return nil, err
	}
	fci.Set("cs", cs)

	return fci, nil
}

// NeedsFCISnapshot reports whether an update to parent should
// materialize a new FlexContainerInstance (§4.1: "When the FCNT has
// mni or mbs").
func NeedsFCISnapshot(parent *Resource) bool {
	if _, ok := attrInt(parent, "mni"); ok {
		return true
	}
	_, ok := attrInt(parent, "mbs")
	return ok
}
