package resource

// Management-object type tags (mgd), the oneM2M-assigned numbers for
// the variants this CSE implements. SPEC_FULL supplemented feature 6:
// only MEM is implemented in full, grounded on
// original_source/acme/resources/MEM.py; other mgmtObj variants are
// representable through the generic TypeMgmtObj policy (AllowUnknown)
// but carry no dedicated hooks.
const (
	MgdMemory = 13
)

// NewMEM builds a memory mgmtObj resource mirroring MEM.py's fields:
// total/available storage and memory, as reported by the managed
// entity at registration time.
func NewMEM(rn string, mma, mmt, dvc int) *Resource {
	r := New(TypeMgmtObj)
	r.RN = rn
	r.Set("mgd", MgdMemory)
	r.Set("mma", mma) // memory available
	r.Set("mmt", mmt) // memory total
	r.Set("dvc", dvc) // disk available
	return r
}
