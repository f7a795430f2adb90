package resource

// NewGroup builds a GRP resource (SPEC_FULL supplemented feature 5).
// mt is the member type every mid entry must share; mnm bounds the
// member count.
func NewGroup(rn string, mt Type, mid []string, mnm int) *Resource {
	r := New(TypeGroup)
	r.RN = rn
	r.Set("mt", mt)
	r.Set("mid", mid)
	r.Set("mnm", mnm)
	r.Set("cnm", len(mid))
	return r
}

// MemberIDs returns the GRP's mid list, or nil if unset/malformed.
func MemberIDs(g *Resource) []string {
	v, ok := g.Get("mid")
	if !ok {
		return nil
	}
	ids, _ := v.([]string)
	return ids
}

// MemberType returns the GRP's mt, or TypeUnknown if unset.
func MemberType(g *Resource) Type {
	v, ok := g.Get("mt")
	if !ok {
		return TypeUnknown
	}
	t, _ := v.(Type)
	return t
}

// MACP returns the GRP's macp ACP list if set (§4.3 rule 6).
func MACP(g *Resource) []string {
	v, ok := g.Get("macp")
	if !ok {
		return nil
	}
	ids, _ := v.([]string)
	return ids
}
