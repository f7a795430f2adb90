package resource

import "github.com/pkg/errors"

// RecomputeQuota recomputes cni (child count) and cbs (total content
// size) for a container-like parent from its current instance
// children, and returns the children that must be evicted, oldest
// first, to bring cni <= mni and cbs <= mbs (§4.1 quota enforcement
// steps 2-4). Eviction is computed against the quota after the
// triggering insert is already reflected in children, so the caller
// observes a single logical mutation per §5 "Quota eviction and the
// triggering insert are observed as a single logical mutation".
func RecomputeQuota(parent *Resource, children []*Resource) (cni, cbs int, evict []*Resource, err error) {
	ordered := QuotaEvictionOrder(children)

	sizes := make([]int, len(ordered))
	for i, c := range ordered {
		sizes[i], err = c.ByteSize()
		if err != nil {
			return 0, 0, nil, errors.Wrapf(err, "compute size of child %s", c.RI)
		}
		cbs += sizes[i]
	}
	cni = len(ordered)

	mni, hasMni := attrInt(parent, "mni")
	mbs, hasMbs := attrInt(parent, "mbs")

	start := 0
	for hasMni && cni > mni && start < len(ordered) {
		evict = append(evict, ordered[start])
		cni--
		cbs -= sizes[start]
		start++
	}
	for hasMbs && cbs > mbs && start < len(ordered) {
		evict = append(evict, ordered[start])
		cni--
		cbs -= sizes[start]
		start++
	}

	return cni, cbs, evict, nil
}

// LatestOldest returns the newest and oldest instance children of a
// container-like parent, resolving the virtual la/ol leaves (§4.1,
// §4.4 "Virtual leaves"). Both are nil if children is empty.
func LatestOldest(children []*Resource) (latest, oldest *Resource) {
	if len(children) == 0 {
		return nil, nil
	}
	ordered := QuotaEvictionOrder(children)
	return ordered[len(ordered)-1], ordered[0]
}
