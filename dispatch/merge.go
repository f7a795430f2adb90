package dispatch

import (
	"dario.cat/mergo"
	"github.com/pkg/errors"

	"github.com/onem2m/cse/resource"
)

// applyUpdate merges content into target's Attrs, overriding existing
// keys, the way §4.4's UPDATE pipeline requires: "a present key
// replaces the stored value; an absent key is left untouched." A nil
// value in content deletes the attribute, since oneM2M UPDATE uses a
// null value to mean "remove" (§4.1 "Partial update semantics").
func applyUpdate(target *resource.Resource, content map[string]any) error {
	for k, v := range content {
		if v == nil {
			delete(target.Attrs, k)
			delete(content, k)
		}
	}
	if target.Attrs == nil {
		target.Attrs = map[string]any{}
	}
	if err := mergo.Merge(&target.Attrs, content, mergo.WithOverride()); err != nil {
		return errors.Wrap(err, "merge update attributes")
	}
	return nil
}
