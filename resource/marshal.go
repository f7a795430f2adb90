package resource

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wireCommon mirrors Common but lets us marshal/unmarshal ET as a
// pointer cleanly alongside the flattened overflow attributes.
type wireCommon Common

// MarshalJSON flattens Common and Attrs into a single JSON object, the
// wire/storage shape oneM2M resources take (§6.3 "opaque attribute
// map"). This is the same flattening idea as the teacher's
// fieldpath.Paved, generalized from a Kubernetes unstructured object
// to our own Common+overflow split.
func (r Resource) MarshalJSON() ([]byte, error) {
	cb, err := json.Marshal(wireCommon(r.Common))
	if err != nil {
		return nil, errors.Wrap(err, "marshal common attributes")
	}

	var flat map[string]any
	if err := json.Unmarshal(cb, &flat); err != nil {
		return nil, errors.Wrap(err, "flatten common attributes")
	}
	for k, v := range r.Attrs {
		flat[k] = v
	}
	b, err := json.Marshal(flat)
	return b, errors.Wrap(err, "marshal resource")
}

// UnmarshalJSON reconstructs Common from the known field names and
// everything else into Attrs.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return errors.Wrap(err, "unmarshal resource")
	}

	var c wireCommon
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "unmarshal common attributes")
	}
	r.Common = Common(c)

	commonFields := []string{"ri", "rn", "pi", "ty", "ct", "lt", "et", "acpi", "lbl", "at", "aa", "cr"}
	for _, f := range commonFields {
		delete(flat, f)
	}
	r.Attrs = flat
	return nil
}
