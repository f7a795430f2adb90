package resource

import (
	"encoding/json"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzValidate feeds malformed request bodies at the attribute-policy
// decoder the way a hostile or buggy client might: Validate must
// either return a *ValidationError or nil, never panic, regardless of
// what shape of JSON a client sends for a CREATE against every
// registered resource type.
func FuzzValidate(f *testing.F) {
	f.Add([]byte(`{"rn":"foo"}`))
	f.Add([]byte(`{"ri":"shouldBeRejected"}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		ff := fuzz.NewConsumer(data)
		raw, err := ff.GetBytes()
		if err != nil {
			return
		}

		var attrs map[string]any
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return
		}

		for ty := range policies {
			err := Validate(ty, attrs, true)
			if err == nil {
				continue
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("Validate returned a non-ValidationError for type %s: %v", ty, err)
			}
		}
	})
}
