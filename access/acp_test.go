package access

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return s
}

func TestMatchOriginatorWildcard(t *testing.T) {
	cases := map[string]struct {
		pattern, originator string
		want                 bool
	}{
		"ExactMatch":      {"Cfoo", "Cfoo", true},
		"WildcardAny":      {"*", "Canything", true},
		"WildcardPrefix":   {"C*", "Cfoo", true},
		"WildcardSuffix":   {"*foo", "Cfoo", true},
		"WildcardMismatch": {"C*", "Sfoo", false},
		"NoWildcardMismatch": {"Cfoo", "Cbar", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := matchOriginator(tc.pattern, tc.originator); got != tc.want {
				t.Errorf("matchOriginator(%q, %q) = %v, want %v", tc.pattern, tc.originator, got, tc.want)
			}
		})
	}
}

func TestPrivilegeGrants(t *testing.T) {
	p := Privilege{Originators: []string{"Cfoo"}, Operations: OpRetrieve | OpUpdate, Types: []resource.Type{resource.TypeContainer}}

	if !p.Grants("Cfoo", OpRetrieve, resource.TypeContainer) {
		t.Error("expected grant for matching originator/op/type")
	}
	if p.Grants("Cfoo", OpDelete, resource.TypeContainer) {
		t.Error("did not expect grant for an operation not in the bitset")
	}
	if p.Grants("Cfoo", OpRetrieve, resource.TypeAE) {
		t.Error("did not expect grant for a type outside acty")
	}
	if p.Grants("Cbar", OpRetrieve, resource.TypeContainer) {
		t.Error("did not expect grant for a non-matching originator")
	}
}

func TestHasAccessACPChecksDisabled(t *testing.T) {
	eng := NewEngine(newTestStore(t), Config{ChecksDisabled: true}, "cseBase", logging.Discard())
	ok, err := eng.HasAccess(context.Background(), "anyone", nil, OpRetrieve, Options{})
	if err != nil || !ok {
		t.Fatalf("HasAccess = %v, %v, want true, nil", ok, err)
	}
}

func TestHasAccessCreateAEOpenOriginator(t *testing.T) {
	eng := NewEngine(newTestStore(t), Config{}, "cseBase", logging.Discard())
	for _, originator := range []string{"", "C", "S"} {
		ok, err := eng.HasAccess(context.Background(), originator, nil, OpCreate, Options{
			Ty: resource.TypeAE, IsCreateRequest: true,
		})
		if err != nil || !ok {
			t.Errorf("originator=%q: HasAccess = %v, %v, want true, nil", originator, ok, err)
		}
	}
}

func TestHasAccessCreateAERejectsUnlistedOriginator(t *testing.T) {
	eng := NewEngine(newTestStore(t), Config{AllowedAEOriginators: []string{"Ctrusted"}}, "cseBase", logging.Discard())
	ok, err := eng.HasAccess(context.Background(), "Cuntrusted", nil, OpCreate, Options{
		Ty: resource.TypeAE, IsCreateRequest: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected deny for an originator not in the allow-list")
	}
}

func TestHasAccessNoACPIFallsBackToCreator(t *testing.T) {
	eng := NewEngine(newTestStore(t), Config{}, "cseBase", logging.Discard())
	cnt := resource.New(resource.TypeContainer)
	cnt.RI = "cnt-1"
	cnt.CR = "Cowner"

	ok, err := eng.HasAccess(context.Background(), "Cowner", cnt, OpUpdate, Options{Ty: resource.TypeContainer})
	if err != nil || !ok {
		t.Fatalf("creator should have implicit access when acpi is empty: %v, %v", ok, err)
	}

	ok, err = eng.HasAccess(context.Background(), "Cstranger", cnt, OpUpdate, Options{Ty: resource.TypeContainer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("a non-creator should be denied when acpi is empty and hld is unset")
	}
}

func TestHasAccessEvaluatesACPIList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acp := resource.New(resource.TypeACP)
	acp.RI = "acp-1"
	SetPV(acp, []Privilege{{Originators: []string{"Cfoo"}, Operations: OpRetrieve}})
	SetPVS(acp, []Privilege{{Originators: []string{"Cadmin"}, Operations: OpUpdate}})
	if err := store.Put(ctx, acp); err != nil {
		t.Fatal(err)
	}

	target := resource.New(resource.TypeContainer)
	target.RI = "cnt-1"
	target.ACPI = []string{"acp-1"}

	eng := NewEngine(store, Config{}, "cseBase", logging.Discard())

	ok, err := eng.HasAccess(ctx, "Cfoo", target, OpRetrieve, Options{Ty: resource.TypeContainer})
	if err != nil || !ok {
		t.Fatalf("expected grant from pv: %v, %v", ok, err)
	}

	ok, err = eng.HasAccess(ctx, "Cfoo", target, OpDelete, Options{Ty: resource.TypeContainer})
	if err != nil || ok {
		t.Fatalf("did not expect grant for an operation pv doesn't cover: %v, %v", ok, err)
	}
}

func TestHasAccessMissingACPSkippedNotDenied(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acp := resource.New(resource.TypeACP)
	acp.RI = "acp-present"
	SetPV(acp, []Privilege{{Originators: []string{"Cfoo"}, Operations: OpRetrieve}})
	if err := store.Put(ctx, acp); err != nil {
		t.Fatal(err)
	}

	target := resource.New(resource.TypeContainer)
	target.RI = "cnt-1"
	// The first acpi entry doesn't exist; §4.3 says it's skipped with a
	// warning rather than treated as deny, so the second entry still grants.
	target.ACPI = []string{"acp-missing", "acp-present"}

	eng := NewEngine(store, Config{}, "cseBase", logging.Discard())
	ok, err := eng.HasAccess(ctx, "Cfoo", target, OpRetrieve, Options{Ty: resource.TypeContainer})
	if err != nil || !ok {
		t.Fatalf("expected the valid ACP to still grant access: %v, %v", ok, err)
	}
}

func TestACPIUpdateAllowed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	acp := resource.New(resource.TypeACP)
	acp.RI = "acp-1"
	SetPV(acp, []Privilege{{Originators: []string{"Cfoo"}, Operations: OpUpdate}})
	if err := store.Put(ctx, acp); err != nil {
		t.Fatal(err)
	}

	eng := NewEngine(store, Config{}, "cseBase", logging.Discard())

	noACPI := resource.New(resource.TypeContainer)
	noACPI.CR = "Ccreator"
	ok, err := eng.ACPIUpdateAllowed(ctx, "Ccreator", noACPI)
	if err != nil || !ok {
		t.Fatalf("creator may set acpi when none is set: %v, %v", ok, err)
	}
	ok, err = eng.ACPIUpdateAllowed(ctx, "Cstranger", noACPI)
	if err != nil || ok {
		t.Fatalf("a non-creator may not set acpi when none is set: %v, %v", ok, err)
	}

	withACPI := resource.New(resource.TypeContainer)
	withACPI.ACPI = []string{"acp-1"}
	ok, err = eng.ACPIUpdateAllowed(ctx, "Cfoo", withACPI)
	if err != nil || !ok {
		t.Fatalf("an originator granted UPDATE by a listed ACP may change acpi: %v, %v", ok, err)
	}
}
