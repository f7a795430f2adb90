package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
	"github.com/onem2m/cse/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, storage.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	base.RN = "cseBase"
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("seed cseBase: %v", err)
	}
	eng := access.NewEngine(store, access.Config{ChecksDisabled: true}, "cseBase", logging.Discard())
	d := New(store, eng, "cseBase", "/cseBase", "cseBase", nil, nil, logging.Discard())
	return d, store
}

func TestCreateRetrieveUpdateDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	createResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "myContainer", "mni": float64(5)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if createResp.RSC != rsc.Created {
		t.Fatalf("RSC = %v, want Created", createResp.RSC)
	}
	ri := createResp.Content.RI
	if ri == "" {
		t.Fatal("created resource has no ri assigned")
	}
	if createResp.Content.CR != "Cfoo" {
		t.Errorf("cr = %q, want Cfoo", createResp.Content.CR)
	}

	retrieveResp, err := d.Dispatch(ctx, &Request{Op: OpRetrieve, To: ri, Originator: "Cfoo"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if retrieveResp.Content.RN != "myContainer" {
		t.Errorf("retrieved rn = %q, want myContainer", retrieveResp.Content.RN)
	}

	structuredResp, err := d.Dispatch(ctx, &Request{Op: OpRetrieve, To: "cseBase/myContainer", Originator: "Cfoo"})
	if err != nil {
		t.Fatalf("structured-path retrieve: %v", err)
	}
	if structuredResp.Content.RI != ri {
		t.Errorf("structured-path resolved ri = %q, want %q", structuredResp.Content.RI, ri)
	}

	updateResp, err := d.Dispatch(ctx, &Request{
		Op: OpUpdate, To: ri, Originator: "Cfoo", Content: map[string]any{"mni": float64(50)},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updateResp.RSC != rsc.Updated {
		t.Fatalf("RSC = %v, want Updated", updateResp.RSC)
	}
	if n, _ := updateResp.Content.Get("mni"); n != float64(50) {
		t.Errorf("mni after update = %v, want 50", n)
	}

	deleteResp, err := d.Dispatch(ctx, &Request{Op: OpDelete, To: ri, Originator: "Cfoo"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleteResp.RSC != rsc.Deleted {
		t.Fatalf("RSC = %v, want Deleted", deleteResp.RSC)
	}
	if _, err := d.Dispatch(ctx, &Request{Op: OpRetrieve, To: ri, Originator: "Cfoo"}); rsc.CodeOf(err) != rsc.NotFound {
		t.Fatalf("retrieve after delete: CodeOf(err) = %v, want NotFound", rsc.CodeOf(err))
	}
}

func TestCreateRejectsDuplicateChildName(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	req := &Request{Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer, Content: map[string]any{"rn": "dup"}}
	if _, err := d.Dispatch(ctx, req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := d.Dispatch(ctx, &Request{Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer, Content: map[string]any{"rn": "dup"}})
	if rsc.CodeOf(err) != rsc.Conflict {
		t.Fatalf("CodeOf(err) = %v, want Conflict", rsc.CodeOf(err))
	}
}

func TestCreateUnknownTypeIsBadRequest(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(ctx, &Request{Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.Type(9999)})
	if rsc.CodeOf(err) != rsc.BadRequest {
		t.Fatalf("CodeOf(err) = %v, want BadRequest", rsc.CodeOf(err))
	}
}

func TestAccessDeniedSurfacesOriginatorHasNoPrivilege(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatal(err)
	}
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	eng := access.NewEngine(store, access.Config{}, "cseBase", logging.Discard())
	d := New(store, eng, "cseBase", "/cseBase", "cseBase", nil, nil, logging.Discard())

	cnt := resource.New(resource.TypeContainer)
	cnt.RI = "cnt-1"
	cnt.PI = "cseBase"
	cnt.CR = "Cowner"
	if err := store.Put(ctx, cnt); err != nil {
		t.Fatal(err)
	}

	_, err = d.Dispatch(ctx, &Request{Op: OpRetrieve, To: "cnt-1", Originator: "Cstranger"})
	if rsc.CodeOf(err) != rsc.OriginatorHasNoPrivilege {
		t.Fatalf("CodeOf(err) = %v, want OriginatorHasNoPrivilege", rsc.CodeOf(err))
	}
}

func TestQuotaEnforcementEvictsOldestCIN(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDispatcher(t)

	createResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "log", "mni": float64(2)},
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	cntRI := createResp.Content.RI

	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(ctx, &Request{
			Op: OpCreate, To: cntRI, Originator: "Cfoo", Ty: resource.TypeCIN,
			Content: map[string]any{"con": "x"},
		})
		if err != nil {
			t.Fatalf("create cin %d: %v", i, err)
		}
	}

	kids, err := store.Children(ctx, cntRI, resource.TypeCIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(kids) != 2 {
		t.Fatalf("children after mni=2 quota enforcement = %d, want 2", len(kids))
	}
}

func TestDeleteSubtreeRemovesChildrenFirst(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDispatcher(t)

	parentResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "parent"},
	})
	if err != nil {
		t.Fatal(err)
	}
	childResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: parentResp.Content.RI, Originator: "Cfoo", Ty: resource.TypeCIN,
		Content: map[string]any{"con": "x"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Dispatch(ctx, &Request{Op: OpDelete, To: parentResp.Content.RI, Originator: "Cfoo"}); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	if _, err := store.Get(ctx, childResp.Content.RI); err != storage.ErrNotFound {
		t.Fatalf("child should be deleted along with its parent, got err=%v", err)
	}
}

func TestDiscoverFiltersByTypeAndAccess(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	for _, rn := range []string{"a", "b"} {
		if _, err := d.Dispatch(ctx, &Request{
			Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
			Content: map[string]any{"rn": rn},
		}); err != nil {
			t.Fatal(err)
		}
	}

	ty := resource.TypeContainer
	resp, err := d.Dispatch(ctx, &Request{
		Op: OpDiscovery, To: "cseBase", Originator: "Cfoo",
		Filter: storage.Criteria{Ty: &ty},
	})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(resp.Resources) != 2 {
		t.Fatalf("discover matches = %d, want 2", len(resp.Resources))
	}
}

func TestCreateRejectsClientSuppliedCR(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "x", "cr": "Cother"},
	})
	if rsc.CodeOf(err) != rsc.BadRequest {
		t.Fatalf("CodeOf(err) = %v, want BadRequest", rsc.CodeOf(err))
	}
}

func TestCreateReservedChildNameIsOperationNotAllowed(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	createResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "cnt"},
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}

	_, err = d.Dispatch(ctx, &Request{
		Op: OpCreate, To: createResp.Content.RI, Originator: "Cfoo", Ty: resource.TypeCIN,
		Content: map[string]any{"rn": "la", "con": "x"},
	})
	if rsc.CodeOf(err) != rsc.OperationNotAllowed {
		t.Fatalf("CodeOf(err) = %v, want OperationNotAllowed", rsc.CodeOf(err))
	}
}

func TestUpdateMixingACPIWithOtherAttributesIsBadRequest(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	createResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "cnt"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = d.Dispatch(ctx, &Request{
		Op: OpUpdate, To: createResp.Content.RI, Originator: "Cfoo",
		Content: map[string]any{"acpi": []string{"acp-1"}, "mni": float64(5)},
	})
	if rsc.CodeOf(err) != rsc.BadRequest {
		t.Fatalf("CodeOf(err) = %v, want BadRequest", rsc.CodeOf(err))
	}
}

func TestExpiredRequestExpirationTimestampIsRequestTimeout(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	past := time.Now().UTC().Add(-time.Hour)
	_, err := d.Dispatch(ctx, &Request{Op: OpRetrieve, To: "cseBase", Originator: "Cfoo", Ret: &past})
	if rsc.CodeOf(err) != rsc.RequestTimeout {
		t.Fatalf("CodeOf(err) = %v, want RequestTimeout", rsc.CodeOf(err))
	}
}

func TestLatestVirtualResourceResolution(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	parentResp, err := d.Dispatch(ctx, &Request{
		Op: OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "cnt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var lastRI string
	for i := 0; i < 3; i++ {
		resp, err := d.Dispatch(ctx, &Request{
			Op: OpCreate, To: parentResp.Content.RI, Originator: "Cfoo", Ty: resource.TypeCIN,
			Content: map[string]any{"con": "x"},
		})
		if err != nil {
			t.Fatal(err)
		}
		lastRI = resp.Content.RI
	}

	resp, err := d.Dispatch(ctx, &Request{Op: OpRetrieve, To: "cseBase/cnt/la", Originator: "Cfoo"})
	if err != nil {
		t.Fatalf("retrieve la: %v", err)
	}
	if resp.Content.RI != lastRI {
		t.Errorf("la resolved to %q, want %q (most recently created)", resp.Content.RI, lastRI)
	}
}
