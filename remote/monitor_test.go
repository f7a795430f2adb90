package remote

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

type fakePeerClient struct {
	retrieveErr  error
	retrieved    map[string]*resource.Resource
	createCalls  []string
	updateCalls  []string
}

func (f *fakePeerClient) Retrieve(_ context.Context, _, to, _ string) (*resource.Resource, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	if r, ok := f.retrieved[to]; ok {
		return r, nil
	}
	return nil, errors.New("no such peer resource")
}

func (f *fakePeerClient) Create(_ context.Context, _, to, _ string, _ resource.Type, body *resource.Resource) (*resource.Resource, error) {
	f.createCalls = append(f.createCalls, to)
	return body, nil
}

func (f *fakePeerClient) Update(_ context.Context, _, to, _ string, body *resource.Resource) (*resource.Resource, error) {
	f.updateCalls = append(f.updateCalls, to)
	return body, nil
}

type fakeDeleter struct {
	deleted []string
}

func (f *fakeDeleter) DeleteResource(_ context.Context, ri, _ string) error {
	f.deleted = append(f.deleted, ri)
	return nil
}

func newTestMonitorStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return s
}

func TestAscendRegistersFreshWhenNoLocalCSR(t *testing.T) {
	ctx := context.Background()
	store := newTestMonitorStore(t)
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	base.LT = time.Now().UTC()
	base.Set("csi", "/myCSE")
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}

	registrarBase := resource.New(resource.TypeCSEBase)
	registrarBase.LT = time.Now().UTC()
	registrarBase.Set("csi", "/parentCSE")

	peer := &fakePeerClient{retrieved: map[string]*resource.Resource{
		"/parentCSE": registrarBase,
	}}
	m := New(store, peer, &fakeDeleter{}, Config{
		Type: "MN", RegistrarCSI: "parentCSE", RegistrarPOA: "http://parent",
		CSEBaseRI: "cseBase", CSEOriginator: "CAdmin", LocalCSI: "myCSE",
	}, logging.Discard())

	if err := m.ascend(ctx); err != nil {
		t.Fatalf("ascend: %v", err)
	}
	if len(peer.createCalls) != 1 {
		t.Fatalf("createCalls = %v, want a single registration CREATE", peer.createCalls)
	}
	local, err := m.findCSRByCSI(ctx, "parentCSE")
	if err != nil {
		t.Fatalf("expected a local CSR to be persisted after registering: %v", err)
	}
	if local.PI != "cseBase" {
		t.Errorf("local CSR pi = %q, want cseBase", local.PI)
	}
	cs := getConditions(local)
	cond := cs.GetCondition(resource.TypeRegistered)
	if cond.Status != resource.ConditionTrue {
		t.Errorf("registered condition status = %v, want True", cond.Status)
	}
	if cond.LastTransitionTime.IsZero() {
		t.Error("registered condition should carry a non-zero LastTransitionTime")
	}
}

func TestAscendRetriesRegistrationWhenRegistrarForgetsUs(t *testing.T) {
	ctx := context.Background()
	store := newTestMonitorStore(t)
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	base.LT = time.Now().UTC()
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	localCSR := resource.New(resource.TypeCSR)
	localCSR.RI = "csr-parentCSE"
	localCSR.PI = "cseBase"
	localCSR.Set("csi", "parentCSE")
	localCSR.LT = time.Now().UTC()
	if err := store.Put(ctx, localCSR); err != nil {
		t.Fatal(err)
	}

	peer := &fakePeerClient{retrieveErr: errors.New("not found")}
	m := New(store, peer, &fakeDeleter{}, Config{
		Type: "MN", RegistrarCSI: "parentCSE", RegistrarPOA: "http://parent",
		CSEBaseRI: "cseBase", CSEOriginator: "CAdmin", LocalCSI: "myCSE",
	}, logging.Discard())

	peer.retrieveErr = nil
	registrarBase := resource.New(resource.TypeCSEBase)
	registrarBase.LT = time.Now().UTC()
	peer.retrieved = map[string]*resource.Resource{"/parentCSE": registrarBase}
	// Simulate the registrar-forgot-us retrieval failure on the first
	// call (self lookup under the registrar), which the fake models by
	// failing every Retrieve whose target isn't seeded above.
	if err := m.ascend(ctx); err != nil {
		t.Fatalf("ascend: %v", err)
	}
	if _, err := m.findCSRByCSI(ctx, "parentCSE"); err != nil {
		t.Fatalf("expected re-registration to leave a local CSR behind: %v", err)
	}
}

func TestDescendDeletesUnreachableDescendantAndUpdatesTable(t *testing.T) {
	ctx := context.Background()
	store := newTestMonitorStore(t)
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	descendant := resource.New(resource.TypeCSR)
	descendant.RI = "csr-child"
	descendant.PI = "cseBase"
	descendant.Set("csi", "childCSE")
	descendant.Set("poa", []string{"http://child"})
	if err := store.Put(ctx, descendant); err != nil {
		t.Fatal(err)
	}

	peer := &fakePeerClient{retrieveErr: errors.New("unreachable")}
	deleter := &fakeDeleter{}
	m := New(store, peer, deleter, Config{
		Type: "MN", CSEBaseRI: "cseBase", CSEOriginator: "CAdmin", LocalCSI: "myCSE",
	}, logging.Discard())
	m.OnRegistered(ctx, "childCSE")

	if err := m.descend(ctx); err != nil {
		t.Fatalf("descend: %v", err)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "csr-child" {
		t.Fatalf("deleted = %v, want [csr-child]", deleter.deleted)
	}

	updated, err := store.Get(ctx, "cseBase")
	if err != nil {
		t.Fatal(err)
	}
	dcse, _ := updated.Get("dcse")
	list, _ := dcse.([]string)
	if len(list) != 0 {
		t.Errorf("dcse after deregistration = %v, want empty", list)
	}
}

func TestDescendSkipsTheRegistrarCSR(t *testing.T) {
	ctx := context.Background()
	store := newTestMonitorStore(t)
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	registrarCSR := resource.New(resource.TypeCSR)
	registrarCSR.RI = "csr-parent"
	registrarCSR.PI = "cseBase"
	registrarCSR.Set("csi", "parentCSE")
	registrarCSR.Set("poa", []string{"http://parent"})
	if err := store.Put(ctx, registrarCSR); err != nil {
		t.Fatal(err)
	}

	peer := &fakePeerClient{retrieveErr: errors.New("unreachable")}
	deleter := &fakeDeleter{}
	m := New(store, peer, deleter, Config{
		Type: "MN", RegistrarCSI: "parentCSE", CSEBaseRI: "cseBase", CSEOriginator: "CAdmin",
	}, logging.Discard())

	if err := m.descend(ctx); err != nil {
		t.Fatalf("descend: %v", err)
	}
	if len(deleter.deleted) != 0 {
		t.Fatalf("the registrar's own CSR must never be deleted by descending liveness checks, deleted=%v", deleter.deleted)
	}
}

func TestOnRegisteredTracksDescendantInCSEBase(t *testing.T) {
	ctx := context.Background()
	store := newTestMonitorStore(t)
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	if err := store.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	m := New(store, &fakePeerClient{}, &fakeDeleter{}, Config{CSEBaseRI: "cseBase"}, logging.Discard())

	m.OnRegistered(ctx, "grandchildCSE")

	updated, err := store.Get(ctx, "cseBase")
	if err != nil {
		t.Fatal(err)
	}
	dcse, _ := updated.Get("dcse")
	list, _ := dcse.([]string)
	if len(list) != 1 || list[0] != "grandchildCSE" {
		t.Fatalf("dcse = %v, want [grandchildCSE]", list)
	}
}
