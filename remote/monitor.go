package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

// cseToCSRFields lists the CSE attributes copied onto a CSR in both
// directions (§4.7 "Copy semantics").
var cseToCSRFields = []string{"csi", "cst", "csz", "lbl", "nl", "poa", "rr", "srt", "srv", "st"}

// stripOnUpdate lists the attributes a CSE->CSR or CSR->CSE update
// variant never carries over (§4.7).
var stripOnUpdate = map[string]bool{"ri": true, "rn": true, "ct": true, "ty": true, "acpi": true}

// Deleter is the Dispatcher's delete pipeline, used so a CSR removed
// by descending-liveness failure goes through the same
// notify/registration side effects a client-initiated DELETE would
// (§4.7 "this cascades through the Dispatcher's delete pipeline").
type Deleter interface {
	DeleteResource(ctx context.Context, ri, originator string) error
}

// Config holds this CSE's identity and the registrar it ascends to,
// if any.
type Config struct {
	// Type is this CSE's oneM2M deployment role: "ASN" and "MN" ascend
	// to a registrar; "MN" and "IN" track descendants.
	Type          string
	Interval      time.Duration
	CSEOriginator string
	CSEBaseRI     string
	LocalCSI      string

	RegistrarCSI string
	RegistrarPOA string
}

// Monitor implements the Remote-CSE Manager (G).
type Monitor struct {
	Store   storage.Store
	Client  PeerClient
	Deleter Deleter
	Config  Config
	Log     logging.Logger

	mu          sync.Mutex
	descendants map[string]bool
}

func New(store storage.Store, client PeerClient, deleter Deleter, cfg Config, log logging.Logger) *Monitor {
	return &Monitor{Store: store, Client: client, Deleter: deleter, Config: cfg, Log: log, descendants: map[string]bool{}}
}

// Run ticks at Config.Interval until ctx is canceled (§5 "long-lived
// background tasks, each cooperative and cancellable at shutdown").
func (m *Monitor) Run(ctx context.Context) {
	if m.Config.Interval <= 0 {
		m.Config.Interval = 30 * time.Second
	}
	ticker := time.NewTicker(m.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if m.Config.Type == "ASN" || m.Config.Type == "MN" {
		if err := m.ascend(ctx); err != nil {
			m.Log.Info("ascending reconciliation failed", "err", err.Error())
		}
	}
	if m.Config.Type == "MN" || m.Config.Type == "IN" {
		if err := m.descend(ctx); err != nil {
			m.Log.Info("descending liveness check failed", "err", err.Error())
		}
	}
}

func (m *Monitor) findCSRByCSI(ctx context.Context, csi string) (*resource.Resource, error) {
	matches, err := m.Store.Search(ctx, storage.Criteria{
		Root:       m.Config.CSEBaseRI,
		Ty:         typePtr(resource.TypeCSR),
		AttrEquals: map[string]any{"csi": csi},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return matches[0], nil
}

func typePtr(t resource.Type) *resource.Type { return &t }

// ascend implements §4.7's ascending reconciliation.
func (m *Monitor) ascend(ctx context.Context) error {
	if m.Config.RegistrarCSI == "" {
		return nil
	}
	local, err := m.findCSRByCSI(ctx, m.Config.RegistrarCSI)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if local != nil {
		remoteSelf, err := m.Client.Retrieve(ctx, m.Config.RegistrarPOA, "/"+m.Config.RegistrarCSI+"/"+m.Config.LocalCSI, m.Config.CSEOriginator)
		if err == nil {
			return m.reconcileAgainstRegistrar(ctx, local, remoteSelf)
		}
		// Retrieval failed: the registrar no longer recognizes us.
		_ = m.Store.Delete(ctx, local.RI)
		if err := m.registerWithRegistrar(ctx); err != nil {
			m.Log.Info("deregistered", "registrar", m.Config.RegistrarCSI, "err", err.Error())
			return err
		}
		m.Log.Info("registered", "registrar", m.Config.RegistrarCSI)
		return nil
	}

	// No local CSR at all: register fresh. If a stale remote CSR from a
	// previous run still exists, Create replaces it (registrars key CSR
	// identity by csi, per the CSE<->CSR copy semantics above).
	return m.registerWithRegistrar(ctx)
}

func (m *Monitor) reconcileAgainstRegistrar(ctx context.Context, local, remoteSelf *resource.Resource) error {
	registrarBase, err := m.Client.Retrieve(ctx, m.Config.RegistrarPOA, "/"+m.Config.RegistrarCSI, m.Config.CSEOriginator)
	if err != nil {
		return err
	}
	if registrarBase.LT.After(local.LT) {
		copyCSEIntoCSR(registrarBase, local, m.descendantCSIs(), true)
		// Keep csi equal to the key ascend looks the local CSR up by.
		local.Set("csi", m.Config.RegistrarCSI)
		setCondition(local, resource.Registered())
		if err := m.Store.Put(ctx, local); err != nil {
			return err
		}
	}

	localBase, err := m.Store.Get(ctx, m.Config.CSEBaseRI)
	if err != nil {
		return err
	}
	if localBase.LT.After(remoteSelf.LT) {
		push := copyCSEToCSRBody(localBase, m.descendantCSIs())
		_, err := m.Client.Update(ctx, m.Config.RegistrarPOA, "/"+m.Config.RegistrarCSI+"/"+m.Config.LocalCSI, m.Config.CSEOriginator, push)
		return err
	}
	return nil
}

func (m *Monitor) registerWithRegistrar(ctx context.Context) error {
	localBase, err := m.Store.Get(ctx, m.Config.CSEBaseRI)
	if err != nil {
		return err
	}
	body := copyCSEToCSRBody(localBase, m.descendantCSIs())
	if _, err := m.Client.Create(ctx, m.Config.RegistrarPOA, "/"+m.Config.RegistrarCSI, m.Config.CSEOriginator, resource.TypeCSR, body); err != nil {
		return errors.Wrap(err, "create remote CSR")
	}
	registrarBase, err := m.Client.Retrieve(ctx, m.Config.RegistrarPOA, "/"+m.Config.RegistrarCSI, m.Config.CSEOriginator)
	if err != nil {
		return errors.Wrap(err, "retrieve registrar CSEBase")
	}

	local := resource.New(resource.TypeCSR)
	local.RN = m.Config.RegistrarCSI
	local.PI = m.Config.CSEBaseRI
	local.RI = "csr-" + m.Config.RegistrarCSI
	now := time.Now().UTC()
	local.CT, local.LT = now, now
	local.CR = m.Config.CSEOriginator
	copyCSEIntoCSR(registrarBase, local, m.descendantCSIs(), false)
	// Keep csi equal to the key ascend looks the local CSR up by.
	local.Set("csi", m.Config.RegistrarCSI)
	setCondition(local, resource.Registered())
	return m.Store.Put(ctx, local)
}

// setCondition records cond on r's diagnostic conditions attribute
// (§4.7 "this CSE's own view of whether the registration is current"),
// the local analogue of a CSR's remote connectivity state: never sent
// on the wire, only observed by operators inspecting the stored CSR.
func setCondition(r *resource.Resource, cond resource.Condition) {
	cs := getConditions(r)
	cs.SetConditions(time.Now().UTC(), cond)
	r.Set("conditions", cs)
}

func getConditions(r *resource.Resource) *resource.ConditionedStatus {
	raw, ok := r.Get("conditions")
	if !ok {
		return &resource.ConditionedStatus{}
	}
	if cs, ok := raw.(*resource.ConditionedStatus); ok {
		return cs
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return &resource.ConditionedStatus{}
	}
	var cs resource.ConditionedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return &resource.ConditionedStatus{}
	}
	return &cs
}

// descend implements §4.7's descending liveness check.
func (m *Monitor) descend(ctx context.Context) error {
	crs, err := m.Store.Children(ctx, m.Config.CSEBaseRI, resource.TypeCSR)
	if err != nil {
		return err
	}
	for _, csr := range crs {
		csi, _ := csr.Get("csi")
		if s, _ := csi.(string); s == m.Config.RegistrarCSI {
			continue
		}
		poaList, _ := csr.Get("poa")
		poas, _ := poaList.([]string)
		if len(poas) == 0 {
			continue
		}
		if _, err := m.Client.Retrieve(ctx, poas[0], "/"+m.Config.LocalCSI, m.Config.CSEOriginator); err != nil {
			if err := m.Deleter.DeleteResource(ctx, csr.RI, m.Config.CSEOriginator); err != nil {
				m.Log.Info("failed to remove unreachable descendant CSR", "ri", csr.RI, "err", err.Error())
				continue
			}
			m.onDeregistered(ctx, csr)
		}
	}
	return nil
}

// onDeregistered implements the descendant-CSI table removal half of
// §4.7's "Descendant CSI table".
func (m *Monitor) onDeregistered(ctx context.Context, csr *resource.Resource) {
	csi, _ := csr.Get("csi")
	s, _ := csi.(string)
	m.mu.Lock()
	delete(m.descendants, s)
	m.mu.Unlock()
	m.pushDescendants(ctx)
}

// OnRegistered implements the remoteCSEHasRegistered half of §4.7's
// "Descendant CSI table": it records csi and pushes the updated dcse
// list into the CSEBase. Neither the Dispatcher's registration hooks
// nor core call it, so a CSR CREATE does not add to the table.
func (m *Monitor) OnRegistered(ctx context.Context, csi string) {
	m.mu.Lock()
	m.descendants[csi] = true
	m.mu.Unlock()
	m.pushDescendants(ctx)
}

func (m *Monitor) descendantCSIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.descendants))
	for csi := range m.descendants {
		out = append(out, csi)
	}
	return out
}

func (m *Monitor) pushDescendants(ctx context.Context) {
	base, err := m.Store.Get(ctx, m.Config.CSEBaseRI)
	if err != nil {
		return
	}
	base.Set("dcse", m.descendantCSIs())
	_ = m.Store.Put(ctx, base)
}

// copyCSEToCSRBody builds a fresh CSR body from a CSE (§4.7 "Copy
// semantics"), used for CREATE/UPDATE calls against a peer.
func copyCSEToCSRBody(cse *resource.Resource, descendants []string) *resource.Resource {
	body := resource.New(resource.TypeCSR)
	copyCSEIntoCSR(cse, body, descendants, false)
	return body
}

// copyCSEIntoCSR copies the shared fields from cse onto csr in place;
// stripUpdateFields additionally strips the fields an update variant
// never carries (§4.7).
func copyCSEIntoCSR(cse, csr *resource.Resource, descendants []string, stripUpdateFields bool) {
	for _, f := range cseToCSRFields {
		if v, ok := cse.Get(f); ok {
			csr.Set(f, v)
		}
	}
	csr.Set("cb", cseStem(cse))
	csr.Set("dcse", descendants)
	if stripUpdateFields {
		for f := range stripOnUpdate {
			delete(csr.Attrs, f)
		}
	}
}

func cseStem(cse *resource.Resource) string {
	if csi, ok := cse.Get("csi"); ok {
		if s, ok := csi.(string); ok {
			return s
		}
	}
	return cse.RI
}
