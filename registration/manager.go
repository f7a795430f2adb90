// Package registration implements the Registration Manager (E): the
// AE/CSR side effects §4.5 describes — implicit ACP creation, creator
// attribution, and deregistration cleanup — invoked by the Dispatcher
// around CREATE/DELETE of those two types.
package registration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

// Config holds the CSE-wide settings §4.5 references.
type Config struct {
	CSEOriginator       string
	AllowedAEOriginators []string
	ACPNamePrefix        string
	DefaultACPermission  access.Op
	CSEBaseRI            string
}

// Manager implements dispatch.RegistrationHooks.
type Manager struct {
	Store  storage.Store
	Config Config
}

func New(store storage.Store, cfg Config) *Manager {
	return &Manager{Store: store, Config: cfg}
}

// AfterCreate runs the CREATE-time side effects for AE and CSR (§4.5).
// handleCreator itself is AssignCreator, which the Dispatcher calls
// before the resource is persisted.
func (m *Manager) AfterCreate(ctx context.Context, r *resource.Resource) error {
	switch r.Ty {
	case resource.TypeAE:
		return m.afterCreateAE(ctx, r)
	case resource.TypeCSR:
		return m.afterCreateCSR(ctx, r)
	}
	return nil
}

// BeforeDelete runs the DELETE-time cleanup for AE and CSR (§4.5).
func (m *Manager) BeforeDelete(ctx context.Context, r *resource.Resource) error {
	switch r.Ty {
	case resource.TypeAE:
		return m.beforeDeleteAE(ctx, r)
	case resource.TypeCSR:
		return m.beforeDeleteCSR(ctx, r)
	}
	return nil
}

func (m *Manager) afterCreateAE(ctx context.Context, ae *resource.Resource) error {
	originator := ae.CR
	if originator == "" || originator == "C" || originator == "S" {
		originator = mintAEID(originator)
	}
	allowed := false
	for _, pat := range m.Config.AllowedAEOriginators {
		if pat == "*" || pat == originator {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Errorf("originator %q is not in the allowed AE list", originator)
	}
	if ae.PI != m.Config.CSEBaseRI {
		return errors.New("AE may only be created directly under the CSEBase")
	}

	ae.Set("aei", originator)
	ae.CR = originator

	if len(ae.ACPI) == 0 {
		acp := resource.New(resource.TypeACP)
		acp.RN = m.Config.ACPNamePrefix + ae.RN
		acp.PI = m.Config.CSEBaseRI
		acp.RI = "acp-" + ae.RN
		acp.CT, acp.LT = ae.CT, ae.CT
		acp.CR = m.Config.CSEOriginator
		access.SetPV(acp, []access.Privilege{{
			Originators: []string{originator, m.Config.CSEOriginator},
			Operations:  m.Config.DefaultACPermission,
		}})
		access.SetPVS(acp, []access.Privilege{{
			Originators: []string{m.Config.CSEOriginator},
			Operations:  access.OpCreate | access.OpRetrieve | access.OpUpdate | access.OpDelete | access.OpNotify | access.OpDiscovery,
		}})
		acp.Set("createdInternallyBy", ae.RI)
		if err := m.Store.Put(ctx, acp); err != nil {
			return errors.Wrap(err, "create implicit ACP for AE")
		}
		ae.ACPI = []string{acp.RI}
	}
	return nil
}

func (m *Manager) beforeDeleteAE(ctx context.Context, ae *resource.Resource) error {
	for _, ri := range ae.ACPI {
		acp, err := m.Store.Get(ctx, ri)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if by, _ := acp.Get("createdInternallyBy"); by == ae.RI {
			if err := m.Store.Delete(ctx, acp.RI); err != nil {
				return errors.Wrap(err, "delete implicit ACP for AE")
			}
		}
	}
	return nil
}

func (m *Manager) afterCreateCSR(ctx context.Context, csr *resource.Resource) error {
	peerAccessACP := resource.New(resource.TypeACP)
	peerAccessACP.RN = m.Config.ACPNamePrefix + csr.RN + "-peer"
	peerAccessACP.PI = m.Config.CSEBaseRI
	peerAccessACP.RI = "acp-" + csr.RN + "-peer"
	peerAccessACP.CT, peerAccessACP.LT = csr.CT, csr.CT
	peerAccessACP.CR = m.Config.CSEOriginator
	peerCSI, _ := csr.Get("csi")
	peerOriginator, _ := peerCSI.(string)
	access.SetPV(peerAccessACP, []access.Privilege{{
		Originators: []string{peerOriginator},
		Operations:  access.OpCreate | access.OpRetrieve | access.OpUpdate | access.OpDelete | access.OpNotify | access.OpDiscovery,
	}})
	access.SetPVS(peerAccessACP, []access.Privilege{{
		Originators: []string{m.Config.CSEOriginator},
		Operations:  access.OpCreate | access.OpRetrieve | access.OpUpdate | access.OpDelete | access.OpNotify | access.OpDiscovery,
	}})
	peerAccessACP.Set("createdInternallyBy", csr.RI)
	if err := m.Store.Put(ctx, peerAccessACP); err != nil {
		return errors.Wrap(err, "create peer-access ACP for CSR")
	}
	csr.ACPI = append(csr.ACPI, peerAccessACP.RI)

	cseBaseRetrieveACP := resource.New(resource.TypeACP)
	cseBaseRetrieveACP.RN = m.Config.ACPNamePrefix + csr.RN + "-cb"
	cseBaseRetrieveACP.PI = m.Config.CSEBaseRI
	cseBaseRetrieveACP.RI = "acp-" + csr.RN + "-cb"
	cseBaseRetrieveACP.CT, cseBaseRetrieveACP.LT = csr.CT, csr.CT
	cseBaseRetrieveACP.CR = m.Config.CSEOriginator
	access.SetPV(cseBaseRetrieveACP, []access.Privilege{{
		Originators: []string{peerOriginator},
		Operations:  access.OpRetrieve,
	}})
	access.SetPVS(cseBaseRetrieveACP, []access.Privilege{{
		Originators: []string{m.Config.CSEOriginator},
		Operations:  access.OpCreate | access.OpRetrieve | access.OpUpdate | access.OpDelete | access.OpNotify | access.OpDiscovery,
	}})
	cseBaseRetrieveACP.Set("createdInternallyBy", csr.RI)
	if err := m.Store.Put(ctx, cseBaseRetrieveACP); err != nil {
		return errors.Wrap(err, "create CSEBase-retrieve ACP for CSR")
	}

	cseBase, err := m.Store.Get(ctx, m.Config.CSEBaseRI)
	if err != nil {
		return errors.Wrap(err, "load CSEBase")
	}
	cseBase.ACPI = append(cseBase.ACPI, cseBaseRetrieveACP.RI)
	if err := m.Store.Put(ctx, cseBase); err != nil {
		return errors.Wrap(err, "attach CSEBase-retrieve ACP")
	}
	return nil
}

func (m *Manager) beforeDeleteCSR(ctx context.Context, csr *resource.Resource) error {
	for _, ri := range csr.ACPI {
		acp, err := m.Store.Get(ctx, ri)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if by, _ := acp.Get("createdInternallyBy"); by == csr.RI {
			if err := m.Store.Delete(ctx, acp.RI); err != nil {
				return err
			}
		}
	}

	cseBase, err := m.Store.Get(ctx, m.Config.CSEBaseRI)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	kept := cseBase.ACPI[:0]
	for _, ri := range cseBase.ACPI {
		if !strings.HasPrefix(ri, "acp-"+csr.RN+"-cb") {
			kept = append(kept, ri)
		}
	}
	cseBase.ACPI = kept
	return m.Store.Put(ctx, cseBase)
}

// cseOwnedCreator lists the types whose cr is always the CSE itself
// rather than the requesting originator (§4.5 handleCreator): CSR
// resources represent a registration the local CSE performs on a
// peer's behalf, not client-authored content.
var cseOwnedCreator = map[resource.Type]bool{
	resource.TypeCSR: true,
}

// AssignCreator implements dispatch.RegistrationHooks.AssignCreator,
// §4.5's handleCreator: client-supplied cr is always rejected by the
// Dispatcher before calling this; cr is assigned to originator except
// for the CSE-owned type set, which get cseOriginator instead.
func (m *Manager) AssignCreator(ty resource.Type, originator string) string {
	if cseOwnedCreator[ty] {
		return m.Config.CSEOriginator
	}
	return originator
}

func mintAEID(prefix string) string {
	if prefix == "" {
		prefix = "C"
	}
	var b [6]byte
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:])
}
