// Package access implements the Access-Control Engine (C): ACP
// evaluation against (originator, operation, resource-type) per §4.3.
package access

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

// Op is a bitset of the operations an ACP privilege record may grant.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpRetrieve
	OpUpdate
	OpDelete
	OpNotify
	OpDiscovery
)

// Privilege is one entry in an ACP's pv or pvs list (§3.2).
type Privilege struct {
	Originators []string       `json:"acor"`
	Operations  Op             `json:"operations"`
	Types       []resource.Type `json:"acty,omitempty"`
}

// Grants reports whether this privilege grants op to originator for a
// resource of type ty.
func (p Privilege) Grants(originator string, op Op, ty resource.Type) bool {
	if p.Operations&op == 0 {
		return false
	}
	if len(p.Types) > 0 {
		ok := false
		for _, t := range p.Types {
			if t == ty {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, pattern := range p.Originators {
		if matchOriginator(pattern, originator) {
			return true
		}
	}
	return false
}

// matchOriginator implements the "simple glob-like matching (* anywhere)"
// §4.3 "Wildcards" calls for.
func matchOriginator(pattern, originator string) bool {
	if pattern == "*" || pattern == originator {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	re := strings.TrimSuffix(b.String(), ".*") + "$"
	matched, err := regexp.MatchString(re, originator)
	return err == nil && matched
}

// originatorStem resolves an originator to its "stem", the prefix
// oneM2M uses to relate an announced resource's originator to its
// announcing CSE (SPEC_FULL feature 2, grounded on
// original_source/acme/services/SecurityManager.py). "CmyApp" stems
// to "C"; a CSE-ID originator like "/myCSE" stems to itself.
func originatorStem(originator string) string {
	if originator == "" {
		return originator
	}
	switch originator[0] {
	case 'C', 'S':
		return originator[:1]
	default:
		return originator
	}
}

// GetPV decodes an ACP resource's pv list.
func GetPV(acp *resource.Resource) ([]Privilege, error) { return decodePrivileges(acp, "pv") }

// GetPVS decodes an ACP resource's pvs (self-privilege) list.
func GetPVS(acp *resource.Resource) ([]Privilege, error) { return decodePrivileges(acp, "pvs") }

func decodePrivileges(acp *resource.Resource, attr string) ([]Privilege, error) {
	raw, ok := acp.Get(attr)
	if !ok {
		return nil, nil
	}
	// Attrs round-trips through JSON when persisted, so raw may already
	// be []Privilege (freshly constructed in-process) or
	// []interface{} of map[string]interface{} (reloaded from storage).
	if ps, ok := raw.([]Privilege); ok {
		return ps, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "re-encode %s", attr)
	}
	var ps []Privilege
	if err := json.Unmarshal(b, &ps); err != nil {
		return nil, errors.Wrapf(err, "decode %s", attr)
	}
	return ps, nil
}

// SetPV/SetPVS store a privilege list on an ACP resource.
func SetPV(acp *resource.Resource, pv []Privilege)   { acp.Set("pv", pv) }
func SetPVS(acp *resource.Resource, pvs []Privilege) { acp.Set("pvs", pvs) }

// Config holds the originator allow-lists and switches §4.3
// references but never names as belonging to a single resource.
type Config struct {
	ChecksDisabled        bool
	AdminOriginator       string
	FullAccessAdmin       bool
	AllowedAEOriginators  []string
	AllowedCSROriginators []string
	RegistrarCSI          string
	DefaultACPermission   Op
	InheritACP            bool
}

// Options carries the per-call context §4.3's hasAccess signature
// needs beyond (originator, resource, op).
type Options struct {
	CheckSelf       bool
	Ty              resource.Type
	IsCreateRequest bool
	Parent          *resource.Resource
}

// Engine evaluates ACPs (§4.3).
type Engine struct {
	Store     storage.Store
	Config    Config
	CSEBaseRI string
	Log       logging.Logger
}

// NewEngine constructs an Engine. log may be the discard logger in
// tests.
func NewEngine(store storage.Store, cfg Config, cseBaseRI string, log logging.Logger) *Engine {
	return &Engine{Store: store, Config: cfg, CSEBaseRI: cseBaseRI, Log: log}
}

// HasAccess implements §4.3's eleven-step evaluation order. First
// match grants; falling through every rule without a match denies.
func (e *Engine) HasAccess(ctx context.Context, originator string, target *resource.Resource, op Op, opts Options) (bool, error) {
	// 1. Globally disabled ACP checks.
	if e.Config.ChecksDisabled {
		return true, nil
	}

	// 2. CSE-admin with full access.
	if e.Config.FullAccessAdmin && originator != "" && originator == e.Config.AdminOriginator {
		return true, nil
	}

	// 3. CREATE of AE.
	if opts.IsCreateRequest && opts.Ty == resource.TypeAE {
		if originator == "" || originator == "C" || originator == "S" {
			return true, nil
		}
		for _, pat := range e.Config.AllowedAEOriginators {
			if matchOriginator(pat, originator) {
				return true, nil
			}
		}
	}

	// 4. CREATE of CSR or Announced resources.
	if opts.IsCreateRequest && (opts.Ty == resource.TypeCSR || opts.Ty.IsAnnounced()) {
		for _, pat := range e.Config.AllowedCSROriginators {
			if matchOriginator(pat, originator) {
				return true, nil
			}
		}
		if opts.Ty.IsAnnounced() && opts.Parent != nil && originatorStem(originator) == opts.Parent.RI {
			return true, nil
		}
	}

	// 5. RETRIEVE of the CSEBase.
	if op == OpRetrieve && target != nil && target.Ty == resource.TypeCSEBase {
		if ok, err := e.isRegisteredAE(ctx, originator); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
		if e.Config.RegistrarCSI != "" && originator == e.Config.RegistrarCSI {
			return true, nil
		}
		for _, pat := range e.Config.AllowedCSROriginators {
			if matchOriginator(pat, originator) {
				return true, nil
			}
		}
	}

	// 6. GRP with macp set.
	if target != nil && target.Ty == resource.TypeGroup {
		if macp := resource.MACP(target); len(macp) > 0 {
			return e.evaluateACPIList(ctx, originator, macp, op, opts.Ty, opts.CheckSelf)
		}
		// else fall through to acpi, below.
	}

	// 7. ACP/ACPAnnc evaluate against their own pvs.
	if target != nil && (target.Ty == resource.TypeACP || target.Ty == resource.TypeACPAnnc) {
		pvs, err := GetPVS(target)
		if err != nil {
			return false, err
		}
		return grantedBy(pvs, originator, op, opts.Ty), nil
	}

	// 8. SUB on CREATE also requires RETRIEVE on the parent.
	if opts.IsCreateRequest && opts.Ty == resource.TypeSUB {
		if opts.Parent == nil {
			return false, nil
		}
		ok, err := e.HasAccess(ctx, originator, opts.Parent, OpRetrieve, Options{Ty: opts.Parent.Ty})
		if err != nil || !ok {
			return false, err
		}
	}

	if target == nil {
		return false, nil
	}

	// 9. No acpi but type supports it: owner/creator check.
	if target.Ty.SupportsACPI() && len(target.ACPI) == 0 {
		if hld, ok := target.Get("hld"); ok {
			if s, _ := hld.(string); s != "" && s == originator {
				return true, nil
			}
		}
		return target.CR != "" && target.CR == originator, nil
	}

	// 10. Type does not support acpi: inherit from parent if configured.
	if !target.Ty.SupportsACPI() {
		if !e.Config.InheritACP || target.PI == "" {
			return false, nil
		}
		parent, err := e.Store.Get(ctx, target.PI)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return e.HasAccess(ctx, originator, parent, op, Options{Ty: parent.Ty, CheckSelf: opts.CheckSelf})
	}

	// 11. Iterate acpi.
	return e.evaluateACPIList(ctx, originator, target.ACPI, op, opts.Ty, opts.CheckSelf)
}

func (e *Engine) evaluateACPIList(ctx context.Context, originator string, acpi []string, op Op, ty resource.Type, checkSelf bool) (bool, error) {
	for _, ri := range acpi {
		acp, err := e.Store.Get(ctx, ri)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Unknown/missing ACPs are skipped with a warning, not
				// treated as deny-by-default (§4.3 "Wildcards").
				e.Log.Info("skipping missing ACP", "ri", ri)
				continue
			}
			return false, err
		}
		var privs []Privilege
		if checkSelf {
			privs, err = GetPVS(acp)
		} else {
			privs, err = GetPV(acp)
		}
		if err != nil {
			return false, err
		}
		if grantedBy(privs, originator, op, ty) {
			return true, nil
		}
	}
	return false, nil
}

func grantedBy(privs []Privilege, originator string, op Op, ty resource.Type) bool {
	for _, p := range privs {
		if p.Grants(originator, op, ty) {
			return true
		}
	}
	return false
}

func (e *Engine) isRegisteredAE(ctx context.Context, originator string) (bool, error) {
	if originator == "" {
		return false, nil
	}
	kids, err := e.Store.Children(ctx, e.CSEBaseRI, resource.TypeAE)
	if err != nil {
		return false, err
	}
	for _, k := range kids {
		if aei, _ := k.Get("aei"); aei == originator {
			return true, nil
		}
	}
	return false, nil
}

// ACPIUpdateAllowed implements §4.3's "ACPI update rule": an UPDATE
// whose body sets acpi is authorized only if the resource currently
// has no acpi (creator may set one) or one of the currently-listed
// ACPs grants UPDATE to originator.
func (e *Engine) ACPIUpdateAllowed(ctx context.Context, originator string, target *resource.Resource) (bool, error) {
	if len(target.ACPI) == 0 {
		return target.CR == originator, nil
	}
	return e.evaluateACPIList(ctx, originator, target.ACPI, OpUpdate, target.Ty, false)
}
