package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
	"github.com/onem2m/cse/storage"
)

// Notifier is the Subscription/Notification Engine's (F) seam into the
// Dispatcher: it is told about every successful mutation and decides
// for itself which subscriptions match (§4.5).
type Notifier interface {
	ResourceCreated(ctx context.Context, r *resource.Resource)
	ResourceUpdated(ctx context.Context, before, after *resource.Resource)
	ResourceDeleted(ctx context.Context, r *resource.Resource)
}

// RegistrationHooks is the Registration Manager's (E) seam: AE/CSR
// CREATE and DELETE carry side effects (assigning an aei, creating
// and removing the registrant's ACP) that only it knows how to perform.
type RegistrationHooks interface {
	AfterCreate(ctx context.Context, r *resource.Resource) error
	BeforeDelete(ctx context.Context, r *resource.Resource) error
	// AssignCreator implements handleCreator (§4.5): it returns the cr
	// to assign for a CREATE of this type by this originator. A
	// client-supplied cr never reaches it: create rejects such a
	// request as a bad request first.
	AssignCreator(ty resource.Type, originator string) string
}

// Dispatcher implements the CRUD and discovery pipelines (§4.4) over a
// Store, gated by an access.Engine and fanning out to a Notifier and
// RegistrationHooks. It holds no resource-tree state of its own.
type Dispatcher struct {
	store        storage.Store
	access       *access.Engine
	notify       Notifier
	registration RegistrationHooks
	log          logging.Logger

	cseBaseRI string
	cseID     string
	cseRN     string
}

// New constructs a Dispatcher. notify/registration may be nil in
// tests that only exercise path resolution or access control.
func New(store storage.Store, eng *access.Engine, cseBaseRI, cseID, cseRN string, notify Notifier, registration RegistrationHooks, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		store: store, access: eng, notify: notify, registration: registration, log: log,
		cseBaseRI: cseBaseRI, cseID: cseID, cseRN: cseRN,
	}
}

// Dispatch routes a Request to the pipeline for its operation. A
// Request Expiration Timestamp already in the past is rejected before
// any pipeline runs, with no side effects (§5 "Cancellation &
// timeouts", §8 boundary scenario).
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req.Ret != nil && time.Now().UTC().After(*req.Ret) {
		return nil, rsc.ErrRequestTimeout(errors.Errorf("request expired at %s", req.Ret.Format(time.RFC3339)))
	}

	switch req.Op {
	case OpCreate:
		return d.create(ctx, req)
	case OpRetrieve:
		return d.retrieve(ctx, req)
	case OpUpdate:
		return d.update(ctx, req)
	case OpDelete:
		return d.delete(ctx, req)
	case OpDiscovery:
		return d.discover(ctx, req)
	default:
		return nil, rsc.ErrBadRequest(errors.Errorf("unsupported operation %v", req.Op))
	}
}

// create implements §4.4's CREATE pipeline: resolve parent, check
// access, validate the candidate, persist it, run registration side
// effects, enforce the parent's quota, and notify — rolling back the
// insert if any step after persistence fails.
func (d *Dispatcher) create(ctx context.Context, req *Request) (*Response, error) {
	if !resource.Known(req.Ty) {
		return nil, rsc.ErrBadRequest(errors.Errorf("unknown resource type %d", req.Ty))
	}

	parent, err := d.resolve(ctx, req.To)
	if err != nil {
		return nil, err
	}

	ok, err := d.access.HasAccess(ctx, req.Originator, parent, access.OpCreate, access.Options{
		Ty: req.Ty, IsCreateRequest: true, Parent: parent,
	})
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}
	if !ok {
		return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not create %s under %s", req.Originator, req.Ty, parent.RI))
	}

	if _, hasCR := req.Content["cr"]; hasCR {
		return nil, rsc.ErrBadRequest(errors.Errorf("cr may not be set by the originator"))
	}

	child := resource.New(req.Ty)
	child.Attrs = req.Content
	if child.Attrs == nil {
		child.Attrs = map[string]any{}
	}
	if rn, ok := child.Attrs["rn"].(string); ok && rn != "" {
		child.RN = rn
	}
	delete(child.Attrs, "rn")
	if child.RN == "" {
		child.RN = newRI(req.Ty)
	}
	if _, err := d.store.GetByName(ctx, parent.RI, child.RN); err == nil {
		return nil, rsc.ErrConflict(errors.Errorf("%s already has a child named %q", parent.RI, child.RN))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, rsc.ErrInternal(err)
	}
	child.RI = newRI(req.Ty)
	child.PI = parent.RI
	child.CR = req.Originator
	if d.registration != nil {
		child.CR = d.registration.AssignCreator(req.Ty, req.Originator)
	}
	now := time.Now().UTC()
	child.CT, child.LT = now, now

	hooks := resource.HooksFor(req.Ty)
	if veto := resource.HooksFor(parent.Ty).ChildWillBeAdded; veto != nil {
		if err := veto(parent, child); err != nil {
			return nil, classifyHookError(err)
		}
	}
	if err := resource.Validate(req.Ty, child.Attrs, true); err != nil {
		return nil, classifyValidationError(err)
	}
	if hooks.Validate != nil {
		if req.Ty == resource.TypeGroup {
			if err := d.stashGroupMemberTypes(ctx, child); err != nil {
				return nil, rsc.ErrInternal(err)
			}
		}
		err := hooks.Validate(child, true)
		delete(child.Attrs, "memberTypes")
		if err != nil {
			return nil, classifyHookError(err)
		}
	}

	if err := d.store.Put(ctx, child); err != nil {
		return nil, rsc.ErrInternal(errors.Wrap(err, "persist created resource"))
	}

	if d.registration != nil && (req.Ty == resource.TypeAE || req.Ty == resource.TypeCSR) {
		if err := d.registration.AfterCreate(ctx, child); err != nil {
			// Roll back: a failed registration side effect must not
			// leave an orphaned AE/CSR resource behind (§4.4 "rollback
			// on failure").
			_ = d.store.Delete(ctx, child.RI)
			return nil, rsc.ErrConflict(errors.Wrap(err, "registration"))
		}
		// AfterCreate sets aei/cr/acpi on child; persist them.
		if err := d.store.Put(ctx, child); err != nil {
			_ = d.store.Delete(ctx, child.RI)
			return nil, rsc.ErrInternal(errors.Wrap(err, "persist registration attributes"))
		}
	}

	if hooks.Activate != nil {
		hooks.Activate(child, parent)
	}

	if err := d.enforceQuota(ctx, parent); err != nil {
		_ = d.store.Delete(ctx, child.RI)
		return nil, rsc.ErrInternal(errors.Wrap(err, "enforce parent quota"))
	}

	if d.notify != nil {
		d.notify.ResourceCreated(ctx, child)
	}

	return &Response{RSC: rsc.Created, Content: child, Location: child.RI}, nil
}

func (d *Dispatcher) retrieve(ctx context.Context, req *Request) (*Response, error) {
	target, err := d.resolve(ctx, req.To)
	if err != nil {
		return nil, err
	}
	ok, err := d.access.HasAccess(ctx, req.Originator, target, access.OpRetrieve, access.Options{Ty: target.Ty})
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}
	if !ok {
		return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not retrieve %s", req.Originator, target.RI))
	}
	return &Response{RSC: rsc.OK, Content: target}, nil
}

// update implements §4.4's UPDATE pipeline: resolve, check access
// (with the ACPI-update special case), validate the request body
// against the attribute policy, merge, run the type's Validate hook,
// persist, notify.
func (d *Dispatcher) update(ctx context.Context, req *Request) (*Response, error) {
	target, err := d.resolve(ctx, req.To)
	if err != nil {
		return nil, err
	}

	ok, err := d.access.HasAccess(ctx, req.Originator, target, access.OpUpdate, access.Options{Ty: target.Ty})
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}
	if !ok {
		return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not update %s", req.Originator, target.RI))
	}

	if _, setsACPI := req.Content["acpi"]; setsACPI {
		if len(req.Content) != 1 {
			return nil, rsc.ErrBadRequest(errors.Errorf("an update setting acpi must contain only acpi"))
		}
		ok, err := d.access.ACPIUpdateAllowed(ctx, req.Originator, target)
		if err != nil {
			return nil, rsc.ErrInternal(err)
		}
		if !ok {
			return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not update acpi on %s", req.Originator, target.RI))
		}
	}

	if err := resource.Validate(target.Ty, req.Content, false); err != nil {
		return nil, classifyValidationError(err)
	}
	before := target.Clone()
	if err := applyUpdate(target, req.Content); err != nil {
		return nil, rsc.ErrBadRequest(err)
	}
	if hooks := resource.HooksFor(target.Ty); hooks.Validate != nil {
		if target.Ty == resource.TypeGroup {
			if err := d.stashGroupMemberTypes(ctx, target); err != nil {
				return nil, rsc.ErrInternal(err)
			}
		}
		err := hooks.Validate(target, false)
		delete(target.Attrs, "memberTypes")
		if err != nil {
			return nil, classifyHookError(err)
		}
	}
	target.LT = time.Now().UTC()

	if target.Ty == resource.TypeFlexContainer && resource.NeedsFCISnapshot(target) {
		st, _ := target.Get("st")
		n, _ := st.(int)
		target.Set("st", n+1)
	}

	if err := d.store.Put(ctx, target); err != nil {
		return nil, rsc.ErrInternal(errors.Wrap(err, "persist updated resource"))
	}

	if target.Ty == resource.TypeFlexContainer && resource.NeedsFCISnapshot(target) {
		if snap, err := resource.SnapshotFCI(target); err != nil {
			d.log.Info("flexcontainer instance snapshot failed", "parent", target.RI, "err", err.Error())
		} else {
			snap.RI = newRI(resource.TypeFCI)
			now := time.Now().UTC()
			snap.CT, snap.LT = now, now
			if err := d.store.Put(ctx, snap); err != nil {
				d.log.Info("flexcontainer instance snapshot persist failed", "parent", target.RI, "err", err.Error())
			} else {
				if err := d.enforceQuota(ctx, target); err != nil {
					d.log.Info("quota enforcement failed after flexcontainer snapshot", "parent", target.RI, "err", err.Error())
				}
				if d.notify != nil {
					d.notify.ResourceCreated(ctx, snap)
				}
			}
		}
	}

	if d.notify != nil {
		d.notify.ResourceUpdated(ctx, before, target)
	}
	return &Response{RSC: rsc.Updated, Content: target}, nil
}

// delete implements §4.4's DELETE pipeline: resolve, check access,
// recursively remove the subtree depth-first so children are always
// deleted (and notified) before their parent, running registration
// side effects for AE/CSR along the way.
func (d *Dispatcher) delete(ctx context.Context, req *Request) (*Response, error) {
	target, err := d.resolve(ctx, req.To)
	if err != nil {
		return nil, err
	}
	ok, err := d.access.HasAccess(ctx, req.Originator, target, access.OpDelete, access.Options{Ty: target.Ty})
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}
	if !ok {
		return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not delete %s", req.Originator, target.RI))
	}
	if err := d.deleteSubtree(ctx, target); err != nil {
		return nil, rsc.ErrInternal(err)
	}
	return &Response{RSC: rsc.Deleted, Content: target}, nil
}

func (d *Dispatcher) deleteSubtree(ctx context.Context, r *resource.Resource) error {
	kids, err := d.store.Children(ctx, r.RI)
	if err != nil {
		return err
	}
	for _, k := range kids {
		if err := d.deleteSubtree(ctx, k); err != nil {
			return err
		}
	}
	if d.registration != nil && (r.Ty == resource.TypeAE || r.Ty == resource.TypeCSR) {
		if err := d.registration.BeforeDelete(ctx, r); err != nil {
			return errors.Wrap(err, "registration")
		}
	}
	if err := d.store.Delete(ctx, r.RI); err != nil {
		return errors.Wrapf(err, "delete %s", r.RI)
	}
	if d.notify != nil {
		d.notify.ResourceDeleted(ctx, r)
	}
	return nil
}

// discover implements §4.4 discovery: access-check the scope root,
// search it, then drop any match the originator cannot retrieve.
func (d *Dispatcher) discover(ctx context.Context, req *Request) (*Response, error) {
	root, err := d.resolve(ctx, req.To)
	if err != nil {
		return nil, err
	}
	ok, err := d.access.HasAccess(ctx, req.Originator, root, access.OpDiscovery, access.Options{Ty: root.Ty})
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}
	if !ok {
		return nil, rsc.ErrNoPrivilege(errors.Errorf("%s may not discover under %s", req.Originator, root.RI))
	}

	crit := req.Filter
	crit.Root = root.RI
	matches, err := d.store.Search(ctx, crit)
	if err != nil {
		return nil, rsc.ErrInternal(err)
	}

	visible := matches[:0]
	for _, m := range matches {
		ok, err := d.access.HasAccess(ctx, req.Originator, m, access.OpDiscovery, access.Options{Ty: m.Ty})
		if err != nil {
			return nil, rsc.ErrInternal(err)
		}
		if ok {
			visible = append(visible, m)
		}
	}
	return &Response{RSC: rsc.OK, Resources: visible}, nil
}

// enforceQuota recomputes a container-like parent's cni/cbs and
// evicts oldest children past the limit, each eviction a full delete
// including its own notification (§4.4 "each eviction is itself a
// full delete").
func (d *Dispatcher) enforceQuota(ctx context.Context, parent *resource.Resource) error {
	if parent.Ty != resource.TypeContainer && parent.Ty != resource.TypeFlexContainer {
		return nil
	}
	var filter resource.Type
	if parent.Ty == resource.TypeContainer {
		filter = resource.TypeCIN
	} else {
		filter = resource.TypeFCI
	}
	children, err := d.store.Children(ctx, parent.RI, filter)
	if err != nil {
		return err
	}
	cni, cbs, evict, err := resource.RecomputeQuota(parent, children)
	if err != nil {
		return err
	}
	for _, e := range evict {
		if err := d.deleteSubtree(ctx, e); err != nil {
			return err
		}
	}
	parent.Set("cni", cni)
	parent.Set("cbs", cbs)
	return d.store.Put(ctx, parent)
}

// stashGroupMemberTypes resolves a GRP's mid list to member resource
// types and stashes them under "memberTypes" for validateGroup
// (resource/hooks.go) to check against mt, since only the Dispatcher
// can reach storage to resolve mid (§4.1/SPEC_FULL feature 5).
func (d *Dispatcher) stashGroupMemberTypes(ctx context.Context, grp *resource.Resource) error {
	types := make([]resource.Type, 0, len(resource.MemberIDs(grp)))
	for _, ri := range resource.MemberIDs(grp) {
		m, err := d.store.Get(ctx, ri)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return rsc.ErrBadRequest(errors.Errorf("group member %s does not exist", ri))
			}
			return err
		}
		types = append(types, m.Ty)
	}
	grp.Set("memberTypes", types)
	return nil
}

// classifyHookError maps the hook error types resource.Hooks may
// return to their RSC (§4.1 quota/reserved-name/group-type errors).
func classifyHookError(err error) error {
	switch err.(type) {
	case *resource.QuotaError:
		return rsc.ErrContentsUnacceptable(err)
	case *resource.ReservedNameError:
		return rsc.ErrOperationNotAllowed(err)
	case *resource.GroupTypeError:
		return rsc.ErrGroupMemberTypeInconsistent(err)
	default:
		return rsc.ErrInternal(err)
	}
}

// classifyValidationError maps a resource.Validate error to its RSC:
// a missing mandatory attribute is insufficientArguments, an unknown
// or non-writable attribute is badRequest (§4.1).
func classifyValidationError(err error) error {
	if verr, ok := err.(*resource.ValidationError); ok {
		if verr.Kind == "missingMandatory" {
			return rsc.ErrInsufficientArguments(err)
		}
		return rsc.ErrBadRequest(err)
	}
	return rsc.ErrContentsUnacceptable(err)
}
