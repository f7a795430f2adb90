// Package resource defines the typed resource tree: the closed set of
// oneM2M resource types, their attribute policies, and the lifecycle
// hooks each type may implement.
package resource

// Type is a resource type tag. Values follow the oneM2M numbering
// where one exists; virtual and announced variants that oneM2M derives
// from a base type are given adjacent values for readability.
type Type int

const (
	TypeUnknown Type = 0

	TypeACP       Type = 1
	TypeAE        Type = 2
	TypeContainer Type = 3
	TypeCIN       Type = 4 // ContentInstance
	TypeCSEBase   Type = 5
	TypeGroup     Type = 9
	TypeMgmtObj   Type = 13
	TypeCSR       Type = 16 // RemoteCSE
	TypeSUB       Type = 23
	TypeFlexContainer Type = 28

	// Virtual and derived types. These are never persisted directly
	// except FCI, which is a materialized snapshot (§4.1).
	TypeFCI       Type = 29 // FlexContainerInstance, persisted
	TypeLatest    Type = 30 // virtual "la" child, view-only
	TypeOldest    Type = 31 // virtual "ol" child, view-only

	// Announced variants (§3.1, §4.3 rule 4). Offset by 10000 from the
	// type they announce so Type.IsAnnounced/Type.Announces are trivial.
	announcedOffset  Type = 10000
	TypeAEAnnc       Type = TypeAE + announcedOffset
	TypeContainerAnnc Type = TypeContainer + announcedOffset
	TypeCSRAnnc      Type = TypeCSR + announcedOffset
	TypeACPAnnc      Type = TypeACP + announcedOffset
	TypeFlexContainerAnnc Type = TypeFlexContainer + announcedOffset
)

// IsAnnounced reports whether t is an announced variant of another type.
func (t Type) IsAnnounced() bool { return t >= announcedOffset }

// Announces returns the base type this announced variant announces,
// or t itself if it is not announced.
func (t Type) Announces() Type {
	if t.IsAnnounced() {
		return t - announcedOffset
	}
	return t
}

// IsVirtual reports whether t is a view that is never stored
// independently (§3.1 "la"/"ol").
func (t Type) IsVirtual() bool { return t == TypeLatest || t == TypeOldest }

// IsInstance reports whether t is an instance-bearing child counted by
// a container-like parent's cni/cbs quota (§4.1).
func (t Type) IsInstance() bool { return t == TypeCIN || t == TypeFCI }

// SupportsACPI reports whether resources of this type may carry an
// acpi attribute list (§4.3 rule 9/10). Instance types and the virtual
// la/ol types do not carry their own ACPs; CIN/FCI inherit from their
// parent container.
func (t Type) SupportsACPI() bool {
	switch t {
	case TypeCIN, TypeFCI, TypeLatest, TypeOldest:
		return false
	default:
		return true
	}
}

// String returns the oneM2M short name used in structured paths and
// diagnostics, e.g. "cnt" for a Container.
func (t Type) String() string {
	switch t {
	case TypeACP:
		return "acp"
	case TypeAE:
		return "ae"
	case TypeContainer:
		return "cnt"
	case TypeCIN:
		return "cin"
	case TypeCSEBase:
		return "cb"
	case TypeGroup:
		return "grp"
	case TypeMgmtObj:
		return "mgmtObj"
	case TypeCSR:
		return "csr"
	case TypeSUB:
		return "sub"
	case TypeFlexContainer:
		return "fcnt"
	case TypeFCI:
		return "fci"
	case TypeLatest:
		return "la"
	case TypeOldest:
		return "ol"
	case TypeAEAnnc:
		return "aeAnnc"
	case TypeContainerAnnc:
		return "cntAnnc"
	case TypeCSRAnnc:
		return "csrAnnc"
	case TypeACPAnnc:
		return "acpAnnc"
	case TypeFlexContainerAnnc:
		return "fcntAnnc"
	default:
		return "unknown"
	}
}

// Known reports whether t is one of the types this CSE implements.
// The Dispatcher uses this to reject CREATE with ty=999 as
// badRequest (§8 scenario 6) before any attribute validation runs.
func Known(t Type) bool {
	return t.String() != "unknown"
}
