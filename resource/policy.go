package resource

import "github.com/pkg/errors"

// AttrRule records what's allowed for a single attribute on a single
// resource type (§4.1).
type AttrRule struct {
	MandatoryOnCreate bool
	AllowedOnUpdate   bool
	ReadOnly          bool // server-computed; rejected if present in a client body
	Internal          bool // never accepted from a client, on CREATE or UPDATE
}

// AttributePolicy maps attribute name to its rule for one resource
// type. Attributes not present in the map are either rejected as
// unknown (for closed types) or passed through to the overflow map
// (types such as FlexContainer that allow arbitrary custom attributes
// - see AllowUnknown).
type AttributePolicy struct {
	Rules        map[string]AttrRule
	AllowUnknown bool
}

// commonReadOnly lists the attributes every type computes internally;
// these are rejected if a client tries to set them directly, matching
// §4.5's handleCreator rule for cr and the general read-only rule of
// §4.1.
var commonReadOnly = map[string]AttrRule{
	"ri": {ReadOnly: true, Internal: true},
	"ct": {ReadOnly: true, Internal: true},
	"lt": {ReadOnly: true, Internal: true},
	"cr": {ReadOnly: true, Internal: true},
}

func withCommon(rules map[string]AttrRule) map[string]AttrRule {
	out := make(map[string]AttrRule, len(rules)+len(commonReadOnly))
	for k, v := range commonReadOnly {
		out[k] = v
	}
	for k, v := range rules {
		out[k] = v
	}
	return out
}

// policies holds one AttributePolicy per resource type this CSE
// implements. Populated by init() below, one literal per type so each
// type's mandatory/read-only/internal shape stays easy to diff.
var policies = map[Type]AttributePolicy{}

func init() {
	policies[TypeAE] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"api": {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"aei": {ReadOnly: true, Internal: true},
		"rr":  {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"srv": {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"poa": {AllowedOnUpdate: true},
		"acpi": {AllowedOnUpdate: true},
		"lbl": {AllowedOnUpdate: true},
		"et":  {AllowedOnUpdate: true},
	})}

	policies[TypeContainer] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"mni": {AllowedOnUpdate: true},
		"mbs": {AllowedOnUpdate: true},
		"mia": {AllowedOnUpdate: true},
		"cni": {ReadOnly: true, Internal: true},
		"cbs": {ReadOnly: true, Internal: true},
		"acpi": {AllowedOnUpdate: true},
		"lbl":  {AllowedOnUpdate: true},
		"et":   {AllowedOnUpdate: true},
	})}

	policies[TypeCIN] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"cnf": {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"con": {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"cs":  {ReadOnly: true, Internal: true},
		"lbl": {AllowedOnUpdate: false},
	})}

	policies[TypeACP] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"pv":  {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"pvs": {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"lbl": {AllowedOnUpdate: true},
	})}

	policies[TypeGroup] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":   {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"mt":   {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"mid":  {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"mnm":  {AllowedOnUpdate: true},
		"cnm":  {ReadOnly: true, Internal: true},
		"macp": {AllowedOnUpdate: true},
		"acpi": {AllowedOnUpdate: true},
	})}

	policies[TypeSUB] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"nu":  {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"enc": {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"nct": {AllowedOnUpdate: true},
		"exc": {AllowedOnUpdate: true},
	})}

	policies[TypeCSR] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":   {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"csi":  {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"cb":   {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"poa":  {MandatoryOnCreate: true, AllowedOnUpdate: true},
		"cst":  {AllowedOnUpdate: true},
		"csz":  {AllowedOnUpdate: true},
		"rr":   {AllowedOnUpdate: true},
		"srt":  {AllowedOnUpdate: true},
		"srv":  {AllowedOnUpdate: true},
		"st":   {AllowedOnUpdate: true},
		"dcse": {AllowedOnUpdate: true},
		"lbl":  {AllowedOnUpdate: true},
		"nl":   {AllowedOnUpdate: true},
		"acpi": {AllowedOnUpdate: true},
	})}

	policies[TypeFlexContainer] = AttributePolicy{AllowUnknown: true, Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"cnd": {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"or":  {AllowedOnUpdate: true},
		"mni": {AllowedOnUpdate: true},
		"mbs": {AllowedOnUpdate: true},
		"cni": {ReadOnly: true, Internal: true},
		"cbs": {ReadOnly: true, Internal: true},
		"cs":  {ReadOnly: true, Internal: true},
		"st":  {ReadOnly: true, Internal: true},
		"acpi": {AllowedOnUpdate: true},
		"lbl":  {AllowedOnUpdate: true},
	})}

	policies[TypeFCI] = AttributePolicy{AllowUnknown: true, Rules: withCommon(map[string]AttrRule{
		"rn":  {ReadOnly: true, Internal: true},
		"cs":  {ReadOnly: true, Internal: true},
	})}

	policies[TypeMgmtObj] = AttributePolicy{AllowUnknown: true, Rules: withCommon(map[string]AttrRule{
		"rn":  {MandatoryOnCreate: false, AllowedOnUpdate: false},
		"mgd": {MandatoryOnCreate: true, AllowedOnUpdate: false},
	})}

	policies[TypeCSEBase] = AttributePolicy{Rules: withCommon(map[string]AttrRule{
		"rn":   {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"csi":  {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"cst":  {MandatoryOnCreate: true, AllowedOnUpdate: false},
		"srt":  {AllowedOnUpdate: true},
		"dcse": {AllowedOnUpdate: true},
		"acpi": {AllowedOnUpdate: true},
	})}
}

// PolicyFor returns the AttributePolicy for ty. Announced types share
// their base type's policy (§3.1).
func PolicyFor(ty Type) (AttributePolicy, bool) {
	p, ok := policies[ty.Announces()]
	return p, ok
}

// Validate checks attrs against ty's policy for a CREATE (onCreate
// true) or UPDATE. It distinguishes the three error kinds §4.1
// requires: missing mandatory attribute, unknown attribute, and (left
// to callers, since range checks are type-specific) out-of-range
// value.
func Validate(ty Type, attrs map[string]any, onCreate bool) error {
	policy, ok := PolicyFor(ty)
	if !ok {
		return errors.Errorf("no attribute policy registered for type %s", ty)
	}

	for name, rule := range policy.Rules {
		_, present := attrs[name]
		if onCreate && rule.MandatoryOnCreate && !present {
			return missingMandatoryError(name)
		}
		if present && rule.Internal {
			return unknownAttributeError(name)
		}
		if present && !onCreate && rule.ReadOnly {
			return unknownAttributeError(name)
		}
	}

	if policy.AllowUnknown {
		return nil
	}

	for name := range attrs {
		if _, ok := policy.Rules[name]; !ok {
			return unknownAttributeError(name)
		}
	}
	return nil
}

// ValidationError distinguishes the §4.1 validation-error kinds so the
// dispatcher can translate them to the correct rsc.Code without
// re-parsing a message string.
type ValidationError struct {
	Kind string // "missingMandatory" | "unknownAttribute"
	Attr string
}

func (e *ValidationError) Error() string {
	return e.Kind + ": " + e.Attr
}

func missingMandatoryError(attr string) error {
	return &ValidationError{Kind: "missingMandatory", Attr: attr}
}

func unknownAttributeError(attr string) error {
	return &ValidationError{Kind: "unknownAttribute", Attr: attr}
}
