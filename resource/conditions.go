/*
Copyright 2019 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resource

import (
	"sort"
	"time"
)

// ConditionStatus mirrors Kubernetes' tri-state condition status
// without depending on k8s.io/api; this CSE carries no Kubernetes
// types (see DESIGN.md "dropped teacher dependencies").
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// ConditionType represents a condition a resource could be in. These
// are diagnostic only - they never appear on the wire - but give the
// Remote-CSE Manager (G) somewhere to record "why" without another
// side-channel.
type ConditionType string

const (
	// TypeRegistered indicates whether a CSR is currently believed
	// reachable by the connection monitor (§4.7).
	TypeRegistered ConditionType = "Registered"
)

// ConditionReason represents the reason a resource is in a condition.
type ConditionReason string

const (
	ReasonRegistered   ConditionReason = "RemoteCSERegistered"
	ReasonDeregistered ConditionReason = "RemoteCSEDeregistered"
)

// Condition that may apply to a resource. Ported from the teacher's
// apis/core/v1alpha1/condition.go Condition type, with Status
// re-typed to our own ConditionStatus.
type Condition struct {
	Type               ConditionType   `json:"type"`
	Status             ConditionStatus `json:"status"`
	LastTransitionTime time.Time       `json:"lastTransitionTime"`
	Reason             ConditionReason `json:"reason"`
	Message            string          `json:"message,omitempty"`
}

// Equal returns true if the condition is identical to other, ignoring
// LastTransitionTime.
func (c Condition) Equal(other Condition) bool {
	return c.Type == other.Type &&
		c.Status == other.Status &&
		c.Reason == other.Reason &&
		c.Message == other.Message
}

// ConditionedStatus reflects the observed status of a resource. Only
// one condition of each type may exist at a time.
type ConditionedStatus struct {
	Conditions []Condition `json:"conditions,omitempty"`
}

// GetCondition returns the condition for ct if it exists, otherwise a
// zero-value Condition with status Unknown.
func (s *ConditionedStatus) GetCondition(ct ConditionType) Condition {
	for _, c := range s.Conditions {
		if c.Type == ct {
			return c
		}
	}
	return Condition{Type: ct, Status: ConditionUnknown}
}

// SetConditions sets the supplied conditions, replacing any existing
// condition of the same type. No-op for conditions identical to an
// existing one (ignoring LastTransitionTime).
func (s *ConditionedStatus) SetConditions(now time.Time, cs ...Condition) {
	for _, c := range cs {
		if c.LastTransitionTime.IsZero() {
			c.LastTransitionTime = now
		}
		exists := false
		for i, existing := range s.Conditions {
			if existing.Type != c.Type {
				continue
			}
			if existing.Equal(c) {
				exists = true
				continue
			}
			s.Conditions[i] = c
			exists = true
		}
		if !exists {
			s.Conditions = append(s.Conditions, c)
		}
	}
}

// Equal returns true if s and other carry the same conditions,
// ignoring LastTransitionTime and order.
func (s *ConditionedStatus) Equal(other *ConditionedStatus) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	if len(s.Conditions) != len(other.Conditions) {
		return false
	}
	sc := append([]Condition(nil), s.Conditions...)
	oc := append([]Condition(nil), other.Conditions...)
	sort.Slice(sc, func(i, j int) bool { return sc[i].Type < sc[j].Type })
	sort.Slice(oc, func(i, j int) bool { return oc[i].Type < oc[j].Type })
	for i := range sc {
		if !sc[i].Equal(oc[i]) {
			return false
		}
	}
	return true
}

// Registered returns a condition indicating the remote-CSE manager
// (G) successfully registered or confirmed this CSR.
func Registered() Condition {
	return Condition{Type: TypeRegistered, Status: ConditionTrue, Reason: ReasonRegistered}
}

// Deregistered returns a condition indicating the remote-CSE manager
// gave up on reaching this CSR (§4.7 step 2).
func Deregistered() Condition {
	return Condition{Type: TypeRegistered, Status: ConditionFalse, Reason: ReasonDeregistered}
}
