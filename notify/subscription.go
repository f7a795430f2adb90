package notify

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/resource"
)

// EventType is one of the notification event types §4.6 names (net).
type EventType int

const (
	EventUpdateOfResource EventType = iota + 1
	EventDeleteOfResource
	EventCreateOfDirectChild
	EventDeleteOfDirectChild
	EventRetrieveOfContainerWithNoChildren
	EventTriggerReceivedForAE
)

// EventNotificationCriteria is a SUB's enc attribute: the event types
// it watches for, and an optional attribute filter narrowing an
// updateOfResource payload to the attributes the subscriber cares
// about.
type EventNotificationCriteria struct {
	Net []EventType `json:"net"`
	Atr []string    `json:"atr,omitempty"`
}

// GetENC decodes a SUB's enc attribute.
func GetENC(sub *resource.Resource) (EventNotificationCriteria, error) {
	raw, ok := sub.Get("enc")
	if !ok {
		return EventNotificationCriteria{}, nil
	}
	if enc, ok := raw.(EventNotificationCriteria); ok {
		return enc, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return EventNotificationCriteria{}, errors.Wrap(err, "re-encode enc")
	}
	var enc EventNotificationCriteria
	if err := json.Unmarshal(b, &enc); err != nil {
		return EventNotificationCriteria{}, errors.Wrap(err, "decode enc")
	}
	return enc, nil
}

// Matches reports whether enc watches for ev.
func (enc EventNotificationCriteria) Matches(ev EventType) bool {
	for _, n := range enc.Net {
		if n == ev {
			return true
		}
	}
	return false
}

// NotificationURIs returns a SUB's nu list.
func NotificationURIs(sub *resource.Resource) []string {
	raw, ok := sub.Get("nu")
	if !ok {
		return nil
	}
	if s, ok := raw.([]string); ok {
		return s
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var nu []string
	_ = json.Unmarshal(b, &nu)
	return nu
}

// ExpirationCounter returns a SUB's exc (remaining notification
// budget) and whether it is set at all; an unset exc never expires.
func ExpirationCounter(sub *resource.Resource) (int, bool) {
	raw, ok := sub.Get("exc")
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// filterAttrs restricts payload's Attrs to the names in atr, leaving
// Common attributes untouched. An empty atr means "no filtering."
func filterAttrs(payload *resource.Resource, atr []string) *resource.Resource {
	if len(atr) == 0 {
		return payload
	}
	clone := payload.Clone()
	want := make(map[string]bool, len(atr))
	for _, a := range atr {
		want[a] = true
	}
	for k := range clone.Attrs {
		if !want[k] {
			delete(clone.Attrs, k)
		}
	}
	return clone
}
