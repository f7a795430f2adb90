package notify

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

// Engine implements dispatch.Notifier: it is told about every
// successful mutation, consults the subscription index (SUBs stored
// as children of the resource they watch, §3 "Ownership"), and
// enqueues a Notification per matching SUB (§4.6).
type Engine struct {
	Store storage.Store
	Queue *Queue
	Log   logging.Logger
}

// New constructs an Engine. The returned *Queue.Run must be started in
// its own goroutine for notifications to actually be delivered.
func New(store storage.Store, transport Transport, cfg Config, log logging.Logger) *Engine {
	e := &Engine{Store: store, Log: log}
	e.Queue = NewQueue(cfg, transport, e.onDeliveryResult, log)
	return e
}

// ResourceCreated fires createOfDirectChild on r's parent.
func (e *Engine) ResourceCreated(ctx context.Context, r *resource.Resource) {
	if r.PI == "" {
		return
	}
	e.dispatchEvent(ctx, r.PI, EventCreateOfDirectChild, r, nil)
}

// ResourceUpdated fires updateOfResource on after itself, attaching an
// RFC 7396 merge-patch diff between before and after so subscribers
// can see exactly what changed without re-fetching the resource.
func (e *Engine) ResourceUpdated(ctx context.Context, before, after *resource.Resource) {
	beforeJSON, err1 := json.Marshal(before)
	afterJSON, err2 := json.Marshal(after)
	var patch json.RawMessage
	if err1 == nil && err2 == nil {
		if p, err := jsonpatch.CreateMergePatch(beforeJSON, afterJSON); err == nil {
			patch = p
		}
	}
	e.dispatchEvent(ctx, after.RI, EventUpdateOfResource, after, patch)
}

// ResourceDeleted fires deleteOfResource on r itself and
// deleteOfDirectChild on its parent.
func (e *Engine) ResourceDeleted(ctx context.Context, r *resource.Resource) {
	e.dispatchEvent(ctx, r.RI, EventDeleteOfResource, r, nil)
	if r.PI != "" {
		e.dispatchEvent(ctx, r.PI, EventDeleteOfDirectChild, r, nil)
	}
}

func (e *Engine) dispatchEvent(ctx context.Context, subscribedToRI string, ev EventType, payload *resource.Resource, patch json.RawMessage) {
	subs, err := e.Store.Children(ctx, subscribedToRI, resource.TypeSUB)
	if err != nil {
		e.Log.Info("failed to list subscriptions", "ri", subscribedToRI, "err", err.Error())
		return
	}
	for _, sub := range subs {
		enc, err := GetENC(sub)
		if err != nil || !enc.Matches(ev) {
			continue
		}
		targets := NotificationURIs(sub)
		if len(targets) == 0 {
			continue
		}
		e.Queue.Enqueue(Notification{
			SubRI:      sub.RI,
			Targets:    targets,
			Event:      ev,
			Resource:   filterAttrs(payload, enc.Atr),
			MergePatch: patch,
		})
	}
}

// onDeliveryResult implements §4.6's exc bookkeeping: decrement per
// successfully delivered notification, deleting the SUB once it
// reaches zero.
func (e *Engine) onDeliveryResult(ctx context.Context, subRI string, delivered bool) {
	if !delivered {
		return
	}
	sub, err := e.Store.Get(ctx, subRI)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.Log.Info("failed to load subscription for exc bookkeeping", "sub", subRI, "err", err.Error())
		}
		return
	}
	exc, set := ExpirationCounter(sub)
	if !set {
		return
	}
	exc--
	if exc <= 0 {
		if err := e.Store.Delete(ctx, sub.RI); err != nil {
			e.Log.Info("failed to delete exhausted subscription", "sub", subRI, "err", err.Error())
		}
		return
	}
	sub.Set("exc", exc)
	if err := e.Store.Put(ctx, sub); err != nil {
		e.Log.Info("failed to persist decremented exc", "sub", subRI, "err", err.Error())
	}
}
