// Package core wires the CSE's components into one runnable unit: the
// global singleton wiring SPEC_FULL §9 describes, kept in one place so
// cmd/cse/main.go only has to construct a Config and call New.
package core

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/config"
	"github.com/onem2m/cse/dispatch"
	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/notify"
	"github.com/onem2m/cse/registration"
	"github.com/onem2m/cse/remote"
	"github.com/onem2m/cse/storage"
)

// Core bundles every component behind its narrow interface (§9 "Global
// CSE singletons"): one Store, one access Engine, one Dispatcher, one
// notification Engine with its delivery Queue, one registration
// Manager, and (if configured) one remote-CSE Monitor.
type Core struct {
	Store      storage.Store
	Access     *access.Engine
	Notify     *notify.Engine
	Registrar  *registration.Manager
	Dispatcher *dispatch.Dispatcher
	Remote     *remote.Monitor

	cfg *config.Config
}

// New constructs every component and wires the cross-package seams
// (Notifier, RegistrationHooks, Deleter) that would otherwise force an
// import cycle between dispatch, notify, registration and remote.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Core, error) {
	fs := afero.NewOsFs()
	if cfg.Development {
		fs = afero.NewMemMapFs()
	}
	store, err := storage.Open(ctx, fs, cfg.Storage.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}

	cseBase := cfg.NewCSEBase()
	if _, err := store.Get(ctx, cseBase.RI); errors.Is(err, storage.ErrNotFound) {
		if err := store.Put(ctx, cseBase); err != nil {
			return nil, errors.Wrap(err, "seed CSEBase")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "load CSEBase")
	}

	accessEngine := access.NewEngine(store, cfg.AccessEngineConfig(cseBase.RI), cseBase.RI, log)

	notifyEngine := notify.New(store, notify.NewHTTPTransport(), notify.Config{
		Capacity:   cfg.Notify.QueueCapacity,
		RetryCount: cfg.Notify.RetryCount,
		RateLimit:  rate.Limit(cfg.Notify.RateLimit),
		Burst:      cfg.Notify.Burst,
	}, log)

	registrar := registration.New(store, registration.Config{
		CSEOriginator:        cfg.AccessControl.AdminOriginator,
		ACPNamePrefix:        "acp-",
		AllowedAEOriginators: cfg.AccessControl.AllowedAEOriginators,
		DefaultACPermission:  access.Op(cfg.AccessControl.DefaultACPermission),
		CSEBaseRI:            cseBase.RI,
	})

	disp := dispatch.New(store, accessEngine, cseBase.RI, cfg.CSE.CSEID, cfg.CSE.CSERN, notifyEngine, registrar, log)

	c := &Core{
		Store:      store,
		Access:     accessEngine,
		Notify:     notifyEngine,
		Registrar:  registrar,
		Dispatcher: disp,
		cfg:        cfg,
	}

	if cfg.Registrar != nil || cfg.CSEType() == "MN" || cfg.CSEType() == "IN" {
		c.Remote = remote.New(store, remote.NewHTTPPeerClient(cfg.CSE.RVI), &dispatchDeleter{disp}, remoteConfig(cfg, cseBase.RI), log)
	}

	return c, nil
}

// Run starts every background worker (notification delivery, remote
// reconciliation) and blocks until ctx is canceled (§5 "long-lived
// background tasks, each cooperative and cancellable at shutdown").
func (c *Core) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { c.Notify.Queue.Run(ctx); done <- struct{}{} }()
	if c.Remote != nil {
		go func() { c.Remote.Run(ctx); done <- struct{}{} }()
	} else {
		done <- struct{}{}
	}
	<-ctx.Done()
	c.Notify.Queue.Close()
	<-done
	<-done
}

// dispatchDeleter adapts *dispatch.Dispatcher to remote.Deleter,
// letting the Remote-CSE Manager cascade a descending-liveness
// failure through the Dispatcher's own DELETE pipeline instead of
// calling storage.Store directly and skipping notification/
// deregistration side effects.
type dispatchDeleter struct {
	d *dispatch.Dispatcher
}

func (a *dispatchDeleter) DeleteResource(ctx context.Context, ri, originator string) error {
	_, err := a.d.Dispatch(ctx, &dispatch.Request{
		Op:         dispatch.OpDelete,
		To:         ri,
		Originator: originator,
	})
	return err
}

func remoteConfig(cfg *config.Config, cseBaseRI string) remote.Config {
	rc := remote.Config{
		Type:          cfg.CSEType(),
		CSEOriginator: cfg.AccessControl.AdminOriginator,
		CSEBaseRI:     cseBaseRI,
		LocalCSI:      cfg.CSE.CSEID,
	}
	if cfg.Registrar != nil {
		rc.RegistrarCSI = cfg.Registrar.CSI
		rc.RegistrarPOA = cfg.Registrar.POA
		rc.Interval = cfg.Registrar.Interval
	}
	return rc
}

