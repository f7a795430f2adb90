package core

import (
	"context"
	"testing"

	"github.com/onem2m/cse/config"
	"github.com/onem2m/cse/dispatch"
	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
)

func TestNewWiresASeededCSEBaseAndRunnableDispatcher(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Development: true,
		CSE:         config.CSE{CSEID: "/myCSE", CSERN: "cse-in", Type: "IN", RVI: "3.15.0"},
		AccessControl: config.AccessControl{
			ChecksDisabled: true,
		},
	}
	applyTestDefaults(cfg)

	c, err := New(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Store == nil || c.Access == nil || c.Notify == nil || c.Registrar == nil || c.Dispatcher == nil {
		t.Fatalf("expected every core component to be wired, got %+v", c)
	}
	if c.Remote == nil {
		t.Fatal("an IN-type CSE should still get a Remote monitor (for descending liveness checks)")
	}

	resp, err := c.Dispatcher.Dispatch(ctx, &dispatch.Request{
		Op: dispatch.OpCreate, To: "cseBase", Originator: "Cfoo", Ty: resource.TypeContainer,
		Content: map[string]any{"rn": "smoke"},
	})
	if err != nil {
		t.Fatalf("dispatch through the wired Core: %v", err)
	}
	if resp.RSC != rsc.Created {
		t.Fatalf("RSC = %v, want Created", resp.RSC)
	}
}

// applyTestDefaults mirrors what config.Load would do for a
// programmatically built Config in tests, since applyDefaults is
// unexported and only Load calls it.
func applyTestDefaults(c *config.Config) {
	if c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
	if c.Notify.QueueCapacity == 0 {
		c.Notify.QueueCapacity = 256
	}
}
