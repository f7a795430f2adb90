// Package dispatch implements the Dispatcher (D): the request/response
// pipelines that bind path resolution, access control, attribute
// validation, quota enforcement and notification into the CRUD and
// discovery operations the gateway exposes over Mcx.
package dispatch

import (
	"context"
	"time"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
	"github.com/onem2m/cse/storage"
)

// Operation aliases access.Op so callers don't need to import both
// packages just to build a Request.
type Operation = access.Op

const (
	OpCreate    = access.OpCreate
	OpRetrieve  = access.OpRetrieve
	OpUpdate    = access.OpUpdate
	OpDelete    = access.OpDelete
	OpNotify    = access.OpNotify
	OpDiscovery = access.OpDiscovery
)

// Request is the canonical request envelope (§6.1) the gateway builds
// from an HTTP request before handing it to the Dispatcher.
type Request struct {
	Op          Operation
	To          string
	Originator  string
	RequestID   string
	RVI         string
	Ty          resource.Type  // CREATE only
	Content     map[string]any // CREATE/UPDATE body attributes
	Filter      storage.Criteria
	ResultShort bool       // ResultContent=nm; the Dispatcher does not read it
	Ret         *time.Time // Request Expiration Timestamp, absolute (§5, §6.1)
}

// Response is the canonical response envelope (§6.1).
type Response struct {
	RSC       rsc.Code
	Content   *resource.Resource
	Resources []*resource.Resource // discovery / multi-result
	Location  string
}
