// Package remote implements the Remote-CSE Manager (G): periodic
// reconciliation of local/remote CSR pairs and the descendant-CSI
// table. It does not forward transit requests to a peer CSE; the
// Dispatcher resolves targets on this CSE only.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/onem2m/cse/resource"
)

// PeerClient speaks Mcx to another CSE, the way the local Dispatcher
// speaks it to this one. Ascending/descending reconciliation uses it
// to RETRIEVE/CREATE/UPDATE resources on a registrar or descendant.
type PeerClient interface {
	Retrieve(ctx context.Context, poa, to, originator string) (*resource.Resource, error)
	Create(ctx context.Context, poa, to, originator string, ty resource.Type, body *resource.Resource) (*resource.Resource, error)
	Update(ctx context.Context, poa, to, originator string, body *resource.Resource) (*resource.Resource, error)
}

// HTTPPeerClient is the production PeerClient: plain HTTP against
// another CSE's Mcx endpoint, using Resource's own JSON codec rather
// than a shared wire package; JSON is the only format it sends or
// reads.
type HTTPPeerClient struct {
	Client  *http.Client
	RVI     string
	Timeout time.Duration
}

func NewHTTPPeerClient(rvi string) *HTTPPeerClient {
	return &HTTPPeerClient{Client: http.DefaultClient, RVI: rvi, Timeout: 10 * time.Second}
}

func (c *HTTPPeerClient) Retrieve(ctx context.Context, poa, to, originator string) (*resource.Resource, error) {
	return c.do(ctx, http.MethodGet, poa, to, originator, 0, nil)
}

func (c *HTTPPeerClient) Create(ctx context.Context, poa, to, originator string, ty resource.Type, body *resource.Resource) (*resource.Resource, error) {
	return c.do(ctx, http.MethodPost, poa, to, originator, ty, body)
}

func (c *HTTPPeerClient) Update(ctx context.Context, poa, to, originator string, body *resource.Resource) (*resource.Resource, error) {
	return c.do(ctx, http.MethodPut, poa, to, originator, 0, body)
}

func (c *HTTPPeerClient) do(ctx context.Context, method, poa, to, originator string, ty resource.Type, body *resource.Resource) (*resource.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := c.request(ctx, method, poa, to, originator, body)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("X-M2M-Ty", fmt.Sprint(int(ty)))
	}
	return c.send(req)
}

func (c *HTTPPeerClient) request(ctx context.Context, method, poa, to, originator string, body *resource.Resource) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal peer request body")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, poa+to, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build peer request")
	}
	req.Header.Set("X-M2M-Origin", originator)
	req.Header.Set("X-M2M-RVI", c.RVI)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *HTTPPeerClient) send(req *http.Request) (*resource.Resource, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "peer request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("peer returned status %d", resp.StatusCode)
	}
	var r resource.Resource
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode peer response")
	}
	return &r, nil
}
