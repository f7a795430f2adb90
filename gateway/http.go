// Package gateway implements the Request Gateway (H): the HTTP Mcx
// binding that turns an inbound request into a dispatch.Request,
// dispatches it, and serializes the dispatch.Response back onto the
// wire with the right X-M2M headers and status code.
package gateway

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/onem2m/cse/dispatch"
	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/rsc"
)

// SupportedRVI is the release version this CSE implements. Requests
// carrying an incompatible RVI are rejected before dispatch (§6.2).
const SupportedRVI = "3.15.0"

// Header names this CSE reads and writes on Mcx (§6.2).
const (
	HeaderOrigin = "X-M2M-Origin"
	HeaderRI     = "X-M2M-RI"
	HeaderRVI    = "X-M2M-RVI"
	HeaderTy     = "X-M2M-Ty"
	HeaderRSC    = "X-M2M-RSC"
	HeaderRET    = "X-M2M-RET"
)

// Dispatcher is the one method the gateway calls; satisfied by
// *dispatch.Dispatcher, named locally so tests can substitute a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Response, error)
}

// Handler adapts an Mcx HTTP request to the Dispatcher.
type Handler struct {
	Dispatcher Dispatcher
	Codec      Codec
}

func NewHandler(d Dispatcher, codec Codec) *Handler {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Handler{Dispatcher: d, Codec: codec}
}

// ServeHTTP implements the Mcx binding: method maps to operation,
// headers carry originator/request-id/release-version/type, and the
// body (if any) is the request's Content.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := checkRVI(r.Header.Get(HeaderRVI)); err != nil {
		h.writeError(w, err)
		return
	}

	op, ok := opForMethod(r.Method)
	if !ok {
		h.writeError(w, rsc.ErrOperationNotAllowed(errors.Errorf("method %s not supported", r.Method)))
		return
	}

	req := &dispatch.Request{
		Op:         op,
		To:         r.URL.Path,
		Originator: r.Header.Get(HeaderOrigin),
		RequestID:  r.Header.Get(HeaderRI),
		RVI:        r.Header.Get(HeaderRVI),
		Ret:        parseRET(r.Header.Get(HeaderRET)),
	}

	if req.Originator == "" && op != dispatch.OpRetrieve {
		h.writeError(w, rsc.ErrInsufficientArguments(errors.New("X-M2M-Origin is required")))
		return
	}

	if op == dispatch.OpCreate {
		tyHeader := r.Header.Get(HeaderTy)
		ty, err := strconv.Atoi(tyHeader)
		if err != nil {
			h.writeError(w, rsc.ErrBadRequest(errors.Wrap(err, "X-M2M-Ty must be an integer")))
			return
		}
		req.Ty = resource.Type(ty)
	}

	if isDiscovery(r.URL.Query()) {
		req.Op = dispatch.OpDiscovery
		req.Filter = criteriaFromQuery(r.URL.Query())
	}

	if op == dispatch.OpCreate || op == dispatch.OpUpdate {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, rsc.ErrBadRequest(errors.Wrap(err, "read request body")))
			return
		}
		content, err := h.Codec.Decode(body)
		if err != nil {
			h.writeError(w, rsc.ErrBadRequest(errors.Wrap(err, "decode request body")))
			return
		}
		req.Content = content
	}

	resp, err := h.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResponse(w, resp)
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp *dispatch.Response) {
	w.Header().Set(HeaderRSC, strconv.Itoa(int(resp.RSC)))
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	w.Header().Set("Content-Type", h.Codec.ContentType())
	w.WriteHeader(httpStatusFor(resp.RSC))

	var body any
	switch {
	case resp.Resources != nil:
		body = resp.Resources
	case resp.Content != nil:
		body = resp.Content
	default:
		return
	}
	encoded, err := h.Codec.Encode(body)
	if err != nil {
		return
	}
	_, _ = w.Write(encoded)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := rsc.CodeOf(err)
	w.Header().Set(HeaderRSC, strconv.Itoa(int(code)))
	w.Header().Set("Content-Type", h.Codec.ContentType())
	w.WriteHeader(httpStatusFor(code))
	encoded, encErr := h.Codec.Encode(map[string]string{"error": err.Error()})
	if encErr != nil {
		return
	}
	_, _ = w.Write(encoded)
}

// opForMethod maps an HTTP verb to a oneM2M operation (§6.2).
func opForMethod(method string) (dispatch.Operation, bool) {
	switch method {
	case http.MethodPost:
		return dispatch.OpCreate, true
	case http.MethodGet:
		return dispatch.OpRetrieve, true
	case http.MethodPut:
		return dispatch.OpUpdate, true
	case http.MethodDelete:
		return dispatch.OpDelete, true
	default:
		return 0, false
	}
}

// isDiscovery reports whether the query string carries any of the
// keys fu, ty, lbl, crb or cra, turning what would otherwise be a
// plain RETRIEVE into a discovery request (§4.4); lim and ofst alone
// do not.
func isDiscovery(q map[string][]string) bool {
	for _, key := range []string{"fu", "ty", "lbl", "crb", "cra"} {
		if _, ok := q[key]; ok {
			return true
		}
	}
	return false
}

// httpStatusFor maps an RSC onto the HTTP status code Mcx uses to
// carry it (§6.2); the precise oneM2M code always rides in X-M2M-RSC,
// this is only for clients that inspect the status line.
func httpStatusFor(code rsc.Code) int {
	switch code {
	case rsc.OK:
		return http.StatusOK
	case rsc.Created:
		return http.StatusCreated
	case rsc.Deleted, rsc.Updated:
		return http.StatusOK
	case rsc.BadRequest, rsc.ContentsUnacceptable, rsc.NotAcceptable:
		return http.StatusBadRequest
	case rsc.OriginatorHasNoPrivilege:
		return http.StatusForbidden
	case rsc.NotFound:
		return http.StatusNotFound
	case rsc.OperationNotAllowed:
		return http.StatusMethodNotAllowed
	case rsc.Conflict:
		return http.StatusConflict
	case rsc.RequestTimeout:
		return http.StatusRequestTimeout
	case rsc.ReleaseVersionNotSupported:
		return http.StatusNotAcceptable
	case rsc.TargetNotReachable:
		return http.StatusBadGateway
	case rsc.NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// checkRVI rejects a request whose release version this CSE cannot
// serve (§6.2), using a real semver comparison rather than a string
// prefix match so "3.15.1" and "3.9.0" are ordered correctly.
func checkRVI(rvi string) error {
	if rvi == "" {
		return nil
	}
	constraint, err := semver.NewConstraint("~" + majorMinor(SupportedRVI))
	if err != nil {
		return rsc.ErrInternal(err)
	}
	got, err := semver.NewVersion(normalizeRVI(rvi))
	if err != nil {
		return rsc.ErrReleaseVersionNotSupported(errors.Wrapf(err, "malformed RVI %q", rvi))
	}
	if !constraint.Check(got) {
		return rsc.ErrReleaseVersionNotSupported(errors.Errorf("RVI %q incompatible with %q", rvi, SupportedRVI))
	}
	return nil
}

// normalizeRVI expands oneM2M's two/three-digit RVI ("3", "3a", "3.15")
// into something semver.NewVersion accepts.
func normalizeRVI(rvi string) string {
	rvi = strings.TrimSuffix(rvi, "a")
	parts := strings.Split(rvi, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts[:3], ".")
}

// parseRET decodes X-M2M-RET (§5 "Cancellation & timeouts"), which may
// carry an absolute timestamp or a relative one. An absolute RET
// parses as RFC3339, matching every other timestamp this CSE stores
// (ct/lt/et); a relative RET is a bare integer count of milliseconds
// from now. A header that parses as neither is ignored rather than
// rejected, since a malformed RET is not one of §8's named boundary
// cases.
func parseRET(v string) *time.Time {
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Now().UTC().Add(time.Duration(ms) * time.Millisecond)
		return &t
	}
	return nil
}

func majorMinor(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}
