package gateway

import (
	"strconv"
	"strings"
	"time"

	"github.com/onem2m/cse/resource"
	"github.com/onem2m/cse/storage"
)

// criteriaFromQuery translates the discovery query parameters oneM2M
// defines (fu, ty, lbl, cra, crb) into storage.Criteria (§4.4
// "Discovery"). Root is left unset here; the Dispatcher fills it in
// from the resolved "to" resource.
func criteriaFromQuery(q map[string][]string) storage.Criteria {
	var c storage.Criteria

	if v := first(q, "ty"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ty := resource.Type(n)
			c.Ty = &ty
		}
	}
	if labels, ok := q["lbl"]; ok {
		for _, l := range labels {
			c.AnyLabel = append(c.AnyLabel, strings.Split(l, ",")...)
		}
	}
	if v := first(q, "cra"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			c.CRA = &t
		}
	}
	if v := first(q, "crb"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			c.CRB = &t
		}
	}
	if v := first(q, "lim"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limit = n
		}
	}
	if v := first(q, "ofst"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Offset = n
		}
	}
	return c
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
