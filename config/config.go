// Package config loads this CSE's identity and runtime settings from
// YAML, the same serialization format the teacher uses for its
// CRD-adjacent config surfaces (sigs.k8s.io/yaml round-trips through
// encoding/json so the same struct tags drive both).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/onem2m/cse/access"
	"github.com/onem2m/cse/resource"
)

// CSE holds this CSE's own identity (§3.2 "CSEBase").
type CSE struct {
	CSEID   string        `json:"cseID"`
	CSERN   string        `json:"cseRN"`
	Type    string        `json:"type"` // ASN, MN, IN
	POA     []string      `json:"poa"`
	RVI     string        `json:"rvi"`
}

// Registrar is the upstream CSE this one ascends to, if any (§4.7).
type Registrar struct {
	CSI      string        `json:"csi"`
	POA      string        `json:"poa"`
	Interval time.Duration `json:"interval"`
}

// AccessControl mirrors access.Config with YAML-friendly tags; Build
// converts it to the type the Access-Control Engine actually takes.
type AccessControl struct {
	ChecksDisabled        bool     `json:"checksDisabled"`
	AdminOriginator       string   `json:"adminOriginator"`
	FullAccessAdmin       bool     `json:"fullAccessAdmin"`
	AllowedAEOriginators  []string `json:"allowedAEOriginators"`
	AllowedCSROriginators []string `json:"allowedCSROriginators"`
	DefaultACPermission   int      `json:"defaultACPermission"`
	InheritACP            bool     `json:"inheritACP"`
}

// Notify holds the delivery-queue tuning knobs (§4.6, §5).
type Notify struct {
	QueueCapacity int     `json:"queueCapacity"`
	RetryCount    int     `json:"retryCount"`
	RateLimit     float64 `json:"rateLimit"`
	Burst         int     `json:"burst"`
}

// Storage names the on-disk root for the afero-backed Store (§6.3).
type Storage struct {
	Path string `json:"path"`
}

// Config is the top-level CSE configuration document.
type Config struct {
	CSE           CSE           `json:"cse"`
	Registrar     *Registrar    `json:"registrar,omitempty"`
	AccessControl AccessControl `json:"accessControl"`
	Notify        Notify        `json:"notify"`
	Storage       Storage       `json:"storage"`
	Development   bool          `json:"development"`
}

// Load reads and parses a YAML config document from path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.CSE.CSERN == "" {
		c.CSE.CSERN = "cse-in"
	}
	if c.CSE.RVI == "" {
		c.CSE.RVI = "3.15.0"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
	if c.Notify.QueueCapacity == 0 {
		c.Notify.QueueCapacity = 256
	}
	if c.Notify.RetryCount == 0 {
		c.Notify.RetryCount = 1
	}
}

// AccessEngineConfig converts the YAML-facing AccessControl into
// access.Config.
func (c *Config) AccessEngineConfig(cseBaseRI string) access.Config {
	return access.Config{
		ChecksDisabled:        c.AccessControl.ChecksDisabled,
		AdminOriginator:       c.AccessControl.AdminOriginator,
		FullAccessAdmin:       c.AccessControl.FullAccessAdmin,
		AllowedAEOriginators:  c.AccessControl.AllowedAEOriginators,
		AllowedCSROriginators: c.AccessControl.AllowedCSROriginators,
		RegistrarCSI:          c.registrarCSI(),
		DefaultACPermission:   access.Op(c.AccessControl.DefaultACPermission),
		InheritACP:            c.AccessControl.InheritACP,
	}
}

func (c *Config) registrarCSI() string {
	if c.Registrar == nil {
		return ""
	}
	return c.Registrar.CSI
}

// CSEType returns the parsed deployment role, defaulting to IN (no
// registrar; descendants may still register) when unset.
func (c *Config) CSEType() string {
	if c.CSE.Type == "" {
		return "IN"
	}
	return c.CSE.Type
}

// NewCSEBase builds the in-memory CSEBase resource this config
// describes, the root of the resource tree (§3.2).
func (c *Config) NewCSEBase() *resource.Resource {
	base := resource.New(resource.TypeCSEBase)
	base.RI = "cseBase"
	base.RN = c.CSE.CSERN
	base.Set("csi", c.CSE.CSEID)
	base.Set("cst", cseTypeCode(c.CSEType()))
	base.Set("poa", c.CSE.POA)
	base.Set("srv", []string{c.CSE.RVI})
	return base
}

func cseTypeCode(t string) int {
	switch t {
	case "ASN":
		return 1
	case "MN":
		return 2
	case "IN":
		return 3
	default:
		return 3
	}
}
