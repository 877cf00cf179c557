package license

import (
	"fmt"
	"strings"
)

// License is a subscription tier.
type License string

const (
	Free       License = "Free"
	Premium    License = "Premium"
	Enterprise License = "Enterprise"
)

// Unlimited is the sentinel for "effectively no bound". Comparisons treat it
// as no practical limit; never do arithmetic with it.
const Unlimited = 9999

// Normalize maps arbitrary input to a known tier, defaulting to Free.
func Normalize(s string) License {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "premium":
		return Premium
	case "enterprise":
		return Enterprise
	default:
		return Free
	}
}

// Flag names a boolean capability in the matrix.
type Flag string

const (
	FlagProxies          Flag = "allowProxies"
	FlagGeolocation      Flag = "allowGeolocation"
	FlagHumanSurfing     Flag = "allowHumanSurfing"
	FlagExternalClicks   Flag = "allowExternalClicks"
	FlagPlatformCustom   Flag = "allowPlatformCustom"
	FlagSettingsAdvanced Flag = "allowSettingsAdvanced"
	FlagScheduler        Flag = "allowScheduler"
)

// Matrix is the resolved capability/limit snapshot for a user. It is derived
// once per job creation and never re-derived mid-run.
type Matrix struct {
	License License `json:"license"`

	MaxInstances int `json:"maxInstances"`
	MaxTargets   int `json:"maxTargets"`
	MaxProxies   int `json:"maxProxies"`
	MaxPlatforms int `json:"maxPlatforms"`

	AllowProxies          bool `json:"allowProxies"`
	AllowGeolocation      bool `json:"allowGeolocation"`
	AllowHumanSurfing     bool `json:"allowHumanSurfing"`
	AllowExternalClicks   bool `json:"allowExternalClicks"`
	AllowPlatformCustom   bool `json:"allowPlatformCustom"`
	AllowSettingsAdvanced bool `json:"allowSettingsAdvanced"`
	AllowScheduler        bool `json:"allowScheduler"`
}

// FlagEnabled reports whether the named capability is on.
func (m Matrix) FlagEnabled(f Flag) bool {
	switch f {
	case FlagProxies:
		return m.AllowProxies
	case FlagGeolocation:
		return m.AllowGeolocation
	case FlagHumanSurfing:
		return m.AllowHumanSurfing
	case FlagExternalClicks:
		return m.AllowExternalClicks
	case FlagPlatformCustom:
		return m.AllowPlatformCustom
	case FlagSettingsAdvanced:
		return m.AllowSettingsAdvanced
	case FlagScheduler:
		return m.AllowScheduler
	}
	return false
}

// Overrides are the optional per-user adjustments stored alongside the user's
// license. Nil fields mean "no override".
type Overrides struct {
	MaxInstances *int `json:"maxInstances,omitempty"`
	MaxTargets   *int `json:"maxTargets,omitempty"`
	MaxProxies   *int `json:"maxProxies,omitempty"`
	MaxPlatforms *int `json:"maxPlatforms,omitempty"`

	AllowProxies          *bool `json:"allowProxies,omitempty"`
	AllowGeolocation      *bool `json:"allowGeolocation,omitempty"`
	AllowHumanSurfing     *bool `json:"allowHumanSurfing,omitempty"`
	AllowExternalClicks   *bool `json:"allowExternalClicks,omitempty"`
	AllowPlatformCustom   *bool `json:"allowPlatformCustom,omitempty"`
	AllowSettingsAdvanced *bool `json:"allowSettingsAdvanced,omitempty"`
	AllowScheduler        *bool `json:"allowScheduler,omitempty"`
}

// Defaults returns the tier's base matrix.
func Defaults(lic License) Matrix {
	switch lic {
	case Premium:
		return Matrix{
			License:               Premium,
			MaxInstances:          1,
			MaxTargets:            10,
			MaxProxies:            10,
			MaxPlatforms:          Unlimited,
			AllowProxies:          true,
			AllowGeolocation:      true,
			AllowHumanSurfing:     true,
			AllowExternalClicks:   true,
			AllowPlatformCustom:   true,
			AllowSettingsAdvanced: true,
			AllowScheduler:        true,
		}
	case Enterprise:
		return Matrix{
			License:               Enterprise,
			MaxInstances:          Unlimited,
			MaxTargets:            Unlimited,
			MaxProxies:            Unlimited,
			MaxPlatforms:          Unlimited,
			AllowProxies:          true,
			AllowGeolocation:      true,
			AllowHumanSurfing:     true,
			AllowExternalClicks:   true,
			AllowPlatformCustom:   true,
			AllowSettingsAdvanced: true,
			AllowScheduler:        true,
		}
	default:
		return Matrix{
			License:             Free,
			MaxInstances:        1,
			MaxTargets:          1,
			MaxProxies:          0,
			MaxPlatforms:        3,
			AllowPlatformCustom: true,
		}
	}
}

// Derive computes the matrix for a license plus optional overrides.
// Enterprise overrides may set any value; other tiers may only lower a limit
// or disable a flag. Non-positive numeric overrides are ignored.
func Derive(lic License, o *Overrides) Matrix {
	m := Defaults(lic)
	if o == nil {
		return m
	}

	enterprise := lic == Enterprise

	setLimit := func(dst *int, v *int) {
		if v == nil || *v <= 0 {
			return
		}
		if enterprise || *v < *dst {
			*dst = *v
		}
	}
	setLimit(&m.MaxInstances, o.MaxInstances)
	setLimit(&m.MaxTargets, o.MaxTargets)
	setLimit(&m.MaxProxies, o.MaxProxies)
	setLimit(&m.MaxPlatforms, o.MaxPlatforms)

	setFlag := func(dst *bool, v *bool) {
		if v == nil {
			return
		}
		if enterprise || !*v {
			*dst = *v
		}
	}
	setFlag(&m.AllowProxies, o.AllowProxies)
	setFlag(&m.AllowGeolocation, o.AllowGeolocation)
	setFlag(&m.AllowHumanSurfing, o.AllowHumanSurfing)
	setFlag(&m.AllowExternalClicks, o.AllowExternalClicks)
	setFlag(&m.AllowPlatformCustom, o.AllowPlatformCustom)
	setFlag(&m.AllowSettingsAdvanced, o.AllowSettingsAdvanced)
	setFlag(&m.AllowScheduler, o.AllowScheduler)

	return m
}

// Violation codes returned by ValidateUsage.
const (
	CodeMaxInstances    = "LIMIT_MAX_INSTANCES"
	CodeMaxTargets      = "LIMIT_MAX_TARGETS"
	CodeMaxProxies      = "LIMIT_MAX_PROXIES"
	CodeMaxPlatforms    = "LIMIT_MAX_PLATFORMS"
	CodeFeatureDisabled = "LICENSE_FEATURE_DISABLED"
)

// Violation is one structured reason a requested usage was rejected.
type Violation struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Requested int    `json:"requested,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Feature   Flag   `json:"feature,omitempty"`
}

// Usage is the resource footprint a caller wants to run with. Zero counts
// never violate a limit; Requires lists the flags the run depends on.
type Usage struct {
	InstanceCount int
	Targets       int
	Proxies       int
	Platforms     int
	Requires      []Flag
}

// ValidateUsage checks usage against the matrix and returns one violation per
// exceeded limit or disabled-but-required flag. A nil result means valid.
func (m Matrix) ValidateUsage(u Usage) []Violation {
	var vs []Violation

	check := func(code string, requested, limit int, what string) {
		if requested > limit {
			vs = append(vs, Violation{
				Code:      code,
				Message:   fmt.Sprintf("%s count %d exceeds limit %d", what, requested, limit),
				Requested: requested,
				Limit:     limit,
			})
		}
	}
	check(CodeMaxInstances, u.InstanceCount, m.MaxInstances, "instance")
	check(CodeMaxTargets, u.Targets, m.MaxTargets, "targets")
	check(CodeMaxProxies, u.Proxies, m.MaxProxies, "proxies")
	check(CodeMaxPlatforms, u.Platforms, m.MaxPlatforms, "platforms")

	for _, f := range u.Requires {
		if !m.FlagEnabled(f) {
			vs = append(vs, Violation{
				Code:    CodeFeatureDisabled,
				Message: fmt.Sprintf("feature %q is disabled by license", f),
				Feature: f,
			})
		}
	}

	return vs
}
