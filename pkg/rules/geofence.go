package rules

import (
	"context"

	"github.com/gobwas/glob"

	"github.com/govplane/backplane/pkg/models"
)

// GeofenceRule matches the request's context.ip_address against a
// configured allow-list and block-list of glob patterns (supporting
// simple prefix patterns like "10.0.*" as well as full glob syntax).
// Absence of an IP address allows by default.
type GeofenceRule struct {
	AllowGlobs []glob.Glob
	BlockGlobs []glob.Glob
}

// NewGeofenceRule compiles allow/block pattern lists.
func NewGeofenceRule(allow, block []string) (GeofenceRule, error) {
	var r GeofenceRule
	for _, p := range allow {
		g, err := glob.Compile(p)
		if err != nil {
			return r, err
		}
		r.AllowGlobs = append(r.AllowGlobs, g)
	}
	for _, p := range block {
		g, err := glob.Compile(p)
		if err != nil {
			return r, err
		}
		r.BlockGlobs = append(r.BlockGlobs, g)
	}
	return r, nil
}

func (r GeofenceRule) Evaluate(_ context.Context, req models.EvaluateRequest) (bool, string, error) {
	ip := req.Context.IPAddress
	if ip == "" {
		return true, "", nil
	}
	for _, g := range r.BlockGlobs {
		if g.Match(ip) {
			return false, "ip address matches block list", nil
		}
	}
	if len(r.AllowGlobs) == 0 {
		return true, "", nil
	}
	for _, g := range r.AllowGlobs {
		if g.Match(ip) {
			return true, "", nil
		}
	}
	return false, "ip address does not match allow list", nil
}
