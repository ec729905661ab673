// Package rules implements the pure policy predicates of §4.5. Each
// Rule is a stateless function over one EvaluateRequest; the Policy
// Engine owns ordering and short-circuiting.
package rules

import (
	"context"
	"time"

	"github.com/govplane/backplane/pkg/models"
)

// Rule is one pure access predicate.
type Rule interface {
	Evaluate(ctx context.Context, req models.EvaluateRequest) (allowed bool, reason string, err error)
}

// RoleBasedRule allows an action when the principal's global role
// carries the matching permission (or the wildcard).
type RoleBasedRule struct{}

func (RoleBasedRule) Evaluate(_ context.Context, req models.EvaluateRequest) (bool, string, error) {
	perms := models.RolePermissions[req.Principal.Role]
	action := models.Permission(req.Action)
	for _, p := range perms {
		if p == models.PermissionAll || p == action {
			return true, "", nil
		}
	}
	return false, "role " + string(req.Principal.Role) + " does not carry permission " + req.Action, nil
}

// ACLChecker is the minimal ACL surface ProjectAccessRule needs —
// satisfied by *acl.Manager.
type ACLChecker interface {
	Permissions(ctx context.Context, principalID, projectID int) ([]models.Permission, error)
}

// ProjectAccessRule denies when a project is in scope, the principal
// holds no non-expired ACL entry for it, and the principal's role
// isn't an implicit global admin/director.
type ProjectAccessRule struct {
	ACL ACLChecker
}

func (r ProjectAccessRule) Evaluate(ctx context.Context, req models.EvaluateRequest) (bool, string, error) {
	if req.Context.ProjectID == nil {
		return true, "", nil
	}
	if req.Principal.Role == models.RoleAdmin || req.Principal.Role == models.RoleDirector {
		return true, "", nil
	}
	perms, err := r.ACL.Permissions(ctx, req.Principal.ID, *req.Context.ProjectID)
	if err != nil {
		return false, "", err
	}
	if len(perms) == 0 {
		return false, "no non-expired ACL entry for this project", nil
	}
	return true, "", nil
}

// ClearanceLevel ranks a data classification.
type ClearanceLevel int

const (
	ClearancePublic       ClearanceLevel = 0
	ClearanceInternal     ClearanceLevel = 1
	ClearanceConfidential ClearanceLevel = 2
	ClearanceRestricted   ClearanceLevel = 3
)

// RoleClearance is the fixed role → clearance mapping.
var RoleClearance = map[models.Role]ClearanceLevel{
	models.RoleAdmin:         ClearanceRestricted,
	models.RoleDirector:      ClearanceRestricted,
	models.RoleEngineer:      ClearanceConfidential,
	models.RoleCommercial:    ClearanceConfidential,
	models.RoleSafetyOfficer: ClearanceConfidential,
	models.RoleViewer:        ClearanceInternal,
}

var classificationLevel = map[string]ClearanceLevel{
	"public":       ClearancePublic,
	"internal":     ClearanceInternal,
	"confidential": ClearanceConfidential,
	"restricted":   ClearanceRestricted,
}

// DataClassificationRule allows iff the principal's clearance meets or
// exceeds the request's required classification (default "internal").
type DataClassificationRule struct{}

func (DataClassificationRule) Evaluate(_ context.Context, req models.EvaluateRequest) (bool, string, error) {
	classification := req.Context.Classification
	if classification == "" {
		classification = "internal"
	}
	required, ok := classificationLevel[classification]
	if !ok {
		required = ClearanceInternal
	}
	userLevel := RoleClearance[req.Principal.Role]
	if userLevel >= required {
		return true, "", nil
	}
	return false, "clearance insufficient for " + classification + " content", nil
}

// TimeWindow configures TimeBasedRule's allowed hours and weekdays.
type TimeWindow struct {
	AllowedHours    []int // 0-23, empty means all hours allowed
	AllowedWeekdays []time.Weekday
	Zone            *time.Location
}

// TimeBasedRule allows only within a configured window, evaluated in
// the configured zone (default UTC).
type TimeBasedRule struct {
	Window TimeWindow
	Now    func() time.Time
}

func (r TimeBasedRule) Evaluate(_ context.Context, _ models.EvaluateRequest) (bool, string, error) {
	zone := r.Window.Zone
	if zone == nil {
		zone = time.UTC
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now().In(zone)

	if len(r.Window.AllowedWeekdays) > 0 && !containsWeekday(r.Window.AllowedWeekdays, t.Weekday()) {
		return false, "outside allowed weekdays", nil
	}
	if len(r.Window.AllowedHours) > 0 && !containsHour(r.Window.AllowedHours, t.Hour()) {
		return false, "outside allowed hours", nil
	}
	return true, "", nil
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

func containsHour(hours []int, h int) bool {
	for _, x := range hours {
		if x == h {
			return true
		}
	}
	return false
}
