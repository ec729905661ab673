// Package acl implements the ACL Manager (§4.3): grants, revokes, and
// resolves project-scoped permissions from the fixed role expansion
// table plus explicit per-principal overrides.
package acl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// Manager grants and checks project-level access.
type Manager struct {
	principals repository.PrincipalRepository
	entries    repository.ACLRepository
	log        *zap.Logger
}

func New(principals repository.PrincipalRepository, entries repository.ACLRepository, log *zap.Logger) *Manager {
	return &Manager{principals: principals, entries: entries, log: log}
}

// Grant validates that the grantee principal exists (neither the
// project nor grantedBy is checked here — this package only owns
// principal identity) and upserts an ACL entry with the role's
// expanded permission set, unless the caller supplies an override.
func (m *Manager) Grant(ctx context.Context, principalID, projectID int, role models.Role, grantedBy *int, expiresAt *time.Time, overridePermissions []models.Permission) error {
	ok, err := m.principals.Exists(ctx, principalID)
	if err != nil {
		return err
	}
	if !ok {
		return govplaneerrors.ValidationError("grant acl entry", "principal does not exist")
	}

	perms := overridePermissions
	if perms == nil {
		perms = models.RolePermissions[role]
	}

	return m.entries.Upsert(ctx, &models.ACLEntry{
		PrincipalID: principalID,
		ProjectID:   projectID,
		Role:        role,
		Permissions: perms,
		GrantedBy:   grantedBy,
		GrantedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	})
}

// Revoke removes the ACL entry, reporting whether one existed.
func (m *Manager) Revoke(ctx context.Context, principalID, projectID int) (bool, error) {
	return m.entries.Delete(ctx, principalID, projectID)
}

// Permissions resolves the effective permission set for (principal,
// project): empty when the entry has expired, falling back to the
// principal's global role when admin/director and no explicit grant
// exists.
func (m *Manager) Permissions(ctx context.Context, principalID, projectID int) ([]models.Permission, error) {
	entry, err := m.entries.Get(ctx, principalID, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if entry != nil {
		if entry.Expired(now) {
			return nil, nil
		}
		return entry.Permissions, nil
	}

	principal, err := m.principals.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, nil
	}
	if principal.Role == models.RoleAdmin || principal.Role == models.RoleDirector {
		return models.RolePermissions[principal.Role], nil
	}
	return nil, nil
}

// CheckPermission reports whether principal holds permission on
// project; admin always implies every permission.
func (m *Manager) CheckPermission(ctx context.Context, principalID, projectID int, permission models.Permission) (bool, error) {
	perms, err := m.Permissions(ctx, principalID, projectID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == models.PermissionAll || p == permission {
			return true, nil
		}
	}
	return false, nil
}

// ProjectsFor lists the non-expired projects principal has access to.
// Implicit global admins/directors are resolved by the caller: this
// method returns only explicit ACL rows, since "every project" isn't
// enumerable from the ACL table alone.
func (m *Manager) ProjectsFor(ctx context.Context, principalID int) ([]int, error) {
	return m.entries.ProjectsFor(ctx, principalID, time.Now())
}

// PrincipalsFor lists the non-expired principals granted access to
// project.
func (m *Manager) PrincipalsFor(ctx context.Context, projectID int) ([]int, error) {
	return m.entries.PrincipalsFor(ctx, projectID, time.Now())
}
