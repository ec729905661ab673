package acl

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
)

func TestACL(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ACL Suite")
}

type fakePrincipalRepo struct {
	principals map[int]*models.Principal
}

func (f *fakePrincipalRepo) Get(_ context.Context, id int) (*models.Principal, error) {
	return f.principals[id], nil
}

func (f *fakePrincipalRepo) Exists(_ context.Context, id int) (bool, error) {
	_, ok := f.principals[id]
	return ok, nil
}

type fakeACLRepo struct {
	entries map[[2]int]*models.ACLEntry
}

func newFakeACLRepo() *fakeACLRepo {
	return &fakeACLRepo{entries: map[[2]int]*models.ACLEntry{}}
}

func (f *fakeACLRepo) Upsert(_ context.Context, e *models.ACLEntry) error {
	cp := *e
	f.entries[[2]int{e.PrincipalID, e.ProjectID}] = &cp
	return nil
}

func (f *fakeACLRepo) Get(_ context.Context, principalID, projectID int) (*models.ACLEntry, error) {
	return f.entries[[2]int{principalID, projectID}], nil
}

func (f *fakeACLRepo) Delete(_ context.Context, principalID, projectID int) (bool, error) {
	key := [2]int{principalID, projectID}
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

func (f *fakeACLRepo) ProjectsFor(_ context.Context, principalID int, now time.Time) ([]int, error) {
	var out []int
	for k, e := range f.entries {
		if k[0] == principalID && !e.Expired(now) {
			out = append(out, k[1])
		}
	}
	return out, nil
}

func (f *fakeACLRepo) PrincipalsFor(_ context.Context, projectID int, now time.Time) ([]int, error) {
	var out []int
	for k, e := range f.entries {
		if k[1] == projectID && !e.Expired(now) {
			out = append(out, k[0])
		}
	}
	return out, nil
}

var _ = Describe("Manager", func() {
	var (
		ctx        context.Context
		principals *fakePrincipalRepo
		entries    *fakeACLRepo
		manager    *Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		principals = &fakePrincipalRepo{principals: map[int]*models.Principal{
			1: {ID: 1, Name: "Alice", Role: models.RoleEngineer},
			2: {ID: 2, Name: "Dana Director", Role: models.RoleDirector},
		}}
		entries = newFakeACLRepo()
		manager = New(principals, entries, zap.NewNop())
	})

	Describe("Grant", func() {
		It("rejects an unknown principal", func() {
			err := manager.Grant(ctx, 99, 101, models.RoleViewer, nil, nil, nil)
			Expect(err).To(HaveOccurred())
		})

		It("expands the role's fixed permission set when no override is given", func() {
			Expect(manager.Grant(ctx, 1, 101, models.RoleEngineer, nil, nil, nil)).To(Succeed())
			perms, err := manager.Permissions(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(ConsistOf(models.PermissionRead, models.PermissionWrite, models.PermissionExecute))
		})

		It("honors an explicit permission override", func() {
			Expect(manager.Grant(ctx, 1, 101, models.RoleEngineer, nil, nil, []models.Permission{models.PermissionRead})).To(Succeed())
			perms, _ := manager.Permissions(ctx, 1, 101)
			Expect(perms).To(ConsistOf(models.PermissionRead))
		})
	})

	Describe("Permissions", func() {
		It("returns empty for an expired grant", func() {
			past := time.Now().Add(-time.Hour)
			Expect(manager.Grant(ctx, 1, 101, models.RoleEngineer, nil, &past, nil)).To(Succeed())
			perms, err := manager.Permissions(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(BeEmpty())
		})

		It("falls back to the global role for a director with no explicit grant", func() {
			perms, err := manager.Permissions(ctx, 2, 999)
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(ConsistOf(models.PermissionRead, models.PermissionWrite, models.PermissionExecute, models.PermissionExport))
		})

		It("returns empty for a non-admin/director with no explicit grant", func() {
			perms, err := manager.Permissions(ctx, 1, 999)
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(BeEmpty())
		})
	})

	Describe("CheckPermission", func() {
		It("implies every permission for admin", func() {
			principals.principals[3] = &models.Principal{ID: 3, Role: models.RoleAdmin}
			Expect(manager.Grant(ctx, 3, 101, models.RoleAdmin, nil, nil, nil)).To(Succeed())
			ok, err := manager.CheckPermission(ctx, 3, 101, models.PermissionExport)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("denies a permission the role does not carry", func() {
			Expect(manager.Grant(ctx, 1, 101, models.RoleViewer, nil, nil, nil)).To(Succeed())
			ok, err := manager.CheckPermission(ctx, 1, 101, models.PermissionWrite)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Revoke", func() {
		It("reports whether a grant existed", func() {
			Expect(manager.Grant(ctx, 1, 101, models.RoleViewer, nil, nil, nil)).To(Succeed())
			existed, err := manager.Revoke(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())

			existed, err = manager.Revoke(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
		})
	})

	Describe("ProjectsFor / PrincipalsFor", func() {
		It("excludes expired rows", func() {
			past := time.Now().Add(-time.Hour)
			Expect(manager.Grant(ctx, 1, 101, models.RoleViewer, nil, nil, nil)).To(Succeed())
			Expect(manager.Grant(ctx, 1, 102, models.RoleViewer, nil, &past, nil)).To(Succeed())

			projects, err := manager.ProjectsFor(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(projects).To(ConsistOf(101))

			principalsFor, err := manager.PrincipalsFor(ctx, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(principalsFor).To(ConsistOf(1))
		})
	})
})
