package policy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/policy"
	"github.com/dropDatabas3/salus/internal/store/memory"
)

const orgID = "org-77"

func newPolicyEnv(t *testing.T) policy.Service {
	t.Helper()
	st := memory.New()
	now := func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }
	return policy.New(policy.Deps{
		Policies: st.Policies(),
		Auditor:  audit.NewRecorder(st.Events(), now),
		Now:      now,
	})
}

func adminIdent() types.Identity {
	return types.Identity{UserID: "u-adm", OrganizationID: orgID, Role: types.RoleAdmin}
}

func TestGet_DefaultWhenUnset(t *testing.T) {
	svc := newPolicyEnv(t)

	p, err := svc.Get(context.Background(), adminIdent())
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if p.MFARequired {
		t.Fatal("default no puede obligar MFA org-wide")
	}
	// La default sí obliga a los administradores.
	if !p.RequiredRoles.Contains(types.RoleAdmin) {
		t.Fatalf("RequiredRoles = %v", p.RequiredRoles)
	}
}

func TestUpdate_AdminOnly(t *testing.T) {
	svc := newPolicyEnv(t)
	staff := types.Identity{UserID: "u-staff", OrganizationID: orgID, Role: types.RoleStaff}

	if _, err := svc.Update(context.Background(), staff, policy.UpdateInput{MFARequired: true}); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("err = %v, esperaba ErrForbidden", err)
	}
}

func TestUpdate_Validation(t *testing.T) {
	svc := newPolicyEnv(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, adminIdent(), policy.UpdateInput{
		RequiredRoles: types.RoleSet{"SUPERUSER"},
	}); !errors.Is(err, policy.ErrInvalidInput) {
		t.Fatalf("err = %v, esperaba ErrInvalidInput", err)
	}
	if _, err := svc.Update(ctx, adminIdent(), policy.UpdateInput{
		GracePeriodDays: -1,
	}); !errors.Is(err, policy.ErrInvalidInput) {
		t.Fatalf("err = %v, esperaba ErrInvalidInput", err)
	}
}

func TestUpdateAndMandatoryFor(t *testing.T) {
	svc := newPolicyEnv(t)
	ctx := context.Background()

	p, err := svc.Update(ctx, adminIdent(), policy.UpdateInput{
		MFARequired:     false,
		RequiredRoles:   types.RoleSet{types.RoleProvider, types.RoleBilling},
		GracePeriodDays: 14,
	})
	if err != nil {
		t.Fatalf("Update err: %v", err)
	}
	if p.UpdatedBy != "u-adm" || p.GracePeriodDays != 14 {
		t.Fatalf("policy inesperada: %+v", p)
	}

	cases := []struct {
		role types.Role
		want bool
	}{
		{types.RoleProvider, true},
		{types.RoleBilling, true},
		{types.RolePatient, false},
		{types.RoleAdmin, false},
	}
	for _, c := range cases {
		got, err := svc.MandatoryFor(ctx, orgID, c.role)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("MandatoryFor(%s) = %v, esperaba %v", c.role, got, c.want)
		}
	}

	// Org-wide pisa la lista de roles.
	if _, err := svc.Update(ctx, adminIdent(), policy.UpdateInput{MFARequired: true}); err != nil {
		t.Fatal(err)
	}
	got, err := svc.MandatoryFor(ctx, orgID, types.RolePatient)
	if err != nil || !got {
		t.Fatalf("MandatoryFor org-wide = %v, %v", got, err)
	}

	// Otra organización sigue en la default.
	got, err = svc.MandatoryFor(ctx, "org-otra", types.RolePatient)
	if err != nil || got {
		t.Fatalf("MandatoryFor otra org = %v, %v", got, err)
	}
}
