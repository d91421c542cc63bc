package service

import (
	"testing"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

func TestResolveAccess(t *testing.T) {
	visitor := &domain.Identity{ID: 1, Role: domain.RoleVisitor, RoleID: 7}
	provider := &domain.Identity{ID: 2, Role: domain.RoleProvider, RoleID: 4}

	tests := []struct {
		name     string
		resolved bool
		identity *domain.Identity
		required domain.Role
		want     AccessDecision
	}{
		{"session not resolved", false, nil, domain.RoleVisitor, AccessLoading},
		{"unauthenticated", true, nil, domain.RoleVisitor, AccessRedirectLogin},
		{"visitor on provider screen", true, visitor, domain.RoleProvider, AccessDenied},
		{"provider on visitor screen", true, provider, domain.RoleVisitor, AccessDenied},
		{"visitor authorized", true, visitor, domain.RoleVisitor, AccessAuthorized},
		{"provider authorized", true, provider, domain.RoleProvider, AccessAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAccess(tt.resolved, tt.identity, tt.required); got != tt.want {
				t.Fatalf("ResolveAccess() = %s, want %s", got, tt.want)
			}
		})
	}
}
