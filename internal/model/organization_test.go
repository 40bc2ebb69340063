package model

import "testing"

func TestRole_AtLeast(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleDirector, RoleManager, true},
		{RoleDirector, RoleDirector, true},
		{RoleManager, RoleManager, true},
		{RoleManager, RoleDirector, false},
		{RoleOrganizer, RoleManager, false},
		{RoleOrganizer, RoleOrganizer, true},
		{Role(""), RoleOrganizer, false},
		{Role("owner"), RoleOrganizer, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.min), func(t *testing.T) {
			if got := tt.role.AtLeast(tt.min); got != tt.want {
				t.Errorf("%q.AtLeast(%q) = %v, want %v", tt.role, tt.min, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("manager")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != RoleManager {
		t.Errorf("ParseRole = %q, want %q", r, RoleManager)
	}

	if _, err := ParseRole("admin"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	valid := ProviderConfig{Kind: ProviderKindGoogle, ClientID: "id", ClientSecret: "secret"}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid google config, got %v", err)
	}

	oidc := ProviderConfig{Kind: ProviderKindOIDC, ClientID: "id", ClientSecret: "secret"}
	if err := oidc.Validate(); err == nil {
		t.Error("expected error for oidc config without endpoints")
	}

	unknown := ProviderConfig{Kind: "saml", ClientID: "id", ClientSecret: "secret"}
	if err := unknown.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}

	badTrust := ProviderConfig{Kind: ProviderKindGitHub, ClientID: "id", ClientSecret: "secret", EmailTrust: "sometimes"}
	if err := badTrust.Validate(); err == nil {
		t.Error("expected error for unknown email_trust")
	}
}

func TestProviderConfig_TrustsEmail(t *testing.T) {
	tests := []struct {
		trust    EmailTrust
		verified bool
		want     bool
	}{
		{"", true, true},
		{"", false, false},
		{EmailTrustVerified, false, false},
		{EmailTrustAlways, false, true},
		{EmailTrustNever, true, false},
	}
	for _, tt := range tests {
		c := ProviderConfig{EmailTrust: tt.trust}
		if got := c.TrustsEmail(tt.verified); got != tt.want {
			t.Errorf("TrustsEmail(trust=%q, verified=%v) = %v, want %v", tt.trust, tt.verified, got, tt.want)
		}
	}
}
