package security

import (
	"testing"
)

func TestPermissionString(t *testing.T) {
	tests := []struct {
		perm Permission
		want string
	}{
		{CoTRead, "cot.read"},
		{CoTWrite, "cot.write"},
		{MapRead, "map.read"},
		{MapWrite, "map.write"},
		{NetworkAccess, "network.access"},
		{LocationRead, "location.read"},
		{LocationWrite, "location.write"},
		{UICreate, "ui.create"},
		{Permission(0), "unknown"},
		{Permission(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.perm.String(); got != tt.want {
			t.Errorf("Permission(%d).String() = %q, want %q", tt.perm, got, tt.want)
		}
	}
}

func TestParsePermissionRoundTrip(t *testing.T) {
	for _, p := range All() {
		got, ok := ParsePermission(p.String())
		if !ok {
			t.Errorf("ParsePermission(%q) not found", p.String())
			continue
		}
		if got != p {
			t.Errorf("ParsePermission(%q) = %v, want %v", p.String(), got, p)
		}
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"map.write", true},
		{"ui.create", true},
		{"filesystem.read", false},
		{"camera.access", false},
		{"MAP.WRITE", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValid(tt.name); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAllIsClosed(t *testing.T) {
	if got := len(All()); got != 8 {
		t.Fatalf("len(All()) = %d, want 8", got)
	}
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("Names() not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
}

func TestPermissionInfo(t *testing.T) {
	info, ok := NetworkAccess.Info()
	if !ok {
		t.Fatal("NetworkAccess.Info() not found")
	}
	if info.Subsystem != "network" {
		t.Errorf("Subsystem = %q, want %q", info.Subsystem, "network")
	}
	if info.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %v, want %v", info.RiskLevel, RiskHigh)
	}

	if _, ok := Permission(0).Info(); ok {
		t.Error("Permission(0).Info() should not be found")
	}
}

func TestHighRisk(t *testing.T) {
	high := HighRisk()
	found := false
	for _, p := range high {
		if p == CoTWrite {
			found = true
		}
		if p == MapRead {
			t.Error("map.read should not be high risk")
		}
	}
	if !found {
		t.Error("cot.write should be high risk")
	}
}

func TestRiskLevelString(t *testing.T) {
	if RiskLow.String() != "low" || RiskMedium.String() != "medium" || RiskHigh.String() != "high" {
		t.Error("unexpected risk level names")
	}
	if RiskLevel(9).String() != "unknown" {
		t.Error("RiskLevel(9).String() should be unknown")
	}
	if AccessWrite.String() != "write" || AccessRead.String() != "read" {
		t.Error("unexpected access names")
	}
}
