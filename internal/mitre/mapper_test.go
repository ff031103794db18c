package mitre

import "testing"

func TestMap(t *testing.T) {
	tests := []struct {
		category string
		wantID   string
	}{
		{"port_scan", "T1046"},
		{"PORT_SCAN", "T1046"},
		{"suspicious_login", "T1078"},
		{"malware_traffic", "T1105"},
		{"brute_force", "T1110"},
		{"data_exfiltration", "T1041"},
		{"c2_traffic", "T1071"},
		{"dns_tunneling", "T0000"},
		{"", "T0000"},
	}

	for _, tt := range tests {
		got := Map(tt.category)
		if got.ID != tt.wantID {
			t.Errorf("Map(%q).ID = %q, want %q", tt.category, got.ID, tt.wantID)
		}
	}
}

func TestMapUnknownSentinel(t *testing.T) {
	got := Map("nope")
	if got != Unknown {
		t.Errorf("Map(unknown) = %+v, want sentinel", got)
	}
	if got.Name != "Unknown or Unmapped Technique" || got.Tactic != "Unknown" {
		t.Errorf("sentinel fields wrong: %+v", got)
	}
}
