// Package mitre maps event categories to MITRE ATT&CK techniques.
package mitre

import (
	"strings"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Unknown is the sentinel returned for unmapped event categories.
var Unknown = models.Technique{
	ID:     "T0000",
	Name:   "Unknown or Unmapped Technique",
	Tactic: "Unknown",
}

var mappings = map[string]models.Technique{
	"port_scan": {
		ID:     "T1046",
		Name:   "Network Service Scanning",
		Tactic: "Discovery",
	},
	"suspicious_login": {
		ID:     "T1078",
		Name:   "Valid Accounts",
		Tactic: "Credential Access",
	},
	"malware_traffic": {
		ID:     "T1105",
		Name:   "Ingress Tool Transfer",
		Tactic: "Command and Control",
	},
	"brute_force": {
		ID:     "T1110",
		Name:   "Brute Force",
		Tactic: "Credential Access",
	},
	"data_exfiltration": {
		ID:     "T1041",
		Name:   "Exfiltration Over C2 Channel",
		Tactic: "Exfiltration",
	},
	"c2_traffic": {
		ID:     "T1071",
		Name:   "Application Layer Protocol",
		Tactic: "Command and Control",
	},
}

// Map returns the technique for an event category. The match is
// case-insensitive; unknown categories map to the Unknown sentinel.
func Map(eventCategory string) models.Technique {
	if t, ok := mappings[strings.ToLower(eventCategory)]; ok {
		return t
	}
	return Unknown
}
