// Package correlation evaluates detection rules over the per-source event
// buffer and mints alerts.
package correlation

import "time"

// Stage is one step of a multi-stage rule. Contains entries match when the
// raw field holds any of the listed substrings (case-insensitive); Equals
// entries require exact values.
type Stage struct {
	EventClass     string
	Contains       map[string][]string
	Equals         map[string]interface{}
	MinOccurrences int
	WithinSeconds  int
}

// Rule is a static detection descriptor. Exactly one of Pattern or Stages is
// set. Pattern keys use the matcher suffix conventions: `<field>_threshold`
// (numeric >=), `<field>_regex` (case-insensitive), anything else equality;
// `event_class` matches the event class itself.
type Rule struct {
	ID              string
	Name            string
	Description     string
	Pattern         map[string]interface{}
	Threshold       int
	TimeWindow      time.Duration
	Stages          []Stage
	Severity        string
	MitreTactics    []string
	MitreTechniques []string
}

// MultiStage reports whether the rule matches across stages
func (r *Rule) MultiStage() bool {
	return len(r.Stages) > 0
}

// DefaultRules is the built-in rule set
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:          "brute_force",
			Name:        "Brute Force Attack Detection",
			Description: "Detects multiple failed authentication attempts from the same source",
			Pattern: map[string]interface{}{
				"event_class": "authentication",
				"outcome":     "failure",
			},
			Threshold:       5,
			TimeWindow:      60 * time.Second,
			Severity:        "high",
			MitreTactics:    []string{"TA0001"},
			MitreTechniques: []string{"T1110"},
		},
		{
			ID:          "lateral_movement",
			Name:        "Lateral Movement Detection",
			Description: "Detects suspicious lateral movement patterns",
			Stages: []Stage{
				{
					EventClass:     "authentication",
					Equals:         map[string]interface{}{"outcome": "success"},
					MinOccurrences: 1,
				},
				{
					EventClass:     "process",
					Contains:       map[string][]string{"process_name": {"psexec", "wmic", "powershell"}},
					MinOccurrences: 1,
					WithinSeconds:  300,
				},
			},
			Severity:        "critical",
			MitreTactics:    []string{"TA0008"},
			MitreTechniques: []string{"T1021"},
		},
		{
			ID:          "data_exfiltration",
			Name:        "Data Exfiltration Detection",
			Description: "Detects large outbound data transfers",
			Pattern: map[string]interface{}{
				"event_class":     "network",
				"direction":       "outbound",
				"bytes_threshold": float64(1048576), // 1 MiB
			},
			Threshold:       3,
			TimeWindow:      120 * time.Second,
			Severity:        "critical",
			MitreTactics:    []string{"TA0010"},
			MitreTechniques: []string{"T1041"},
		},
		{
			ID:          "credential_dumping",
			Name:        "Credential Dumping Detection",
			Description: "Detects tools commonly used for credential theft",
			Pattern: map[string]interface{}{
				"event_class":        "process",
				"process_name_regex": "(mimikatz|procdump|lsass|pwdump)",
			},
			Threshold:       1,
			TimeWindow:      60 * time.Second,
			Severity:        "critical",
			MitreTactics:    []string{"TA0006"},
			MitreTechniques: []string{"T1003"},
		},
		{
			ID:          "ransomware_behavior",
			Name:        "Ransomware Behavior Detection",
			Description: "Detects file encryption patterns typical of ransomware",
			Stages: []Stage{
				{
					EventClass:     "file",
					Contains:       map[string][]string{"action": {"modify", "rename"}},
					MinOccurrences: 10,
					WithinSeconds:  60,
				},
				{
					EventClass: "process",
					Contains: map[string][]string{
						"process_name": {"vssadmin", "wbadmin", "bcdedit"},
						"action":       {"delete", "shadows"},
					},
					MinOccurrences: 1,
					WithinSeconds:  120,
				},
			},
			Severity:        "critical",
			MitreTactics:    []string{"TA0040"},
			MitreTechniques: []string{"T1486"},
		},
		{
			ID:          "honeytoken_access",
			Name:        "Honeytoken Access",
			Description: "A decoy credential or file was touched; compromise confidence is absolute",
			Pattern: map[string]interface{}{
				"event_class": "honeytoken_access",
			},
			Threshold:       1,
			TimeWindow:      60 * time.Second,
			Severity:        "critical",
			MitreTactics:    []string{"TA0006"},
			MitreTechniques: []string{"T1552"},
		},
		{
			ID:          "ioc_match",
			Name:        "Threat Intelligence IOC Match",
			Description: "An ingested event referenced a known-malicious indicator",
			Pattern: map[string]interface{}{
				"ioc_matched": true,
			},
			Threshold:       1,
			TimeWindow:      60 * time.Second,
			Severity:        "critical",
			MitreTactics:    []string{"TA0011"},
			MitreTechniques: []string{"T1071"},
		},
	}
}
