package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern_EventClass(t *testing.T) {
	pattern := map[string]interface{}{"event_class": "authentication"}
	assert.True(t, MatchPattern(pattern, "authentication", map[string]interface{}{}))
	assert.False(t, MatchPattern(pattern, "network", map[string]interface{}{}))
}

func TestMatchPattern_Equality(t *testing.T) {
	pattern := map[string]interface{}{"outcome": "failure"}
	assert.True(t, MatchPattern(pattern, "authentication", map[string]interface{}{"outcome": "failure"}))
	assert.False(t, MatchPattern(pattern, "authentication", map[string]interface{}{"outcome": "success"}))
	assert.False(t, MatchPattern(pattern, "authentication", map[string]interface{}{}))
}

func TestMatchPattern_Threshold(t *testing.T) {
	pattern := map[string]interface{}{"bytes_threshold": float64(1048576)}

	assert.True(t, MatchPattern(pattern, "network", map[string]interface{}{"bytes": float64(2097152)}))
	assert.True(t, MatchPattern(pattern, "network", map[string]interface{}{"bytes": float64(1048576)}), "threshold is inclusive")
	assert.False(t, MatchPattern(pattern, "network", map[string]interface{}{"bytes": float64(1024)}))
	assert.False(t, MatchPattern(pattern, "network", map[string]interface{}{}), "missing field never matches")
	assert.False(t, MatchPattern(pattern, "network", map[string]interface{}{"bytes": "lots"}), "non-numeric never matches")
}

func TestMatchPattern_Regex(t *testing.T) {
	pattern := map[string]interface{}{"process_name_regex": "(mimikatz|procdump|lsass|pwdump)"}

	assert.True(t, MatchPattern(pattern, "process", map[string]interface{}{"process_name": "MIMIKATZ.exe"}), "regex is case-insensitive")
	assert.True(t, MatchPattern(pattern, "process", map[string]interface{}{"process_name": "c:\\tools\\procdump64.exe"}))
	assert.False(t, MatchPattern(pattern, "process", map[string]interface{}{"process_name": "notepad.exe"}))
}

func TestMatchStage_Contains(t *testing.T) {
	stage := Stage{
		EventClass: "process",
		Contains:   map[string][]string{"process_name": {"psexec", "wmic", "powershell"}},
	}

	assert.True(t, MatchStage(stage, "process", map[string]interface{}{"process_name": "C:\\Windows\\PsExec64.exe"}))
	assert.True(t, MatchStage(stage, "process", map[string]interface{}{"process_name": "powershell.exe"}))
	assert.False(t, MatchStage(stage, "process", map[string]interface{}{"process_name": "cmd.exe"}))
	assert.False(t, MatchStage(stage, "file", map[string]interface{}{"process_name": "psexec"}), "stage event_class gates the match")
	assert.False(t, MatchStage(stage, "process", map[string]interface{}{}), "missing field never matches")
}

func TestMatchStage_Equals(t *testing.T) {
	stage := Stage{
		EventClass: "authentication",
		Equals:     map[string]interface{}{"outcome": "success"},
	}
	assert.True(t, MatchStage(stage, "authentication", map[string]interface{}{"outcome": "success"}))
	assert.False(t, MatchStage(stage, "authentication", map[string]interface{}{"outcome": "failure"}))
}
