package compiler

import (
	"encoding/json"
	"testing"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/parser"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	program, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return program
}

func TestCompileSimpleRule(t *testing.T) {
	program := mustParse(t, "ON battery_soc < 20%\n    NOTIFY \"battery low\"\n")

	compiled, err := New().Compile(program)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if len(compiled.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(compiled.Rules))
	}
	rule := compiled.Rules[0]
	if rule.RuleType.Kind != "Event" {
		t.Errorf("rule_type = %q, want Event", rule.RuleType.Kind)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].ActionType != "notify" {
		t.Fatalf("actions = %+v, want one notify action", rule.Actions)
	}

	var foundBatterySoc bool
	for _, m := range compiled.RequiredMetrics {
		if m == ast.BatterySoc {
			foundBatterySoc = true
		}
	}
	if !foundBatterySoc {
		t.Errorf("required_metrics = %v, want battery_soc included", compiled.RequiredMetrics)
	}
}

func TestCompileWithVariableNormalizesPercent(t *testing.T) {
	program := mustParse(t, "$low_soc = 20%\nON battery_soc < $low_soc\n    NOTIFY \"low\"\n")

	compiled, err := New().Compile(program)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if len(compiled.Variables) != 1 {
		t.Fatalf("got %d variables, want 1", len(compiled.Variables))
	}
	v := compiled.Variables[0]
	if v.Name != "low_soc" {
		t.Errorf("name = %q, want low_soc", v.Name)
	}
	// The compiler normalizes Percent to a [0,1] fraction, unlike the
	// evaluator's native 0-100 handling of the same Value (see DESIGN.md #1).
	if v.Value != 0.2 {
		t.Errorf("value = %v, want 0.2", v.Value)
	}
}

func TestCompileScheduleRuleRequiresNoMetrics(t *testing.T) {
	program := mustParse(t, "EVERY day AT 07:00\n    NOTIFY \"good morning\"\n")

	compiled, err := New().Compile(program)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	rule := compiled.Rules[0]
	if rule.RuleType.Kind != "Schedule" {
		t.Errorf("rule_type = %q, want Schedule", rule.RuleType.Kind)
	}
	if compiled.RequiresHistory {
		t.Errorf("requires_history = true, want false for a schedule-only program")
	}
	if len(compiled.RequiredMetrics) != 0 {
		t.Errorf("required_metrics = %v, want empty", compiled.RequiredMetrics)
	}
}

func TestCompileTrendConditionBumpsHistoryWindow(t *testing.T) {
	program := mustParse(t, "ON pv_power RISING\n    LOG \"rising\"\n")

	compiled, err := New().Compile(program)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !compiled.RequiresHistory {
		t.Fatal("requires_history = false, want true for a Trend condition")
	}
	if compiled.MaxHistorySeconds == nil || *compiled.MaxHistorySeconds != 3600 {
		t.Fatalf("max_history_seconds = %v, want 3600", compiled.MaxHistorySeconds)
	}
}

func TestToJSONProducesValidIndentedJSON(t *testing.T) {
	program := mustParse(t, "ON grid_import > 0\n    NOTIFY \"importing\"\n")

	out, err := ToJSON(program)
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["version"] != "1.0" {
		t.Errorf("version = %v, want 1.0", decoded["version"])
	}
	if _, ok := decoded["checksum"]; !ok {
		t.Error("missing checksum field")
	}
}

func TestChecksumIsShapeBasedNotContentBased(t *testing.T) {
	a := mustParse(t, "ON battery_soc < 20%\n    NOTIFY \"low\"\n")
	b := mustParse(t, "ON battery_soc < 80%\n    NOTIFY \"low\"\n")

	ca, err := New().Compile(a)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	cb, err := New().Compile(b)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if ca.Checksum != cb.Checksum {
		t.Errorf("checksum(a)=%s != checksum(b)=%s, want equal shape fingerprints despite differing thresholds", ca.Checksum, cb.Checksum)
	}
}
