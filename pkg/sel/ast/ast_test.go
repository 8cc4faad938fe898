package ast

import (
	"encoding/json"
	"testing"
)

func TestMetricStringAndDebugName(t *testing.T) {
	if got := BatterySoc.String(); got != "battery_soc" {
		t.Errorf("String() = %q, want battery_soc", got)
	}
	if got := BatterySoc.DebugName(); got != "BatterySoc" {
		t.Errorf("DebugName() = %q, want BatterySoc", got)
	}
}

func TestParseMetricIsCaseInsensitive(t *testing.T) {
	m, ok := ParseMetric("PV_Power")
	if !ok || m != PvPower {
		t.Fatalf("ParseMetric(PV_Power) = (%v, %v), want (PvPower, true)", m, ok)
	}
	if _, ok := ParseMetric("not_a_metric"); ok {
		t.Fatal("ParseMetric(not_a_metric) unexpectedly succeeded")
	}
}

func TestParseFunctionIsCaseInsensitive(t *testing.T) {
	f, ok := ParseFunction("avg")
	if !ok || f != Avg {
		t.Fatalf("ParseFunction(avg) = (%v, %v), want (Avg, true)", f, ok)
	}
}

func TestComparisonConditionMarshalsTaggedShape(t *testing.T) {
	cond := ComparisonCondition{
		Left:     MetricExpr{Metric: BatterySoc},
		Operator: LessThan,
		Right:    LiteralExpr{Value: PercentValue{P: 20}},
	}
	b, err := json.Marshal(cond)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded["type"] != "Comparison" {
		t.Errorf(`type = %v, want "Comparison"`, decoded["type"])
	}
	if decoded["operator"] != "lt" {
		t.Errorf(`operator = %v, want "lt"`, decoded["operator"])
	}
}

func TestTemplateStringRoundTripsLiteralText(t *testing.T) {
	tmpl := NewLiteralTemplate("battery is low")
	b, err := json.Marshal(tmpl)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded struct {
		Parts []struct {
			PartType string `json:"part_type"`
			Text     string `json:"text"`
		} `json:"parts"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if len(decoded.Parts) != 1 || decoded.Parts[0].PartType != "Text" || decoded.Parts[0].Text != "battery is low" {
		t.Fatalf("unexpected parts: %+v", decoded.Parts)
	}
}

func TestProgramMarshalsVersionVariablesRules(t *testing.T) {
	program := NewProgram()
	program.Variables = append(program.Variables, Variable{Name: "threshold", Value: NumberValue{N: 20}})
	program.Rules = append(program.Rules, EventRule{
		ID:        "rule_1",
		Condition: ComparisonCondition{Left: MetricExpr{Metric: GridImport}, Operator: GreaterThan, Right: LiteralExpr{Value: NumberValue{N: 0}}},
		Enabled:   true,
	})

	b, err := json.Marshal(program)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded["version"] != "1.0" {
		t.Errorf(`version = %v, want "1.0"`, decoded["version"])
	}
	rules, ok := decoded["rules"].([]any)
	if !ok || len(rules) != 1 {
		t.Fatalf("rules = %v, want one element", decoded["rules"])
	}
}
