package runtime

import (
	"testing"
	"time"

	"github.com/sourceful/sel/pkg/sel/ast"
)

func TestMetricValuesGetSetClone(t *testing.T) {
	m := NewMetricValues()
	if _, ok := m.Get(ast.PvPower); ok {
		t.Fatal("a fresh MetricValues should have no entries")
	}

	m.Set(ast.PvPower, 1500)
	v, ok := m.Get(ast.PvPower)
	if !ok || v != 1500 {
		t.Fatalf("got (%v, %v), want (1500, true)", v, ok)
	}

	clone := m.Clone()
	clone.Set(ast.PvPower, 9999)
	if v, _ := m.Get(ast.PvPower); v != 1500 {
		t.Fatalf("mutating a clone should not affect the original, got %v", v)
	}
}

func evalComparison(t *testing.T, cond ast.ComparisonCondition, metrics MetricValues) bool {
	t.Helper()
	r := New()
	met, err := r.evaluateCondition(cond, metrics)
	if err != nil {
		t.Fatalf("evaluateCondition() error: %v", err)
	}
	return met
}

func TestSimpleComparisonEvaluatesWithEpsilon(t *testing.T) {
	metrics := NewMetricValues()
	metrics.Set(ast.BatterySoc, 15)

	cond := ast.ComparisonCondition{
		Left:     ast.MetricExpr{Metric: ast.BatterySoc},
		Operator: ast.LessThan,
		Right:    ast.LiteralExpr{Value: ast.PercentValue{P: 20}},
	}
	if !evalComparison(t, cond, metrics) {
		t.Fatal("15 < 20 should be true")
	}

	eqCond := ast.ComparisonCondition{
		Left:     ast.MetricExpr{Metric: ast.BatterySoc},
		Operator: ast.Equal,
		Right:    ast.LiteralExpr{Value: ast.NumberValue{N: 15}},
	}
	if !evalComparison(t, eqCond, metrics) {
		t.Fatal("15 == 15 should be true within epsilon")
	}
}

func TestLogicalAndShortCircuits(t *testing.T) {
	metrics := NewMetricValues()
	metrics.Set(ast.PvPower, 500)
	// battery_soc deliberately absent; referencing it should error if evaluated.

	cond := ast.LogicalCondition{
		Operator: ast.LogicalAnd,
		Conditions: []ast.Condition{
			ast.ComparisonCondition{
				Left:     ast.MetricExpr{Metric: ast.PvPower},
				Operator: ast.GreaterThan,
				Right:    ast.LiteralExpr{Value: ast.NumberValue{N: 1000}},
			},
			ast.ComparisonCondition{
				Left:     ast.MetricExpr{Metric: ast.BatterySoc},
				Operator: ast.LessThan,
				Right:    ast.LiteralExpr{Value: ast.PercentValue{P: 20}},
			},
		},
	}

	r := New()
	met, err := r.evaluateCondition(cond, metrics)
	if err != nil {
		t.Fatalf("evaluateCondition() error: %v (second operand should not have been evaluated)", err)
	}
	if met {
		t.Fatal("AND with a false first operand should be false")
	}
}

func TestLogicalNotWrapsSingleChild(t *testing.T) {
	metrics := NewMetricValues()
	metrics.Set(ast.GridImport, 0)

	cond := ast.LogicalCondition{
		Operator: ast.LogicalNot,
		Conditions: []ast.Condition{
			ast.ComparisonCondition{
				Left:     ast.MetricExpr{Metric: ast.GridImport},
				Operator: ast.GreaterThan,
				Right:    ast.LiteralExpr{Value: ast.NumberValue{N: 0}},
			},
		},
	}
	if !evalComparison(t, cond, metrics) {
		t.Fatal("NOT(0 > 0) should be true")
	}
}

func TestTemplateRenderingFormatsMetricsAndFallsBackOnMissing(t *testing.T) {
	r := New()
	metrics := NewMetricValues()
	metrics.Set(ast.BatterySoc, 42)
	metrics.Set(ast.PvPower, 2500)

	tmpl := ast.TemplateString{Parts: []ast.TemplatePart{
		ast.TextPart{Text: "soc="},
		ast.ExpressionPart{Expr: ast.MetricExpr{Metric: ast.BatterySoc}},
		ast.TextPart{Text: " pv="},
		ast.ExpressionPart{Expr: ast.MetricExpr{Metric: ast.PvPower}},
		ast.TextPart{Text: " grid="},
		ast.ExpressionPart{Expr: ast.MetricExpr{Metric: ast.GridImport}}, // absent
	}}

	got := r.renderTemplate(tmpl, metrics)
	want := "soc=42% pv=2.5 kW grid={?}"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEvaluateEventRuleHonorsCooldown(t *testing.T) {
	r := New()
	cooldown := uint64(60)
	rule := ast.EventRule{
		ID:              "rule_1",
		Enabled:         true,
		CooldownSeconds: &cooldown,
		Condition: ast.ComparisonCondition{
			Left:     ast.MetricExpr{Metric: ast.GridExport},
			Operator: ast.GreaterThan,
			Right:    ast.LiteralExpr{Value: ast.NumberValue{N: 0}},
		},
		Actions: []ast.Action{ast.NotifyAction{Message: ast.NewLiteralTemplate("exporting")}},
	}

	metrics := NewMetricValues()
	metrics.Set(ast.GridExport, 500)

	first, err := r.EvaluateEventRule(rule, metrics)
	if err != nil {
		t.Fatalf("EvaluateEventRule() error: %v", err)
	}
	if !first.Triggered {
		t.Fatal("first evaluation should trigger")
	}

	second, err := r.EvaluateEventRule(rule, metrics)
	if err != nil {
		t.Fatalf("EvaluateEventRule() error: %v", err)
	}
	if second.Triggered {
		t.Fatal("second evaluation within the cooldown window should not trigger")
	}
	if len(second.Actions) != 1 {
		t.Fatalf("got %d actions, want one Skipped result", len(second.Actions))
	}
	if _, ok := second.Actions[0].(SkippedResult); !ok {
		t.Fatalf("action is %T, want SkippedResult", second.Actions[0])
	}
}

func TestEvaluateEventRuleSkipsWhenDisabled(t *testing.T) {
	r := New()
	rule := ast.EventRule{
		ID:        "rule_1",
		Enabled:   false,
		Condition: ast.ComparisonCondition{Left: ast.MetricExpr{Metric: ast.GridExport}, Operator: ast.GreaterThan, Right: ast.LiteralExpr{Value: ast.NumberValue{N: 0}}},
	}
	result, err := r.EvaluateEventRule(rule, NewMetricValues())
	if err != nil {
		t.Fatalf("EvaluateEventRule() error: %v", err)
	}
	if result.Triggered {
		t.Fatal("a disabled rule should never trigger")
	}
}

func TestSetVariableActionAlwaysSkips(t *testing.T) {
	r := New()
	results, err := r.executeActions([]ast.Action{ast.SetVariableAction{Name: "x", Value: ast.LiteralExpr{Value: ast.NumberValue{N: 1}}}}, NewMetricValues())
	if err != nil {
		t.Fatalf("executeActions() error: %v", err)
	}
	skipped, ok := results[0].(SkippedResult)
	if !ok {
		t.Fatalf("result is %T, want SkippedResult", results[0])
	}
	if skipped.Reason != "SetVariable action not supported" {
		t.Fatalf("reason = %q, unexpected wording", skipped.Reason)
	}
}

func TestEvaluateFunctionAveragesHistory(t *testing.T) {
	r := New()
	nowMs := time.Now().UnixMilli()
	r.history.Add(ast.PvPower, nowMs-2000, 100)
	r.history.Add(ast.PvPower, nowMs-1000, 200)
	r.history.Add(ast.PvPower, nowMs, 300)

	fn := ast.FunctionCall{Name: ast.Avg, Args: []ast.Expression{ast.MetricExpr{Metric: ast.PvPower}}}
	got, err := r.evaluateExpression(fn, NewMetricValues())
	if err != nil {
		t.Fatalf("evaluateExpression() error: %v", err)
	}
	if got != 200 {
		t.Fatalf("AVG = %v, want 200", got)
	}
}

func TestEvaluateFunctionFallsBackToCurrentSnapshotWhenNoHistory(t *testing.T) {
	r := New()
	metrics := NewMetricValues()
	metrics.Set(ast.LoadPower, 750)

	fn := ast.FunctionCall{Name: ast.Sum, Args: []ast.Expression{ast.MetricExpr{Metric: ast.LoadPower}}}
	got, err := r.evaluateExpression(fn, metrics)
	if err != nil {
		t.Fatalf("evaluateExpression() error: %v", err)
	}
	if got != 750 {
		t.Fatalf("got %v, want fallback to the current snapshot (750)", got)
	}
}

func TestEvaluateExpressionDivisionByZeroErrors(t *testing.T) {
	r := New()
	expr := ast.BinaryExpr{
		Left:     ast.LiteralExpr{Value: ast.NumberValue{N: 1}},
		Operator: ast.Divide,
		Right:    ast.LiteralExpr{Value: ast.NumberValue{N: 0}},
	}
	if _, err := r.evaluateExpression(expr, NewMetricValues()); err == nil {
		t.Fatal("dividing by zero should error")
	}
}

func TestEvaluateTrendComparesAgainstPreviousSnapshot(t *testing.T) {
	r := New()
	rule := ast.EventRule{
		ID:      "rule_1",
		Enabled: true,
		Condition: ast.ComparisonCondition{
			Left:     ast.MetricExpr{Metric: ast.PvPower},
			Operator: ast.GreaterThan,
			Right:    ast.LiteralExpr{Value: ast.NumberValue{N: -1}}, // always true, just to record previousValues
		},
		Actions: []ast.Action{ast.LogAction{Message: ast.NewLiteralTemplate("snapshot")}},
	}
	first := NewMetricValues()
	first.Set(ast.PvPower, 1000)
	if _, err := r.EvaluateEventRule(rule, first); err != nil {
		t.Fatalf("EvaluateEventRule() error: %v", err)
	}

	trend := ast.TrendCondition{Metric: ast.PvPower, Direction: ast.Rising}
	second := NewMetricValues()
	second.Set(ast.PvPower, 1500)

	met, err := r.evaluateCondition(trend, second)
	if err != nil {
		t.Fatalf("evaluateCondition() error: %v", err)
	}
	if !met {
		t.Fatal("pv_power rose from 1000 to 1500, RISING should be true")
	}
}
