package parser

import (
	"testing"

	"github.com/sourceful/sel/pkg/sel/ast"
)

func TestParseSimpleComparisonRule(t *testing.T) {
	program, err := Parse("ON battery_soc < 20%\n    NOTIFY \"battery low\"\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(program.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(program.Rules))
	}

	rule, ok := program.Rules[0].(ast.EventRule)
	if !ok {
		t.Fatalf("rule is %T, want ast.EventRule", program.Rules[0])
	}

	cmp, ok := rule.Condition.(ast.ComparisonCondition)
	if !ok {
		t.Fatalf("condition is %T, want ast.ComparisonCondition", rule.Condition)
	}
	if cmp.Operator != ast.LessThan {
		t.Errorf("operator = %v, want LessThan", cmp.Operator)
	}
	metric, ok := cmp.Left.(ast.MetricExpr)
	if !ok || metric.Metric != ast.BatterySoc {
		t.Fatalf("left = %+v, want MetricExpr{BatterySoc}", cmp.Left)
	}

	if len(rule.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(rule.Actions))
	}
	if _, ok := rule.Actions[0].(ast.NotifyAction); !ok {
		t.Fatalf("action is %T, want ast.NotifyAction", rule.Actions[0])
	}
}

func TestParseVariableDeclaration(t *testing.T) {
	program, err := Parse("$low_soc = 20%\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(program.Variables) != 1 {
		t.Fatalf("got %d variables, want 1", len(program.Variables))
	}
	v := program.Variables[0]
	if v.Name != "low_soc" {
		t.Errorf("name = %q, want low_soc", v.Name)
	}
	pct, ok := v.Value.(ast.PercentValue)
	if !ok || pct.P != 20 {
		t.Fatalf("value = %+v, want PercentValue{20}", v.Value)
	}
}

func TestParseAndOrConditionsNestPairwise(t *testing.T) {
	program, err := Parse("ON pv_power > 1000W AND battery_soc < 50% OR grid_import > 0\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rule := program.Rules[0].(ast.EventRule)

	top, ok := rule.Condition.(ast.LogicalCondition)
	if !ok || top.Operator != ast.LogicalOr {
		t.Fatalf("top-level condition = %+v, want an Or", rule.Condition)
	}
	if len(top.Conditions) != 2 {
		t.Fatalf("got %d children, want 2", len(top.Conditions))
	}
	left, ok := top.Conditions[0].(ast.LogicalCondition)
	if !ok || left.Operator != ast.LogicalAnd {
		t.Fatalf("left child = %+v, want an And", top.Conditions[0])
	}
}

func TestParseTemplateInterpolatesEmbeddedExpressions(t *testing.T) {
	program, err := Parse(`ON battery_soc < 20%
    NOTIFY "battery at {battery_soc}%, importing {grid_import}W"
`)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rule := program.Rules[0].(ast.EventRule)
	notify := rule.Actions[0].(ast.NotifyAction)

	var gotExpr int
	var gotText int
	for _, part := range notify.Message.Parts {
		switch p := part.(type) {
		case ast.TextPart:
			gotText++
			_ = p
		case ast.ExpressionPart:
			gotExpr++
			if _, ok := p.Expr.(ast.MetricExpr); !ok {
				t.Errorf("expression part is %T, want ast.MetricExpr", p.Expr)
			}
		}
	}
	if gotExpr != 2 {
		t.Fatalf("got %d expression parts, want 2", gotExpr)
	}
	if gotText == 0 {
		t.Fatal("expected at least one literal text part between placeholders")
	}
}

func TestParseLiteralWithoutBracesRoundTrips(t *testing.T) {
	program, err := Parse("ON grid_export > 0\n    NOTIFY \"exporting power\"\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rule := program.Rules[0].(ast.EventRule)
	notify := rule.Actions[0].(ast.NotifyAction)
	if len(notify.Message.Parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(notify.Message.Parts))
	}
	text, ok := notify.Message.Parts[0].(ast.TextPart)
	if !ok || text.Text != "exporting power" {
		t.Fatalf("part = %+v, want literal 'exporting power'", notify.Message.Parts[0])
	}
}

func TestParseScheduleRuleWeeklyOnDay(t *testing.T) {
	program, err := Parse("EVERY monday AT 09:00\n    NOTIFY \"weekly reminder\"\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rule, ok := program.Rules[0].(ast.ScheduleRule)
	if !ok {
		t.Fatalf("rule is %T, want ast.ScheduleRule", program.Rules[0])
	}
	cal, ok := rule.Schedule.(ast.CalendarSchedule)
	if !ok {
		t.Fatalf("schedule is %T, want ast.CalendarSchedule", rule.Schedule)
	}
	if cal.Frequency != ast.Weekly {
		t.Errorf("frequency = %v, want Weekly", cal.Frequency)
	}
	if cal.On == nil || *cal.On != 1 {
		t.Fatalf("on = %v, want Monday (1)", cal.On)
	}
	if cal.At.Hour != 9 || cal.At.Minute != 0 {
		t.Errorf("at = %+v, want 09:00", cal.At)
	}
}

func TestParseCooldownOnEventRule(t *testing.T) {
	program, err := Parse("ON grid_export > 0\n    NOTIFY \"exporting\"\n    COOLDOWN 15min\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	rule := program.Rules[0].(ast.EventRule)
	if rule.CooldownSeconds == nil || *rule.CooldownSeconds != 900 {
		t.Fatalf("cooldown = %v, want 900s", rule.CooldownSeconds)
	}
}

func TestParseUnterminatedConditionIsAnError(t *testing.T) {
	if _, err := Parse("ON battery_soc <\n"); err == nil {
		t.Fatal("expected a parse error for a dangling comparison")
	}
}
