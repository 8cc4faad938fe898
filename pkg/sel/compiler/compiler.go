// Package compiler lowers a parsed ast.Program into a CompiledProgram: the
// flattened, JSON-ready shape a runtime loads and executes.
package compiler

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/selerr"
)

// CompiledVariable pairs a variable's normalized numeric value (metadata;
// the evaluator resolves variables from the AST itself) with its original
// parsed Value.
type CompiledVariable struct {
	Name     string    `json:"name"`
	Value    float64   `json:"value"`
	Original ast.Value `json:"original"`
}

// CompiledRuleType is Event or Schedule, carrying its condition/schedule.
type CompiledRuleType struct {
	Kind      string        `json:"type"`
	Condition ast.Condition `json:"condition,omitempty"`
	Schedule  ast.Schedule  `json:"schedule,omitempty"`
}

func (t CompiledRuleType) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case "Event":
		return json.Marshal(struct {
			Kind      string        `json:"type"`
			Condition ast.Condition `json:"condition"`
		}{t.Kind, t.Condition})
	case "Schedule":
		return json.Marshal(struct {
			Kind     string       `json:"type"`
			Schedule ast.Schedule `json:"schedule"`
		}{t.Kind, t.Schedule})
	default:
		return nil, fmt.Errorf("unknown compiled rule type %q", t.Kind)
	}
}

// CompiledAction flattens an ast.Action into a uniform action_type/config
// shape, plus the variable/metric names its template(s) reference.
type CompiledAction struct {
	ActionType   string   `json:"action_type"`
	Config       any      `json:"config"`
	TemplateVars []string `json:"template_vars"`
}

// CompiledRule is a rule ready for execution: its triggering predicate plus
// its flattened actions.
type CompiledRule struct {
	ID              string           `json:"id"`
	Name            *string          `json:"name,omitempty"`
	RuleType        CompiledRuleType `json:"rule_type"`
	Enabled         bool             `json:"enabled"`
	Actions         []CompiledAction `json:"actions"`
	CooldownSeconds *uint64          `json:"cooldown_seconds,omitempty"`
}

// CompiledProgram is the fully-lowered, JSON-serializable output of Compile.
type CompiledProgram struct {
	Version            string             `json:"version"`
	CompiledAt         string             `json:"compiled_at"`
	Checksum           string             `json:"checksum"`
	Variables          []CompiledVariable `json:"variables"`
	Rules              []CompiledRule     `json:"rules"`
	RequiredMetrics    []ast.Metric       `json:"required_metrics"`
	RequiresHistory    bool               `json:"requires_history"`
	MaxHistorySeconds  *uint64            `json:"max_history_seconds,omitempty"`
}

// Compiler holds the per-invocation accumulator state used while walking a
// Program; a Compiler is single-use (call Compile exactly once) though
// Compile resets its fields defensively at entry, matching the original's
// reset-on-compile behavior.
type Compiler struct {
	requiredMetrics    map[ast.Metric]bool
	maxHistorySeconds  uint64
}

// New returns a ready-to-use Compiler.
func New() *Compiler {
	return &Compiler{requiredMetrics: make(map[ast.Metric]bool)}
}

// Compile lowers program into a CompiledProgram.
func (c *Compiler) Compile(program *ast.Program) (*CompiledProgram, error) {
	c.requiredMetrics = make(map[ast.Metric]bool)
	c.maxHistorySeconds = 0

	variables := make([]CompiledVariable, 0, len(program.Variables))
	for _, v := range program.Variables {
		variables = append(variables, c.compileVariable(v))
	}

	rules := make([]CompiledRule, 0, len(program.Rules))
	for _, r := range program.Rules {
		cr, err := c.compileRule(r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, cr)
	}

	requiresHistory := c.maxHistorySeconds > 0
	required := make([]ast.Metric, 0, len(c.requiredMetrics))
	for _, m := range ast.AllMetrics {
		if c.requiredMetrics[m] {
			required = append(required, m)
		}
	}

	var maxHistory *uint64
	if requiresHistory {
		h := c.maxHistorySeconds
		maxHistory = &h
	}

	return &CompiledProgram{
		Version:           program.Version,
		CompiledAt:        strconv.FormatInt(time.Now().Unix(), 10),
		Checksum:          checksum(program),
		Variables:         variables,
		Rules:             rules,
		RequiredMetrics:   required,
		RequiresHistory:   requiresHistory,
		MaxHistorySeconds: maxHistory,
	}, nil
}

// ToJSON compiles program and marshals it with indentation, matching the
// original's pretty-printed output.
func ToJSON(program *ast.Program) (string, error) {
	compiled, err := New().Compile(program)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(compiled, "", "  ")
	if err != nil {
		return "", selerr.Compiler("JSON serialization failed: " + err.Error())
	}
	return string(b), nil
}

func (c *Compiler) compileVariable(v ast.Variable) CompiledVariable {
	return CompiledVariable{Name: v.Name, Value: normalizeValue(v.Value), Original: v.Value}
}

// normalizeValue reduces a Value to a single base-unit float64 for the
// compiled image. The evaluator does not read this value. Percent divides by
// 100 here (a fraction in [0,1]) while the evaluator's own percent handling
// stays unscaled — see
// DESIGN.md #1 for why this asymmetry is preserved rather than "fixed".
func normalizeValue(v ast.Value) float64 {
	switch val := v.(type) {
	case ast.NumberValue:
		return val.N
	case ast.PercentValue:
		return val.P / 100.0
	case ast.PowerValue:
		return val.Watts
	case ast.EnergyValue:
		return val.WattHours
	case ast.DurationValue:
		return float64(val.Seconds)
	case ast.TimeValue:
		return float64(val.Hour)*60 + float64(val.Minute)
	case ast.TimeRangeValue:
		s := float64(val.Start.Hour)*60 + float64(val.Start.Minute)
		e := float64(val.End.Hour)*60 + float64(val.End.Minute)
		return e - s
	case ast.StringValue:
		return 0
	default:
		return 0
	}
}

func (c *Compiler) compileRule(r ast.Rule) (CompiledRule, error) {
	switch rule := r.(type) {
	case ast.EventRule:
		return c.compileEventRule(rule)
	case ast.ScheduleRule:
		return c.compileScheduleRule(rule)
	default:
		return CompiledRule{}, selerr.Compiler("unknown rule type")
	}
}

func (c *Compiler) compileEventRule(rule ast.EventRule) (CompiledRule, error) {
	c.extractMetricsFromCondition(rule.Condition)

	actions := make([]CompiledAction, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		ca, err := c.compileAction(a)
		if err != nil {
			return CompiledRule{}, err
		}
		actions = append(actions, ca)
	}

	return CompiledRule{
		ID:              rule.ID,
		Name:            rule.Name,
		RuleType:        CompiledRuleType{Kind: "Event", Condition: rule.Condition},
		Enabled:         rule.Enabled,
		Actions:         actions,
		CooldownSeconds: rule.CooldownSeconds,
	}, nil
}

func (c *Compiler) compileScheduleRule(rule ast.ScheduleRule) (CompiledRule, error) {
	actions := make([]CompiledAction, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		ca, err := c.compileAction(a)
		if err != nil {
			return CompiledRule{}, err
		}
		actions = append(actions, ca)
	}

	return CompiledRule{
		ID:       rule.ID,
		Name:     rule.Name,
		RuleType: CompiledRuleType{Kind: "Schedule", Schedule: rule.Schedule},
		Enabled:  rule.Enabled,
		Actions:  actions,
	}, nil
}

func (c *Compiler) compileAction(action ast.Action) (CompiledAction, error) {
	switch a := action.(type) {
	case ast.NotifyAction:
		return CompiledAction{
			ActionType: "notify",
			Config: map[string]any{
				"message":  a.Message,
				"channel":  a.Channel,
				"priority": a.Priority,
			},
			TemplateVars: extractTemplateVars(a.Message),
		}, nil
	case ast.WebhookAction:
		var vars []string
		if a.Body != nil {
			vars = extractTemplateVars(*a.Body)
		}
		return CompiledAction{
			ActionType: "webhook",
			Config: map[string]any{
				"url":     a.URL,
				"method":  a.Method,
				"headers": a.Headers,
				"body":    a.Body,
			},
			TemplateVars: vars,
		}, nil
	case ast.LogAction:
		return CompiledAction{
			ActionType: "log",
			Config: map[string]any{
				"message": a.Message,
				"level":   a.Level,
			},
			TemplateVars: extractTemplateVars(a.Message),
		}, nil
	case ast.SetVariableAction:
		return CompiledAction{
			ActionType: "set_variable",
			Config: map[string]any{
				"name":  a.Name,
				"value": a.Value,
			},
			TemplateVars: []string{},
		}, nil
	default:
		return CompiledAction{}, selerr.Compiler("unknown action type")
	}
}

func extractTemplateVars(tmpl ast.TemplateString) []string {
	var vars []string
	for _, part := range tmpl.Parts {
		if ep, ok := part.(ast.ExpressionPart); ok {
			extractVarsFromExpr(ep.Expr, &vars)
		}
	}
	return vars
}

func extractVarsFromExpr(expr ast.Expression, vars *[]string) {
	switch e := expr.(type) {
	case ast.VariableRef:
		*vars = append(*vars, e.Name)
	case ast.MetricExpr:
		*vars = append(*vars, e.Metric.String())
	case ast.BinaryExpr:
		extractVarsFromExpr(e.Left, vars)
		extractVarsFromExpr(e.Right, vars)
	case ast.FunctionCall:
		for _, arg := range e.Args {
			extractVarsFromExpr(arg, vars)
		}
	}
}

func (c *Compiler) extractMetricsFromCondition(cond ast.Condition) {
	switch cnd := cond.(type) {
	case ast.ComparisonCondition:
		c.extractMetricsFromExpr(cnd.Left)
		c.extractMetricsFromExpr(cnd.Right)
	case ast.LogicalCondition:
		for _, sub := range cnd.Conditions {
			c.extractMetricsFromCondition(sub)
		}
	case ast.TrendCondition:
		c.requiredMetrics[cnd.Metric] = true
		c.bumpHistory(3600)
	case ast.AnomalyCondition:
		c.requiredMetrics[cnd.Metric] = true
		c.bumpHistory(cnd.PeriodSeconds)
	case ast.TimeWindowCondition:
		// no metric/history requirement
	}
}

func (c *Compiler) extractMetricsFromExpr(expr ast.Expression) {
	switch e := expr.(type) {
	case ast.MetricExpr:
		c.requiredMetrics[e.Metric] = true
	case ast.FunctionCall:
		for _, arg := range e.Args {
			c.extractMetricsFromExpr(arg)
		}
		if e.PeriodSeconds != nil {
			c.bumpHistory(*e.PeriodSeconds)
		}
	case ast.BinaryExpr:
		c.extractMetricsFromExpr(e.Left)
		c.extractMetricsFromExpr(e.Right)
	}
}

func (c *Compiler) bumpHistory(seconds uint64) {
	if seconds > c.maxHistorySeconds {
		c.maxHistorySeconds = seconds
	}
}

// checksum fingerprints the program's shape (version, variable count, rule
// count) rather than its full content, matching the original's
// DefaultHasher-based shape hash; two programs that differ only in, say,
// condition thresholds produce the same checksum.
func checksum(program *ast.Program) string {
	h := fnv.New64a()
	h.Write([]byte(program.Version))
	writeUint(h, uint64(len(program.Variables)))
	writeUint(h, uint64(len(program.Rules)))
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeUint(h interface{ Write([]byte) (int, error) }, n uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	h.Write(buf[:])
}
