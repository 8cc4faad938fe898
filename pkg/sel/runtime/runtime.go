// Package runtime evaluates compiled SEL rules against live metric
// snapshots: condition/expression evaluation, cooldown gating, trend and
// anomaly detection, template rendering, and action materialization.
package runtime

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/selerr"
)

// epsilon is the tolerance used for float equality/inequality comparisons,
// matching the original's f64::EPSILON-based Equal/NotEqual semantics.
const epsilon = 2.2204460492503131e-16

// MetricValues holds one snapshot of all seven fixed telemetry signals.
// Each field is independently optional: a metric the caller never reported
// stays absent rather than defaulting to zero.
type MetricValues struct {
	values map[ast.Metric]float64
}

// NewMetricValues returns an empty snapshot.
func NewMetricValues() MetricValues {
	return MetricValues{values: make(map[ast.Metric]float64, len(ast.AllMetrics))}
}

// Get returns the value recorded for metric, if any.
func (m MetricValues) Get(metric ast.Metric) (float64, bool) {
	v, ok := m.values[metric]
	return v, ok
}

// Set records value for metric.
func (m MetricValues) Set(metric ast.Metric, value float64) {
	m.values[metric] = value
}

// Clone returns an independent copy, used to snapshot "previous" values for
// trend detection without aliasing the caller's map.
func (m MetricValues) Clone() MetricValues {
	out := NewMetricValues()
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// ActionResult is the outcome of materializing one Action at trigger time.
type ActionResult interface{ isActionResult() }

type NotifyResult struct{ Message string }
type WebhookResult struct{ URL, Body string }
type LogResult struct{ Message string }
type SkippedResult struct{ Reason string }

func (NotifyResult) isActionResult()  {}
func (WebhookResult) isActionResult() {}
func (LogResult) isActionResult()     {}
func (SkippedResult) isActionResult() {}

// RuleResult is the outcome of evaluating one event rule once.
type RuleResult struct {
	RuleID             string
	Triggered          bool
	Actions            []ActionResult
	CooldownRemaining  *time.Duration
}

// Runtime is a single-writer evaluation engine: variable bindings, cooldown
// ledger, metric history, and the previous-snapshot used for trend
// detection. All public methods are safe to call from the single goroutine
// that owns a site's evaluation loop; concurrent access across goroutines
// must be serialized by the caller (see pkg/sel/site).
type Runtime struct {
	mu             sync.RWMutex
	variables      map[string]float64
	cooldowns      *CooldownState
	history        *MetricHistory
	previousValues MetricValues
}

// New returns a Runtime with a 7-day default history retention window,
// matching the original's default. NewWithHistoryWindow replaces that
// window with the compiler's max_history_seconds, which may be shorter.
func New() *Runtime {
	return &Runtime{
		variables:      make(map[string]float64),
		cooldowns:      NewCooldownState(),
		history:        NewMetricHistory(7 * 24 * 3600),
		previousValues: NewMetricValues(),
	}
}

// NewWithHistoryWindow is like New but sets the history retention window
// explicitly, as the compiler's CompiledProgram.MaxHistorySeconds directs.
func NewWithHistoryWindow(maxAgeSeconds uint64) *Runtime {
	r := New()
	r.history = NewMetricHistory(maxAgeSeconds)
	return r
}

// LoadVariables resolves every variable declaration into the flat
// name->float64 table the evaluator reads.
func (r *Runtime) LoadVariables(program *ast.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range program.Variables {
		r.variables[v.Name] = valueToF64(v.Value)
	}
}

// RecordHistory appends the current snapshot's reported metrics to history.
// Call this periodically (independent of rule evaluation) so Trend/Anomaly
// conditions and aggregate functions have data to work with.
func (r *Runtime) RecordHistory(metrics MetricValues, timestampMs int64) {
	for _, metric := range ast.AllMetrics {
		if v, ok := metrics.Get(metric); ok {
			r.history.Add(metric, timestampMs, v)
		}
	}
}

// EvaluateEventRule runs one event rule's cooldown gate, condition, and (if
// triggered) its actions, in that order.
func (r *Runtime) EvaluateEventRule(rule ast.EventRule, metrics MetricValues) (RuleResult, error) {
	if rule.CooldownSeconds != nil {
		if r.cooldowns.IsInCooldown(rule.ID, *rule.CooldownSeconds) {
			return RuleResult{
				RuleID:            rule.ID,
				Triggered:         false,
				Actions:           []ActionResult{SkippedResult{Reason: "In cooldown"}},
				CooldownRemaining: r.cooldowns.Remaining(rule.ID, *rule.CooldownSeconds),
			}, nil
		}
	}

	if !rule.Enabled {
		return RuleResult{
			RuleID:    rule.ID,
			Triggered: false,
			Actions:   []ActionResult{SkippedResult{Reason: "Rule disabled"}},
		}, nil
	}

	conditionMet, err := r.evaluateCondition(rule.Condition, metrics)
	if err != nil {
		return RuleResult{}, err
	}

	if !conditionMet {
		return RuleResult{RuleID: rule.ID, Triggered: false}, nil
	}

	actions, err := r.executeActions(rule.Actions, metrics)
	if err != nil {
		return RuleResult{}, err
	}

	r.cooldowns.Trigger(rule.ID)

	r.mu.Lock()
	r.previousValues = metrics.Clone()
	r.mu.Unlock()

	var remaining *time.Duration
	if rule.CooldownSeconds != nil {
		d := time.Duration(*rule.CooldownSeconds) * time.Second
		remaining = &d
	}

	return RuleResult{RuleID: rule.ID, Triggered: true, Actions: actions, CooldownRemaining: remaining}, nil
}

// EvaluateAll runs EvaluateEventRule for every event rule in program, in
// declaration order; schedule rules are the scheduler's concern.
func (r *Runtime) EvaluateAll(program *ast.Program, metrics MetricValues) ([]RuleResult, error) {
	var results []RuleResult
	for _, rule := range program.Rules {
		er, ok := rule.(ast.EventRule)
		if !ok {
			continue
		}
		result, err := r.EvaluateEventRule(er, metrics)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// EvaluateScheduleActions renders and materializes a schedule rule's
// actions directly, with no condition or cooldown gate — the scheduler has
// already decided the rule should fire.
func (r *Runtime) EvaluateScheduleActions(actions []ast.Action, metrics MetricValues) ([]ActionResult, error) {
	return r.executeActions(actions, metrics)
}

// ── conditions ──────────────────────────────────────────────────────────

func (r *Runtime) evaluateCondition(cond ast.Condition, metrics MetricValues) (bool, error) {
	switch c := cond.(type) {
	case ast.ComparisonCondition:
		return r.evaluateComparison(c, metrics)
	case ast.LogicalCondition:
		return r.evaluateLogical(c, metrics)
	case ast.TrendCondition:
		return r.evaluateTrend(c, metrics)
	case ast.AnomalyCondition:
		return r.evaluateAnomaly(c, metrics)
	case ast.TimeWindowCondition:
		// Time windows are the scheduler's concern; the evaluator treats
		// them as always-satisfied.
		return true, nil
	default:
		return false, selerr.Runtime("unknown condition type")
	}
}

func (r *Runtime) evaluateComparison(cmp ast.ComparisonCondition, metrics MetricValues) (bool, error) {
	left, err := r.evaluateExpression(cmp.Left, metrics)
	if err != nil {
		return false, err
	}
	right, err := r.evaluateExpression(cmp.Right, metrics)
	if err != nil {
		return false, err
	}

	switch cmp.Operator {
	case ast.LessThan:
		return left < right, nil
	case ast.LessThanOrEqual:
		return left <= right, nil
	case ast.GreaterThan:
		return left > right, nil
	case ast.GreaterThanOrEqual:
		return left >= right, nil
	case ast.Equal:
		return math.Abs(left-right) < epsilon, nil
	case ast.NotEqual:
		return math.Abs(left-right) >= epsilon, nil
	default:
		return false, selerr.Runtime("unknown comparison operator")
	}
}

func (r *Runtime) evaluateLogical(log ast.LogicalCondition, metrics MetricValues) (bool, error) {
	switch log.Operator {
	case ast.LogicalAnd:
		for _, cond := range log.Conditions {
			met, err := r.evaluateCondition(cond, metrics)
			if err != nil {
				return false, err
			}
			if !met {
				return false, nil
			}
		}
		return true, nil
	case ast.LogicalOr:
		for _, cond := range log.Conditions {
			met, err := r.evaluateCondition(cond, metrics)
			if err != nil {
				return false, err
			}
			if met {
				return true, nil
			}
		}
		return false, nil
	case ast.LogicalNot:
		if len(log.Conditions) == 0 {
			return true, nil
		}
		met, err := r.evaluateCondition(log.Conditions[0], metrics)
		if err != nil {
			return false, err
		}
		return !met, nil
	default:
		return false, selerr.Runtime("unknown logical operator")
	}
}

func (r *Runtime) evaluateTrend(trend ast.TrendCondition, metrics MetricValues) (bool, error) {
	current, haveCurrent := metrics.Get(trend.Metric)

	r.mu.RLock()
	previous, havePrevious := r.previousValues.Get(trend.Metric)
	r.mu.RUnlock()

	if !haveCurrent || !havePrevious {
		return false, nil
	}

	diff := current - previous
	threshold := 0.0
	if trend.ThresholdPerHour != nil {
		threshold = *trend.ThresholdPerHour
	}

	switch trend.Direction {
	case ast.Rising:
		return diff > threshold, nil
	case ast.Falling:
		return diff < -threshold, nil
	case ast.Stable:
		return math.Abs(diff) <= threshold, nil
	default:
		return false, selerr.Runtime("unknown trend direction")
	}
}

func (r *Runtime) evaluateAnomaly(anomaly ast.AnomalyCondition, metrics MetricValues) (bool, error) {
	current, ok := metrics.Get(anomaly.Metric)
	if !ok {
		return false, nil
	}

	nowMs := time.Now().UnixMilli()
	history := r.history.GetRange(anomaly.Metric, anomaly.PeriodSeconds, nowMs)
	if len(history) == 0 {
		return false, nil
	}

	mean, stddev := meanAndStddev(history)
	deviation := math.Abs(current - mean)
	threshold := stddev * anomaly.Sensitivity

	return deviation > threshold, nil
}

// ── expressions ─────────────────────────────────────────────────────────

func (r *Runtime) evaluateExpression(expr ast.Expression, metrics MetricValues) (float64, error) {
	switch e := expr.(type) {
	case ast.MetricExpr:
		v, ok := metrics.Get(e.Metric)
		if !ok {
			return 0, selerr.Runtime(fmt.Sprintf("Metric %s not available", e.Metric.DebugName()))
		}
		return v, nil
	case ast.LiteralExpr:
		return valueToF64(e.Value), nil
	case ast.VariableRef:
		r.mu.RLock()
		v, ok := r.variables[e.Name]
		r.mu.RUnlock()
		if !ok {
			return 0, selerr.Runtime(fmt.Sprintf("Variable $%s not defined", e.Name))
		}
		return v, nil
	case ast.BinaryExpr:
		left, err := r.evaluateExpression(e.Left, metrics)
		if err != nil {
			return 0, err
		}
		right, err := r.evaluateExpression(e.Right, metrics)
		if err != nil {
			return 0, err
		}
		switch e.Operator {
		case ast.Add:
			return left + right, nil
		case ast.Subtract:
			return left - right, nil
		case ast.Multiply:
			return left * right, nil
		case ast.Divide:
			if math.Abs(right) < epsilon {
				return 0, selerr.Runtime("Division by zero")
			}
			return left / right, nil
		case ast.Modulo:
			return math.Mod(left, right), nil
		default:
			return 0, selerr.Runtime("unknown binary operator")
		}
	case ast.FunctionCall:
		return r.evaluateFunction(e, metrics)
	default:
		return 0, selerr.Runtime("unknown expression type")
	}
}

func (r *Runtime) evaluateFunction(fn ast.FunctionCall, metrics MetricValues) (float64, error) {
	if len(fn.Args) == 0 {
		return 0, selerr.Runtime("Function requires a metric argument")
	}
	metricExpr, ok := fn.Args[0].(ast.MetricExpr)
	if !ok {
		return 0, selerr.Runtime("Function requires a metric argument")
	}
	metric := metricExpr.Metric

	period := uint64(3600)
	if fn.PeriodSeconds != nil {
		period = *fn.PeriodSeconds
	}

	nowMs := time.Now().UnixMilli()
	values := r.history.GetRange(metric, period, nowMs)

	if len(values) == 0 {
		v, ok := metrics.Get(metric)
		if !ok {
			return 0, selerr.Runtime("No data available")
		}
		return v, nil
	}

	switch fn.Name {
	case ast.Avg:
		return sum(values) / float64(len(values)), nil
	case ast.Sum:
		return sum(values), nil
	case ast.Min:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case ast.Max:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case ast.Count:
		return float64(len(values)), nil
	case ast.Median:
		sorted := sortedCopy(values)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2.0, nil
		}
		return sorted[mid], nil
	case ast.Stddev:
		_, stddev := meanAndStddev(values)
		return stddev, nil
	case ast.Trend:
		return linearRegressionSlope(values), nil
	case ast.Percentile:
		// 50th percentile only; the grammar provides no way to request a
		// different percentile (see DESIGN.md #6).
		sorted := sortedCopy(values)
		return sorted[len(sorted)/2], nil
	default:
		return 0, selerr.Runtime("unknown aggregate function")
	}
}

func meanAndStddev(values []float64) (mean, stddev float64) {
	mean = sum(values) / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func linearRegressionSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	return (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// ── actions ─────────────────────────────────────────────────────────────

func (r *Runtime) executeActions(actions []ast.Action, metrics MetricValues) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(actions))

	for _, action := range actions {
		switch a := action.(type) {
		case ast.NotifyAction:
			results = append(results, NotifyResult{Message: r.renderTemplate(a.Message, metrics)})
		case ast.WebhookAction:
			var body string
			if a.Body != nil {
				body = r.renderTemplate(*a.Body, metrics)
			} else {
				body = r.generateWebhookBody(metrics)
			}
			results = append(results, WebhookResult{URL: a.URL, Body: body})
		case ast.LogAction:
			results = append(results, LogResult{Message: r.renderTemplate(a.Message, metrics)})
		case ast.SetVariableAction:
			results = append(results, SkippedResult{Reason: "SetVariable action not supported"})
		default:
			return nil, selerr.Runtime("unknown action type")
		}
	}

	return results, nil
}

// renderTemplate renders template against metrics. An expression part that
// fails to evaluate (missing metric/variable) renders as "{?}" rather than
// aborting the whole message.
func (r *Runtime) renderTemplate(template ast.TemplateString, metrics MetricValues) string {
	var out []byte

	for _, part := range template.Parts {
		switch p := part.(type) {
		case ast.TextPart:
			out = append(out, p.Text...)
		case ast.ExpressionPart:
			value, err := r.evaluateExpression(p.Expr, metrics)
			if err != nil {
				out = append(out, "{?}"...)
				continue
			}
			if metricExpr, ok := p.Expr.(ast.MetricExpr); ok {
				out = append(out, formatMetricValue(metricExpr.Metric, value)...)
			} else {
				out = append(out, fmt.Sprintf("%.1f", value)...)
			}
		}
	}

	return string(out)
}

func (r *Runtime) generateWebhookBody(metrics MetricValues) string {
	var b []byte
	b = append(b, '{')
	first := true
	for _, metric := range ast.AllMetrics {
		if v, ok := metrics.Get(metric); ok {
			if !first {
				b = append(b, ", "...)
			}
			b = append(b, fmt.Sprintf("%q: %v", metric.DebugName(), v)...)
			first = false
		}
	}
	b = append(b, '}')
	return string(b)
}

func valueToF64(v ast.Value) float64 {
	switch val := v.(type) {
	case ast.NumberValue:
		return val.N
	case ast.PercentValue:
		// Unlike the compiler's variable normalization, the evaluator keeps
		// percent on a 0-100 scale to match battery_soc's native range (see
		// DESIGN.md #1).
		return val.P
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

func formatMetricValue(metric ast.Metric, value float64) string {
	if metric == ast.BatterySoc {
		return fmt.Sprintf("%.0f%%", value)
	}
	if math.Abs(value) >= 1000.0 {
		return fmt.Sprintf("%.1f kW", value/1000.0)
	}
	return fmt.Sprintf("%.0f W", value)
}
