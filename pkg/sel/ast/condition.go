package ast

import "encoding/json"

// Condition is one of Comparison, Logical, Trend, Anomaly, or TimeWindow.
type Condition interface {
	isCondition()
	json.Marshaler
}

// ComparisonOp is one of the six comparison operators.
type ComparisonOp int

const (
	Equal ComparisonOp = iota
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

var comparisonOpWire = map[ComparisonOp]string{
	Equal: "eq", NotEqual: "neq", LessThan: "lt",
	LessThanOrEqual: "lte", GreaterThan: "gt", GreaterThanOrEqual: "gte",
}

func (op ComparisonOp) String() string { return comparisonOpWire[op] }

func (op ComparisonOp) MarshalJSON() ([]byte, error) { return json.Marshal(op.String()) }

// ComparisonCondition compares two expressions.
type ComparisonCondition struct {
	Left     Expression
	Operator ComparisonOp
	Right    Expression
}

func (ComparisonCondition) isCondition() {}
func (c ComparisonCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		Left     Expression   `json:"left"`
		Operator ComparisonOp `json:"operator"`
		Right    Expression   `json:"right"`
	}{"Comparison", c.Left, c.Operator, c.Right})
}

// LogicalOp is AND, OR, or NOT.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
	LogicalNot
)

var logicalOpWire = map[LogicalOp]string{LogicalAnd: "and", LogicalOr: "or", LogicalNot: "not"}

func (op LogicalOp) String() string { return logicalOpWire[op] }

func (op LogicalOp) MarshalJSON() ([]byte, error) { return json.Marshal(op.String()) }

// LogicalCondition combines child conditions. NOT always carries exactly
// one child (the grammar only accepts a unary NOT, see DESIGN.md #4).
type LogicalCondition struct {
	Operator   LogicalOp
	Conditions []Condition
}

func (LogicalCondition) isCondition() {}
func (c LogicalCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string      `json:"type"`
		Operator   LogicalOp   `json:"operator"`
		Conditions []Condition `json:"conditions"`
	}{"Logical", c.Operator, c.Conditions})
}

// TrendDirection is Rising, Falling, or Stable.
type TrendDirection int

const (
	Rising TrendDirection = iota
	Falling
	Stable
)

var trendDirectionWire = map[TrendDirection]string{Rising: "rising", Falling: "falling", Stable: "stable"}

func (d TrendDirection) String() string { return trendDirectionWire[d] }

func (d TrendDirection) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// TrendCondition fires based on the sign of the difference between the
// current and previous-triggering snapshot for metric.
type TrendCondition struct {
	Metric           Metric
	Direction        TrendDirection
	ThresholdPerHour *float64
}

func (TrendCondition) isCondition() {}
func (c TrendCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type             string         `json:"type"`
		Metric           Metric         `json:"metric"`
		Direction        TrendDirection `json:"direction"`
		ThresholdPerHour *float64       `json:"threshold_per_hour,omitempty"`
	}{"Trend", c.Metric, c.Direction, c.ThresholdPerHour})
}

// AnomalyCondition fires when a metric sample deviates from its recent
// population mean by more than sensitivity standard deviations.
type AnomalyCondition struct {
	Metric        Metric
	PeriodSeconds uint64
	Sensitivity   float64
}

func (AnomalyCondition) isCondition() {}
func (c AnomalyCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type          string  `json:"type"`
		Metric        Metric  `json:"metric"`
		PeriodSeconds uint64  `json:"period_seconds"`
		Sensitivity   float64 `json:"sensitivity"`
	}{"Anomaly", c.Metric, c.PeriodSeconds, c.Sensitivity})
}

// TimeWindowCondition is always true at the evaluator (a no-op kept for
// scheduler coordination); see spec.md §4.4.
type TimeWindowCondition struct {
	Start, End TimeOfDay
}

func (TimeWindowCondition) isCondition() {}
func (c TimeWindowCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string    `json:"type"`
		Start TimeOfDay `json:"start"`
		End   TimeOfDay `json:"end"`
	}{"TimeWindow", c.Start, c.End})
}
