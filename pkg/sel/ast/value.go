// Package ast defines the SEL abstract syntax tree: the immutable value
// tree produced by the parser and consumed by the compiler and evaluator.
// Value, Expression, Condition, Rule, Schedule, Action, and TemplatePart are
// closed sum types; each is modeled as a Go interface with a small marker
// method plus one concrete struct per variant, so a type switch over the
// concrete type is the only way to inspect one (mirroring the exhaustive
// case analysis the original Rust enums force).
package ast

import (
	"encoding/json"
)

// Value is a literal value as produced by the parser from a variable
// declaration or a literal expression.
type Value interface {
	isValue()
	// MarshalJSON encodes the value using serde's adjacently-tagged shape:
	// {"type": "<Variant>", "value": <payload>}.
	json.Marshaler
}

type NumberValue struct{ N float64 }

func (NumberValue) isValue() {}
func (v NumberValue) MarshalJSON() ([]byte, error) { return taggedValue("Number", v.N) }

type PercentValue struct{ P float64 }

func (PercentValue) isValue() {}
func (v PercentValue) MarshalJSON() ([]byte, error) { return taggedValue("Percent", v.P) }

type PowerValue struct{ Watts float64 }

func (PowerValue) isValue() {}
func (v PowerValue) MarshalJSON() ([]byte, error) {
	return taggedValue("Power", struct {
		Watts float64 `json:"watts"`
	}{v.Watts})
}

type EnergyValue struct{ WattHours float64 }

func (EnergyValue) isValue() {}
func (v EnergyValue) MarshalJSON() ([]byte, error) {
	return taggedValue("Energy", struct {
		WattHours float64 `json:"watt_hours"`
	}{v.WattHours})
}

type DurationValue struct{ Seconds uint64 }

func (DurationValue) isValue() {}
func (v DurationValue) MarshalJSON() ([]byte, error) {
	return taggedValue("Duration", struct {
		Seconds uint64 `json:"seconds"`
	}{v.Seconds})
}

// TimeOfDay is a 24-hour wall-clock time of day.
type TimeOfDay struct {
	Hour   uint8 `json:"hour"`
	Minute uint8 `json:"minute"`
}

type TimeValue struct{ Hour, Minute uint8 }

func (TimeValue) isValue() {}
func (v TimeValue) MarshalJSON() ([]byte, error) {
	return taggedValue("Time", TimeOfDay{Hour: v.Hour, Minute: v.Minute})
}

type TimeRangeValue struct{ Start, End TimeOfDay }

func (TimeRangeValue) isValue() {}
func (v TimeRangeValue) MarshalJSON() ([]byte, error) {
	return taggedValue("TimeRange", struct {
		Start TimeOfDay `json:"start"`
		End   TimeOfDay `json:"end"`
	}{v.Start, v.End})
}

type StringValue struct{ S string }

func (StringValue) isValue() {}
func (v StringValue) MarshalJSON() ([]byte, error) { return taggedValue("String", v.S) }

func taggedValue(typ string, value any) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{typ, value})
}

// Variable is a top-level `$name = value` declaration.
type Variable struct {
	Name  string
	Value Value
}

func (v Variable) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Value Value  `json:"value"`
	}{v.Name, v.Value})
}

// Metric is one of the seven fixed telemetry signal names.
type Metric int

const (
	PvPower Metric = iota
	BatteryPower
	BatterySoc
	GridPower
	GridImport
	GridExport
	LoadPower
)

var metricNames = map[Metric]string{
	PvPower:      "pv_power",
	BatteryPower: "battery_power",
	BatterySoc:   "battery_soc",
	GridPower:    "grid_power",
	GridImport:   "grid_import",
	GridExport:   "grid_export",
	LoadPower:    "load_power",
}

// debugNames mirrors Rust's `{:?}` Debug-derive PascalCase spelling, used
// only by the evaluator's auto-generated webhook body (see DESIGN.md #8).
var debugNames = map[Metric]string{
	PvPower:      "PvPower",
	BatteryPower: "BatteryPower",
	BatterySoc:   "BatterySoc",
	GridPower:    "GridPower",
	GridImport:   "GridImport",
	GridExport:   "GridExport",
	LoadPower:    "LoadPower",
}

// String returns the canonical snake_case wire name.
func (m Metric) String() string {
	if n, ok := metricNames[m]; ok {
		return n
	}
	return "unknown"
}

// DebugName returns the PascalCase spelling used only by the evaluator's
// auto-generated webhook body.
func (m Metric) DebugName() string {
	if n, ok := debugNames[m]; ok {
		return n
	}
	return "Unknown"
}

func (m Metric) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// ParseMetric resolves a case-insensitive metric name, as used by the lexer
// and parser when classifying identifiers.
func ParseMetric(s string) (Metric, bool) {
	for m, name := range metricNames {
		if equalFold(name, s) {
			return m, true
		}
	}
	return 0, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// AllMetrics lists every Metric in declaration order, used by the evaluator
// to build the webhook auto-body and by the compiler for default reporting.
var AllMetrics = []Metric{PvPower, BatteryPower, BatterySoc, GridPower, GridImport, GridExport, LoadPower}
