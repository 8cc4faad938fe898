package ast

import "encoding/json"

// TemplatePart is either literal Text or an embedded Expression, produced
// from `"...{expr}..."` syntax (see DESIGN.md #11).
type TemplatePart interface {
	isTemplatePart()
	json.Marshaler
}

type TextPart struct{ Text string }

func (TextPart) isTemplatePart() {}
func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PartType string `json:"part_type"`
		Text     string `json:"text"`
	}{"Text", p.Text})
}

type ExpressionPart struct{ Expr Expression }

func (ExpressionPart) isTemplatePart() {}
func (p ExpressionPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PartType string     `json:"part_type"`
		Expr     Expression `json:"expr"`
	}{"Expression", p.Expr})
}

// TemplateString is an ordered concatenation of literal-text and
// expression parts, rendered at trigger time.
type TemplateString struct {
	Parts []TemplatePart
}

// NewLiteralTemplate builds a TemplateString with a single literal part.
func NewLiteralTemplate(s string) TemplateString {
	return TemplateString{Parts: []TemplatePart{TextPart{Text: s}}}
}

func (t TemplateString) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Parts []TemplatePart `json:"parts"`
	}{t.Parts})
}

// NotifyChannel is an optional delivery channel hint for a Notify action.
type NotifyChannel int

const (
	ChannelPush NotifyChannel = iota
	ChannelEmail
	ChannelSms
)

var notifyChannelWire = map[NotifyChannel]string{ChannelPush: "push", ChannelEmail: "email", ChannelSms: "sms"}

func (c NotifyChannel) String() string              { return notifyChannelWire[c] }
func (c NotifyChannel) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// NotifyPriority is an optional priority hint for a Notify action.
type NotifyPriority int

const (
	PriorityLow NotifyPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var notifyPriorityWire = map[NotifyPriority]string{
	PriorityLow: "low", PriorityNormal: "normal", PriorityHigh: "high", PriorityCritical: "critical",
}

func (p NotifyPriority) String() string              { return notifyPriorityWire[p] }
func (p NotifyPriority) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// HTTPMethod is an optional HTTP verb for a Webhook action.
type HTTPMethod int

const (
	MethodGet HTTPMethod = iota
	MethodPost
	MethodPut
	MethodDelete
)

var httpMethodWire = map[HTTPMethod]string{
	MethodGet: "GET", MethodPost: "POST", MethodPut: "PUT", MethodDelete: "DELETE",
}

func (m HTTPMethod) String() string              { return httpMethodWire[m] }
func (m HTTPMethod) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// LogLevel is an optional severity hint for a Log action.
type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelWarn
	LevelError
)

var logLevelWire = map[LogLevel]string{LevelInfo: "info", LevelWarn: "warn", LevelError: "error"}

func (l LogLevel) String() string              { return logLevelWire[l] }
func (l LogLevel) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// Action is one of Notify, Webhook, Log, or SetVariable.
type Action interface {
	isAction()
	json.Marshaler
}

type NotifyAction struct {
	Message  TemplateString
	Channel  *NotifyChannel
	Priority *NotifyPriority
}

func (NotifyAction) isAction() {}
func (a NotifyAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ActionType string          `json:"action_type"`
		Message    TemplateString  `json:"message"`
		Channel    *NotifyChannel  `json:"channel,omitempty"`
		Priority   *NotifyPriority `json:"priority,omitempty"`
	}{"notify", a.Message, a.Channel, a.Priority})
}

// HeaderPair preserves insertion order of webhook headers (Rust's
// Vec<(String,String)> rather than a map).
type HeaderPair struct{ Key, Value string }

type WebhookAction struct {
	URL     string
	Method  *HTTPMethod
	Headers []HeaderPair
	Body    *TemplateString
}

func (WebhookAction) isAction() {}
func (a WebhookAction) MarshalJSON() ([]byte, error) {
	var headers any
	if a.Headers != nil {
		pairs := make([][2]string, len(a.Headers))
		for i, h := range a.Headers {
			pairs[i] = [2]string{h.Key, h.Value}
		}
		headers = pairs
	}
	return json.Marshal(struct {
		ActionType string          `json:"action_type"`
		URL        string          `json:"url"`
		Method     *HTTPMethod     `json:"method,omitempty"`
		Headers    any             `json:"headers,omitempty"`
		Body       *TemplateString `json:"body,omitempty"`
	}{"webhook", a.URL, a.Method, headers, a.Body})
}

type LogAction struct {
	Message TemplateString
	Level   *LogLevel
}

func (LogAction) isAction() {}
func (a LogAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ActionType string         `json:"action_type"`
		Message    TemplateString `json:"message"`
		Level      *LogLevel      `json:"level,omitempty"`
	}{"log", a.Message, a.Level})
}

// SetVariableAction is parsed but always yields a Skipped ActionResult at
// evaluation (Non-goal per spec.md §1).
type SetVariableAction struct {
	Name  string
	Value Expression
}

func (SetVariableAction) isAction() {}
func (a SetVariableAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ActionType string     `json:"action_type"`
		Name       string     `json:"name"`
		Value      Expression `json:"value"`
	}{"set_variable", a.Name, a.Value})
}
