// Package token defines the lexical token kinds produced by the SEL lexer.
package token

// Type identifies the lexical category of a Token.
type Type int

const (
	ILLEGAL Type = iota
	EOF

	// Layout
	NEWLINE
	INDENT
	DEDENT

	// Literals
	IDENT    // generic identifier
	METRIC   // metric name (pv_power, battery_soc, ...)
	FUNCTION // aggregate function name (AVG, SUM, ...)
	VARIABLE // $name
	NUMBER   // plain or unit-suffixed number (the unit text is kept in Literal)
	PERCENT  // number before a bare '%'
	STRING   // quoted string
	TIME     // HH:MM
	DURATION // number + duration suffix

	// Operators
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT_OP // modulo
	ASSIGN     // =
	EQ
	NEQ
	LT
	LTE
	GT
	GTE

	// Structural
	LPAREN
	RPAREN
	COMMA
	COLON
	DOT
	DOTDOT

	// Keywords
	ON
	EVERY
	AT
	DURING
	BETWEEN
	AND
	OR
	NOT
	NOTIFY
	WEBHOOK
	LOG
	SET
	COOLDOWN
	IS
	UNUSUAL
	COMPARED
	TO
	RISING
	FALLING
	STABLE
)

var names = map[Type]string{
	ILLEGAL:    "ILLEGAL",
	EOF:        "EOF",
	NEWLINE:    "NEWLINE",
	INDENT:     "INDENT",
	DEDENT:     "DEDENT",
	IDENT:      "IDENT",
	METRIC:     "METRIC",
	FUNCTION:   "FUNCTION",
	VARIABLE:   "VARIABLE",
	NUMBER:     "NUMBER",
	PERCENT:    "PERCENT",
	STRING:     "STRING",
	TIME:       "TIME",
	DURATION:   "DURATION",
	PLUS:       "PLUS",
	MINUS:      "MINUS",
	STAR:       "STAR",
	SLASH:      "SLASH",
	PERCENT_OP: "PERCENT_OP",
	ASSIGN:     "ASSIGN",
	EQ:         "EQ",
	NEQ:        "NEQ",
	LT:         "LT",
	LTE:        "LTE",
	GT:         "GT",
	GTE:        "GTE",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	COMMA:      "COMMA",
	COLON:      "COLON",
	DOT:        "DOT",
	DOTDOT:     "DOTDOT",
	ON:         "ON",
	EVERY:      "EVERY",
	AT:         "AT",
	DURING:     "DURING",
	BETWEEN:    "BETWEEN",
	AND:        "AND",
	OR:         "OR",
	NOT:        "NOT",
	NOTIFY:     "NOTIFY",
	WEBHOOK:    "WEBHOOK",
	LOG:        "LOG",
	SET:        "SET",
	COOLDOWN:   "COOLDOWN",
	IS:         "IS",
	UNUSUAL:    "UNUSUAL",
	COMPARED:   "COMPARED",
	TO:         "TO",
	RISING:     "RISING",
	FALLING:    "FALLING",
	STABLE:     "STABLE",
}

func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Keywords maps the uppercased spelling of a keyword to its Type.
var Keywords = map[string]Type{
	"ON":       ON,
	"EVERY":    EVERY,
	"AT":       AT,
	"DURING":   DURING,
	"BETWEEN":  BETWEEN,
	"AND":      AND,
	"OR":       OR,
	"NOT":      NOT,
	"NOTIFY":   NOTIFY,
	"WEBHOOK":  WEBHOOK,
	"LOG":      LOG,
	"SET":      SET,
	"COOLDOWN": COOLDOWN,
	"IS":       IS,
	"UNUSUAL":  UNUSUAL,
	"COMPARED": COMPARED,
	"TO":       TO,
	"RISING":   RISING,
	"FALLING":  FALLING,
	"STABLE":   STABLE,
}

// Functions lists the recognized aggregate function names, uppercased.
var Functions = map[string]bool{
	"AVG":        true,
	"MEDIAN":     true,
	"SUM":        true,
	"MIN":        true,
	"MAX":        true,
	"COUNT":      true,
	"STDDEV":     true,
	"TREND":      true,
	"PERCENTILE": true,
}

// Metrics lists the seven fixed telemetry signal names, lowercased.
var Metrics = map[string]bool{
	"pv_power":     true,
	"battery_power": true,
	"battery_soc":  true,
	"grid_power":   true,
	"grid_import":  true,
	"grid_export":  true,
	"load_power":   true,
}

// Token is a single lexical token with its source position.
type Token struct {
	Type    Type
	Literal string
	Line    int
	Column  int
}
