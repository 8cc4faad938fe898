// Package parser builds a Program AST from a SEL token stream via
// recursive descent, following the precedence layering spec.md §4.2
// specifies explicitly (this is not a Pratt/precedence-table parser).
package parser

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/lexer"
	"github.com/sourceful/sel/pkg/sel/selerr"
	"github.com/sourceful/sel/pkg/sel/token"
)

// Parser consumes a token stream and produces an ast.Program. Newline
// tokens are filtered out at construction time; layout is carried entirely
// by Indent/Dedent, matching the original's "filter out newlines for
// easier parsing" comment.
type Parser struct {
	tokens  []token.Token
	current int
}

// New constructs a Parser over tokens, discarding NEWLINE tokens.
func New(tokens []token.Token) *Parser {
	filtered := make([]token.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Type != token.NEWLINE {
			filtered = append(filtered, t)
		}
	}
	return &Parser{tokens: filtered}
}

// Parse parses a full program from source text.
func Parse(source string) (*ast.Program, error) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		return nil, err
	}
	return New(tokens).ParseProgram()
}

// ParseProgram runs the top-level parse loop.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	program := ast.NewProgram()

	for !p.isAtEnd() {
		switch p.peek().Type {
		case token.VARIABLE:
			if p.checkNext(token.ASSIGN) {
				v, err := p.variableDeclaration()
				if err != nil {
					return nil, err
				}
				program.Variables = append(program.Variables, v)
			} else {
				p.advance()
			}
		case token.ON:
			r, err := p.eventRule()
			if err != nil {
				return nil, err
			}
			program.Rules = append(program.Rules, r)
		case token.EVERY:
			r, err := p.scheduleRule()
			if err != nil {
				return nil, err
			}
			program.Rules = append(program.Rules, r)
		case token.EOF:
			return program, nil
		default:
			p.advance()
		}
	}

	return program, nil
}

// ── variables ───────────────────────────────────────────────────────────

func (p *Parser) variableDeclaration() (ast.Variable, error) {
	name, err := p.consume(token.VARIABLE, "expected variable name")
	if err != nil {
		return ast.Variable{}, err
	}
	if _, err := p.consume(token.ASSIGN, "expected '='"); err != nil {
		return ast.Variable{}, err
	}
	value, err := p.value()
	if err != nil {
		return ast.Variable{}, err
	}
	return ast.Variable{Name: name.Literal, Value: value}, nil
}

func (p *Parser) value() (ast.Value, error) {
	t := p.advance()

	switch t.Type {
	case token.NUMBER:
		num, unit := parseNumberWithUnit(t.Literal)
		switch unit {
		case "W":
			return ast.PowerValue{Watts: num}, nil
		case "kW":
			return ast.PowerValue{Watts: num * 1000}, nil
		case "MW":
			return ast.PowerValue{Watts: num * 1_000_000}, nil
		case "Wh":
			return ast.EnergyValue{WattHours: num}, nil
		case "kWh":
			return ast.EnergyValue{WattHours: num * 1000}, nil
		case "MWh":
			return ast.EnergyValue{WattHours: num * 1_000_000}, nil
		default:
			return ast.NumberValue{N: num}, nil
		}
	case token.PERCENT:
		num, _ := strconv.ParseFloat(t.Literal, 64)
		return ast.PercentValue{P: num}, nil
	case token.DURATION:
		return ast.DurationValue{Seconds: parseDuration(t.Literal)}, nil
	case token.TIME:
		h, m := parseTime(t.Literal)
		return ast.TimeValue{Hour: h, Minute: m}, nil
	case token.STRING:
		return ast.StringValue{S: t.Literal}, nil
	default:
		return nil, p.errorAt(t, "expected value")
	}
}

// ── event rules ─────────────────────────────────────────────────────────

func (p *Parser) eventRule() (ast.EventRule, error) {
	if _, err := p.consume(token.ON, "expected 'ON'"); err != nil {
		return ast.EventRule{}, err
	}
	cond, err := p.condition()
	if err != nil {
		return ast.EventRule{}, err
	}

	var actions []ast.Action
	var cooldown *uint64

	if p.check(token.INDENT) {
		p.advance()
		for !p.check(token.DEDENT) && !p.isAtEnd() {
			switch {
			case p.check(token.NOTIFY):
				a, err := p.notifyAction()
				if err != nil {
					return ast.EventRule{}, err
				}
				actions = append(actions, a)
			case p.check(token.WEBHOOK):
				a, err := p.webhookAction()
				if err != nil {
					return ast.EventRule{}, err
				}
				actions = append(actions, a)
			case p.check(token.LOG):
				a, err := p.logAction()
				if err != nil {
					return ast.EventRule{}, err
				}
				actions = append(actions, a)
			case p.check(token.COOLDOWN):
				c, err := p.cooldown()
				if err != nil {
					return ast.EventRule{}, err
				}
				cooldown = &c
			default:
				goto doneBlock
			}
		}
	doneBlock:
		if p.check(token.DEDENT) {
			p.advance()
		}
	} else {
		if p.check(token.NOTIFY) {
			a, err := p.notifyAction()
			if err != nil {
				return ast.EventRule{}, err
			}
			actions = append(actions, a)
		}
		if p.check(token.WEBHOOK) {
			a, err := p.webhookAction()
			if err != nil {
				return ast.EventRule{}, err
			}
			actions = append(actions, a)
		}
		if p.check(token.LOG) {
			a, err := p.logAction()
			if err != nil {
				return ast.EventRule{}, err
			}
			actions = append(actions, a)
		}
		if p.check(token.COOLDOWN) {
			c, err := p.cooldown()
			if err != nil {
				return ast.EventRule{}, err
			}
			cooldown = &c
		}
	}

	return ast.EventRule{
		ID:              generateID(),
		Condition:       cond,
		Actions:         actions,
		CooldownSeconds: cooldown,
		Enabled:         true,
	}, nil
}

// ── schedule rules ──────────────────────────────────────────────────────

func (p *Parser) scheduleRule() (ast.ScheduleRule, error) {
	if _, err := p.consume(token.EVERY, "expected 'EVERY'"); err != nil {
		return ast.ScheduleRule{}, err
	}
	sched, err := p.schedule()
	if err != nil {
		return ast.ScheduleRule{}, err
	}

	var actions []ast.Action

	if p.check(token.INDENT) {
		p.advance()
		for !p.check(token.DEDENT) && !p.isAtEnd() {
			switch {
			case p.check(token.NOTIFY):
				a, err := p.notifyAction()
				if err != nil {
					return ast.ScheduleRule{}, err
				}
				actions = append(actions, a)
			case p.check(token.WEBHOOK):
				a, err := p.webhookAction()
				if err != nil {
					return ast.ScheduleRule{}, err
				}
				actions = append(actions, a)
			case p.check(token.LOG):
				a, err := p.logAction()
				if err != nil {
					return ast.ScheduleRule{}, err
				}
				actions = append(actions, a)
			default:
				goto doneBlock
			}
		}
	doneBlock:
		if p.check(token.DEDENT) {
			p.advance()
		}
	} else if p.check(token.NOTIFY) {
		a, err := p.notifyAction()
		if err != nil {
			return ast.ScheduleRule{}, err
		}
		actions = append(actions, a)
	} else if p.check(token.LOG) {
		a, err := p.logAction()
		if err != nil {
			return ast.ScheduleRule{}, err
		}
		actions = append(actions, a)
	}

	return ast.ScheduleRule{
		ID:       generateID(),
		Schedule: sched,
		Actions:  actions,
		Enabled:  true,
	}, nil
}

var weekdayByName = map[string]uint8{
	"monday": 1, "tuesday": 2, "wednesday": 3, "thursday": 4,
	"friday": 5, "saturday": 6, "sunday": 7,
}

func (p *Parser) schedule() (ast.Schedule, error) {
	frequency := ast.Daily
	at := ast.TimeOfDay{}
	var on *uint8

	if p.check(token.IDENT) || p.check(token.DURATION) {
		t := p.advance()
		text := strings.ToLower(t.Literal)

		switch text {
		case "day", "daily":
			frequency = ast.Daily
		case "week", "weekly":
			frequency = ast.Weekly
		case "month", "monthly":
			frequency = ast.Monthly
		default:
			if wd, ok := weekdayByName[text]; ok {
				w := wd
				on = &w
				frequency = ast.Weekly
			} else {
				frequency = ast.Daily
			}
		}
	}

	if p.matchToken(token.AT) {
		if p.check(token.TIME) {
			h, m := parseTime(p.advance().Literal)
			at = ast.TimeOfDay{Hour: h, Minute: m}
		}
	}

	return ast.CalendarSchedule{Frequency: frequency, At: at, On: on}, nil
}

// ── conditions ──────────────────────────────────────────────────────────

func (p *Parser) condition() (ast.Condition, error) {
	return p.orCondition()
}

func (p *Parser) orCondition() (ast.Condition, error) {
	left, err := p.andCondition()
	if err != nil {
		return nil, err
	}
	for p.matchToken(token.OR) {
		right, err := p.andCondition()
		if err != nil {
			return nil, err
		}
		left = ast.LogicalCondition{Operator: ast.LogicalOr, Conditions: []ast.Condition{left, right}}
	}
	return left, nil
}

func (p *Parser) andCondition() (ast.Condition, error) {
	left, err := p.unaryCondition()
	if err != nil {
		return nil, err
	}
	for p.matchToken(token.AND) {
		right, err := p.unaryCondition()
		if err != nil {
			return nil, err
		}
		left = ast.LogicalCondition{Operator: ast.LogicalAnd, Conditions: []ast.Condition{left, right}}
	}
	return left, nil
}

func (p *Parser) unaryCondition() (ast.Condition, error) {
	if p.matchToken(token.NOT) {
		cond, err := p.unaryCondition()
		if err != nil {
			return nil, err
		}
		return ast.LogicalCondition{Operator: ast.LogicalNot, Conditions: []ast.Condition{cond}}, nil
	}
	return p.primaryCondition()
}

func (p *Parser) primaryCondition() (ast.Condition, error) {
	if p.matchToken(token.LPAREN) {
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(token.RPAREN, "expected ')'"); err != nil {
			return nil, err
		}
		return cond, nil
	}

	expr, err := p.expression()
	if err != nil {
		return nil, err
	}

	if p.check(token.RISING) || p.check(token.FALLING) || p.check(token.STABLE) {
		tok := p.advance()
		var dir ast.TrendDirection
		switch tok.Type {
		case token.RISING:
			dir = ast.Rising
		case token.FALLING:
			dir = ast.Falling
		default:
			dir = ast.Stable
		}

		metricExpr, ok := expr.(ast.MetricExpr)
		if !ok {
			return nil, p.errorAt(tok, "expected metric for trend condition")
		}
		return ast.TrendCondition{Metric: metricExpr.Metric, Direction: dir}, nil
	}

	if p.matchToken(token.IS) {
		if p.matchToken(token.UNUSUAL) {
			if _, err := p.consume(token.COMPARED, "expected 'COMPARED'"); err != nil {
				return nil, err
			}
			if _, err := p.consume(token.TO, "expected 'TO'"); err != nil {
				return nil, err
			}

			period := uint64(86400 * 7)
			if p.check(token.DURATION) {
				period = parseDuration(p.advance().Literal)
			}

			metricExpr, ok := expr.(ast.MetricExpr)
			if !ok {
				return nil, p.errorAt(p.peek(), "expected metric for anomaly condition")
			}
			return ast.AnomalyCondition{Metric: metricExpr.Metric, PeriodSeconds: period, Sensitivity: 2.0}, nil
		}
	}

	op, err := p.comparisonOp()
	if err != nil {
		return nil, err
	}
	right, err := p.expression()
	if err != nil {
		return nil, err
	}
	return ast.ComparisonCondition{Left: expr, Operator: op, Right: right}, nil
}

func (p *Parser) comparisonOp() (ast.ComparisonOp, error) {
	t := p.advance()
	switch t.Type {
	case token.EQ:
		return ast.Equal, nil
	case token.NEQ:
		return ast.NotEqual, nil
	case token.LT:
		return ast.LessThan, nil
	case token.LTE:
		return ast.LessThanOrEqual, nil
	case token.GT:
		return ast.GreaterThan, nil
	case token.GTE:
		return ast.GreaterThanOrEqual, nil
	default:
		return 0, p.errorAt(t, "expected comparison operator")
	}
}

// ── expressions ─────────────────────────────────────────────────────────

func (p *Parser) expression() (ast.Expression, error) {
	return p.additive()
}

func (p *Parser) additive() (ast.Expression, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := ast.Add
		if p.advance().Type != token.PLUS {
			op = ast.Subtract
		}
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

func (p *Parser) multiplicative() (ast.Expression, error) {
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.check(token.STAR) || p.check(token.SLASH) || p.check(token.PERCENT_OP) {
		var op ast.BinaryOp
		switch p.advance().Type {
		case token.STAR:
			op = ast.Multiply
		case token.SLASH:
			op = ast.Divide
		default:
			op = ast.Modulo
		}
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

func (p *Parser) primary() (ast.Expression, error) {
	if p.check(token.FUNCTION) {
		return p.functionCall()
	}

	if p.check(token.METRIC) {
		name := p.advance().Literal
		m, ok := ast.ParseMetric(name)
		if !ok {
			return nil, p.errorAt(p.previous(), "unknown metric")
		}
		return ast.MetricExpr{Metric: m}, nil
	}

	if p.check(token.VARIABLE) {
		return ast.VariableRef{Name: p.advance().Literal}, nil
	}

	if p.check(token.NUMBER) || p.check(token.PERCENT) {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return ast.LiteralExpr{Value: v}, nil
	}

	if p.matchToken(token.LPAREN) {
		expr, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(token.RPAREN, "expected ')'"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	return nil, p.errorAt(p.peek(), "expected expression")
}

func (p *Parser) functionCall() (ast.Expression, error) {
	nameTok, err := p.consume(token.FUNCTION, "expected function")
	if err != nil {
		return nil, err
	}
	fn, ok := ast.ParseFunction(nameTok.Literal)
	if !ok {
		return nil, p.errorAt(nameTok, "unknown function")
	}

	if _, err := p.consume(token.LPAREN, "expected '('"); err != nil {
		return nil, err
	}

	var args []ast.Expression
	var period *uint64

	if !p.check(token.RPAREN) {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		if p.matchToken(token.COMMA) {
			if p.check(token.DURATION) || p.check(token.IDENT) {
				d := parseDuration(p.advance().Literal)
				period = &d
			} else {
				arg2, err := p.expression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg2)
			}
		}
	}

	if _, err := p.consume(token.RPAREN, "expected ')'"); err != nil {
		return nil, err
	}

	return ast.FunctionCall{Name: fn, Args: args, PeriodSeconds: period}, nil
}

// ── actions ─────────────────────────────────────────────────────────────

func (p *Parser) notifyAction() (ast.Action, error) {
	if _, err := p.consume(token.NOTIFY, "expected 'NOTIFY'"); err != nil {
		return nil, err
	}
	msgTok, err := p.consume(token.STRING, "expected message string")
	if err != nil {
		return nil, err
	}
	tmpl, err := p.parseTemplate(msgTok)
	if err != nil {
		return nil, err
	}
	return ast.NotifyAction{Message: tmpl}, nil
}

func (p *Parser) webhookAction() (ast.Action, error) {
	if _, err := p.consume(token.WEBHOOK, "expected 'WEBHOOK'"); err != nil {
		return nil, err
	}
	urlTok, err := p.consume(token.STRING, "expected URL string")
	if err != nil {
		return nil, err
	}
	return ast.WebhookAction{URL: urlTok.Literal}, nil
}

func (p *Parser) logAction() (ast.Action, error) {
	if _, err := p.consume(token.LOG, "expected 'LOG'"); err != nil {
		return nil, err
	}
	msgTok, err := p.consume(token.STRING, "expected message string")
	if err != nil {
		return nil, err
	}
	tmpl, err := p.parseTemplate(msgTok)
	if err != nil {
		return nil, err
	}
	return ast.LogAction{Message: tmpl}, nil
}

func (p *Parser) cooldown() (uint64, error) {
	if _, err := p.consume(token.COOLDOWN, "expected 'COOLDOWN'"); err != nil {
		return 0, err
	}
	tok, err := p.consume(token.DURATION, "expected duration")
	if err != nil {
		return 0, err
	}
	return parseDuration(tok.Literal), nil
}

// parseTemplate scans a string literal for `{expr}` placeholders and
// parses each one as a full expression, producing alternating Text and
// Expression parts. A literal containing no braces round-trips as a single
// Text part (spec.md §9's explicit round-trip requirement).
func (p *Parser) parseTemplate(strTok token.Token) (ast.TemplateString, error) {
	raw := strTok.Literal
	if !strings.ContainsAny(raw, "{}") {
		return ast.NewLiteralTemplate(raw), nil
	}

	var parts []ast.TemplatePart
	var text strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] == '{' {
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				// No matching close brace: treat the rest as literal text.
				text.WriteString(raw[i:])
				break
			}
			if text.Len() > 0 {
				parts = append(parts, ast.TextPart{Text: text.String()})
				text.Reset()
			}
			inner := raw[i+1 : i+1+end]
			expr, err := p.parseEmbeddedExpression(inner, strTok)
			if err != nil {
				return ast.TemplateString{}, err
			}
			parts = append(parts, ast.ExpressionPart{Expr: expr})
			i = i + 1 + end + 1
			continue
		}
		text.WriteByte(raw[i])
		i++
	}
	if text.Len() > 0 {
		parts = append(parts, ast.TextPart{Text: text.String()})
	}
	if len(parts) == 0 {
		parts = []ast.TemplatePart{ast.TextPart{Text: ""}}
	}
	return ast.TemplateString{Parts: parts}, nil
}

func (p *Parser) parseEmbeddedExpression(text string, owner token.Token) (ast.Expression, error) {
	tokens, err := lexer.New(text).Tokenize()
	if err != nil {
		return nil, selerr.Parser("invalid template expression: "+err.Error(), owner.Line, owner.Column)
	}
	sub := New(tokens)
	expr, err := sub.expression()
	if err != nil {
		return nil, err
	}
	if !sub.isAtEnd() {
		return nil, selerr.Parser("unexpected trailing tokens in template expression", owner.Line, owner.Column)
	}
	return expr, nil
}

// ── cursor helpers ──────────────────────────────────────────────────────

func (p *Parser) peek() token.Token { return p.tokens[p.current] }

func (p *Parser) previous() token.Token { return p.tokens[p.current-1] }

func (p *Parser) check(t token.Type) bool {
	return !p.isAtEnd() && p.peek().Type == t
}

func (p *Parser) checkNext(t token.Type) bool {
	return p.current+1 < len(p.tokens) && p.tokens[p.current+1].Type == t
}

func (p *Parser) matchToken(t token.Type) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) advance() token.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.tokens[p.current-1]
}

func (p *Parser) consume(t token.Type, msg string) (token.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return token.Token{}, p.errorAt(p.peek(), msg)
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == token.EOF
}

func (p *Parser) errorAt(t token.Token, msg string) error {
	return selerr.Parser(msg, t.Line, t.Column)
}

// ── literal helpers ─────────────────────────────────────────────────────

func generateID() string {
	return "rule_" + uuid.NewString()
}

func parseNumberWithUnit(s string) (float64, string) {
	end := 0
	for i, c := range s {
		if (c >= '0' && c <= '9') || c == '.' {
			end = i + 1
		} else {
			break
		}
	}
	num, _ := strconv.ParseFloat(s[:end], 64)
	return num, s[end:]
}

func parseDuration(s string) uint64 {
	num, unit := parseNumberWithUnit(s)
	n := uint64(num)

	switch strings.ToLower(unit) {
	case "s", "sec":
		return n
	case "min", "m":
		return n * 60
	case "hour", "h":
		return n * 3600
	case "day", "d":
		return n * 86400
	case "week", "w":
		return n * 604800
	case "month":
		return n * 2592000
	case "today":
		return 86400
	default:
		return n * 60
	}
}

func parseTime(s string) (uint8, uint8) {
	parts := strings.SplitN(s, ":", 2)
	var h, m uint64
	if len(parts) > 0 {
		h, _ = strconv.ParseUint(parts[0], 10, 8)
	}
	if len(parts) > 1 {
		m, _ = strconv.ParseUint(parts[1], 10, 8)
	}
	return uint8(h), uint8(m)
}
