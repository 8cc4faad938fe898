// Package lexer tokenizes SEL source text into a stream of token.Token
// values, tracking significant indentation and unit-suffixed numeric
// literals along the way.
package lexer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sourceful/sel/pkg/sel/selerr"
	"github.com/sourceful/sel/pkg/sel/token"
)

// Lexer scans SEL source text into tokens. It is single-use: construct with
// New and call Tokenize once.
type Lexer struct {
	input       []rune
	pos         int
	line        int
	column      int
	indentStack []int
	tokens      []token.Token
}

// New creates a Lexer over source.
func New(source string) *Lexer {
	return &Lexer{
		input:       []rune(source),
		pos:         0,
		line:        1,
		column:      1,
		indentStack: []int{0},
	}
}

func (l *Lexer) peekChar() (rune, bool) {
	if l.pos >= len(l.input) {
		return 0, false
	}
	return l.input[l.pos], true
}

func (l *Lexer) peekCharAt(offset int) (rune, bool) {
	i := l.pos + offset
	if i >= len(l.input) {
		return 0, false
	}
	return l.input[i], true
}

func (l *Lexer) advance() rune {
	ch := l.input[l.pos]
	l.pos++
	l.column++
	return ch
}

func (l *Lexer) addToken(typ token.Type, literal string, line, column int) {
	l.tokens = append(l.tokens, token.Token{Type: typ, Literal: literal, Line: line, Column: column})
}

// Tokenize runs the lexer to completion and returns the full token stream,
// terminated by a single EOF token.
func (l *Lexer) Tokenize() ([]token.Token, error) {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		startLine, startCol := l.line, l.column

		switch {
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.pos++
			l.column++

		case ch == '\n':
			l.pos++
			l.addToken(token.NEWLINE, "\\n", startLine, startCol)
			l.line++
			l.column = 1
			l.handleIndentation()

		case ch == '(':
			l.pos++
			l.addToken(token.LPAREN, "(", startLine, startCol)
			l.column++
		case ch == ')':
			l.pos++
			l.addToken(token.RPAREN, ")", startLine, startCol)
			l.column++
		case ch == ',':
			l.pos++
			l.addToken(token.COMMA, ",", startLine, startCol)
			l.column++
		case ch == ':':
			l.pos++
			l.addToken(token.COLON, ":", startLine, startCol)
			l.column++
		case ch == '+':
			l.pos++
			l.addToken(token.PLUS, "+", startLine, startCol)
			l.column++
		case ch == '-':
			l.pos++
			l.addToken(token.MINUS, "-", startLine, startCol)
			l.column++
		case ch == '*':
			l.pos++
			l.addToken(token.STAR, "*", startLine, startCol)
			l.column++
		case ch == '%':
			l.pos++
			l.addToken(token.PERCENT_OP, "%", startLine, startCol)
			l.column++

		case ch == '.':
			l.pos++
			l.column++
			if next, ok := l.peekChar(); ok && next == '.' {
				l.pos++
				l.column++
				l.addToken(token.DOTDOT, "..", startLine, startCol)
			} else {
				l.addToken(token.DOT, ".", startLine, startCol)
			}

		case ch == '=':
			l.pos++
			l.column++
			if next, ok := l.peekChar(); ok && next == '=' {
				l.pos++
				l.column++
				l.addToken(token.EQ, "==", startLine, startCol)
			} else {
				l.addToken(token.ASSIGN, "=", startLine, startCol)
			}

		case ch == '!':
			l.pos++
			l.column++
			if next, ok := l.peekChar(); ok && next == '=' {
				l.pos++
				l.column++
				l.addToken(token.NEQ, "!=", startLine, startCol)
			} else {
				return nil, selerr.Lexer("unexpected character '!'", l.line, startCol)
			}

		case ch == '<':
			l.pos++
			l.column++
			if next, ok := l.peekChar(); ok && next == '=' {
				l.pos++
				l.column++
				l.addToken(token.LTE, "<=", startLine, startCol)
			} else {
				l.addToken(token.LT, "<", startLine, startCol)
			}

		case ch == '>':
			l.pos++
			l.column++
			if next, ok := l.peekChar(); ok && next == '=' {
				l.pos++
				l.column++
				l.addToken(token.GTE, ">=", startLine, startCol)
			} else {
				l.addToken(token.GT, ">", startLine, startCol)
			}

		case ch == '/':
			if next, ok := l.peekCharAt(1); ok && next == '/' {
				l.skipLineComment()
			} else {
				l.pos++
				l.addToken(token.SLASH, "/", startLine, startCol)
				l.column++
			}

		case ch == '#':
			l.skipLineComment()

		case ch == '"' || ch == '\'':
			if err := l.readString(ch, startLine, startCol); err != nil {
				return nil, err
			}

		case ch == '$':
			if err := l.readVariable(startLine, startCol); err != nil {
				return nil, err
			}

		case unicode.IsDigit(ch):
			if err := l.readNumber(startLine, startCol); err != nil {
				return nil, err
			}

		case unicode.IsLetter(ch) || ch == '_':
			l.readIdentifier(startLine, startCol)

		default:
			return nil, selerr.Lexer(fmt.Sprintf("unexpected character '%c'", ch), l.line, startCol)
		}
	}

	l.addToken(token.EOF, "", l.line, l.column)
	return l.tokens, nil
}

func (l *Lexer) skipLineComment() {
	for {
		ch, ok := l.peekChar()
		if !ok || ch == '\n' {
			return
		}
		l.pos++
		l.column++
	}
}

func (l *Lexer) readString(quote rune, startLine, startCol int) error {
	l.pos++ // consume opening quote
	l.column++
	var sb strings.Builder

	for {
		ch, ok := l.peekChar()
		if !ok {
			return selerr.Lexer("unterminated string", startLine, startCol)
		}
		l.pos++
		l.column++
		if ch == quote {
			l.addToken(token.STRING, sb.String(), startLine, startCol)
			return nil
		}
		if ch == '\n' {
			return selerr.Lexer("unterminated string", startLine, startCol)
		}
		sb.WriteRune(ch)
	}
}

func (l *Lexer) readVariable(startLine, startCol int) error {
	l.pos++ // consume '$'
	l.column++
	var sb strings.Builder

	for {
		ch, ok := l.peekChar()
		if !ok || !(unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_') {
			break
		}
		sb.WriteRune(ch)
		l.pos++
		l.column++
	}

	if sb.Len() == 0 {
		return selerr.Lexer("expected variable name after $", startLine, startCol)
	}

	l.addToken(token.VARIABLE, sb.String(), startLine, startCol)
	return nil
}

func (l *Lexer) readNumber(startLine, startCol int) error {
	start := l.pos
	l.pos++
	l.column++

	for {
		ch, ok := l.peekChar()
		if !ok || !(unicode.IsDigit(ch) || ch == '.') {
			break
		}
		l.pos++
		l.column++
	}

	numStr := string(l.input[start:l.pos])

	// Time literal: number followed by ':' followed by digits.
	if ch, ok := l.peekChar(); ok && ch == ':' {
		colonCol := l.column
		savedPos := l.pos
		l.pos++ // tentatively consume ':'
		l.column++

		if next, ok := l.peekChar(); ok && unicode.IsDigit(next) {
			for {
				d, ok := l.peekChar()
				if !ok || !unicode.IsDigit(d) {
					break
				}
				l.pos++
				l.column++
			}
			timeStr := string(l.input[start:l.pos])
			l.addToken(token.TIME, timeStr, startLine, startCol)
			return nil
		}

		// Not a time literal: backtrack the colon and emit Number + Colon
		// separately. The synthesized Colon token's column is derived from
		// where the colon was first seen, not re-measured after backtrack;
		// this is a deliberately preserved quirk (see DESIGN.md).
		l.pos = savedPos
		l.column = colonCol
		l.pos++
		l.column++
		l.addToken(token.NUMBER, numStr, startLine, startCol)
		l.addToken(token.COLON, ":", startLine, l.column-1)
		return nil
	}

	// Percent literal.
	if ch, ok := l.peekChar(); ok && ch == '%' {
		l.pos++
		l.column++
		l.addToken(token.PERCENT, numStr, startLine, startCol)
		return nil
	}

	// Unit suffix: an alphabetic run.
	unitStart := l.pos
	for {
		ch, ok := l.peekChar()
		if !ok || !unicode.IsLetter(ch) {
			break
		}
		l.pos++
		l.column++
	}
	unit := string(l.input[unitStart:l.pos])

	switch {
	case isPowerOrEnergyUnit(unit):
		l.addToken(token.NUMBER, numStr+unit, startLine, startCol)
	case isDurationUnit(unit):
		l.addToken(token.DURATION, numStr+unit, startLine, startCol)
	case unit != "":
		// Unrecognized unit: keep as a plain Number whose text includes the
		// suffix; the parser's value() will fail to classify it and fall
		// back to a bare Number per the grammar's documented edge case.
		l.addToken(token.NUMBER, numStr+unit, startLine, startCol)
	default:
		l.addToken(token.NUMBER, numStr, startLine, startCol)
	}
	return nil
}

func (l *Lexer) readIdentifier(startLine, startCol int) {
	start := l.pos
	l.pos++
	l.column++

	for {
		ch, ok := l.peekChar()
		if !ok || !(unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_') {
			break
		}
		l.pos++
		l.column++
	}

	text := string(l.input[start:l.pos])
	upper := strings.ToUpper(text)

	if kw, ok := token.Keywords[upper]; ok {
		l.addToken(kw, text, startLine, startCol)
		return
	}
	if token.Functions[upper] {
		l.addToken(token.FUNCTION, text, startLine, startCol)
		return
	}
	if token.Metrics[strings.ToLower(text)] {
		l.addToken(token.METRIC, text, startLine, startCol)
		return
	}
	l.addToken(token.IDENT, text, startLine, startCol)
}

func (l *Lexer) handleIndentation() {
	spaces := 0
	for {
		ch, ok := l.peekChar()
		if !ok {
			break
		}
		switch ch {
		case ' ':
			spaces++
			l.pos++
			l.column++
			continue
		case '\t':
			spaces += 4
			l.pos++
			l.column++
			continue
		}
		break
	}

	// Blank and comment-only lines do not affect the indent stack.
	ch, ok := l.peekChar()
	if !ok {
		return
	}
	if ch == '\n' || ch == '\r' || ch == '#' {
		return
	}
	if next, ok := l.peekCharAt(1); ok && ch == '/' && next == '/' {
		return
	}

	current := l.indentStack[len(l.indentStack)-1]
	if spaces > current {
		l.indentStack = append(l.indentStack, spaces)
		l.addToken(token.INDENT, "", l.line, l.column)
	} else if spaces < current {
		for len(l.indentStack) > 1 && l.indentStack[len(l.indentStack)-1] > spaces {
			l.indentStack = l.indentStack[:len(l.indentStack)-1]
			l.addToken(token.DEDENT, "", l.line, l.column)
		}
	}
}

func isPowerOrEnergyUnit(s string) bool {
	switch s {
	case "W", "kW", "MW", "Wh", "kWh", "MWh":
		return true
	}
	return false
}

func isDurationUnit(s string) bool {
	switch strings.ToLower(s) {
	case "min", "hour", "day", "week", "month", "h", "d", "s", "sec", "m", "w":
		return true
	}
	return false
}
