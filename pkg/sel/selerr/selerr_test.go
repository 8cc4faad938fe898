package selerr

import (
	"errors"
	"strings"
	"testing"
)

func TestLexerErrorMessage(t *testing.T) {
	err := Lexer("unexpected character '!'", 3, 7)
	var le *LexerError
	if !errors.As(err, &le) {
		t.Fatalf("Lexer() did not return a *LexerError: %T", err)
	}
	if le.Line != 3 || le.Column != 7 {
		t.Fatalf("got line=%d column=%d, want line=3 column=7", le.Line, le.Column)
	}
	if !strings.Contains(err.Error(), "line 3, column 7") {
		t.Fatalf("error message missing position: %q", err.Error())
	}
}

func TestParserErrorMessage(t *testing.T) {
	err := Parser("expected ')'", 1, 1)
	if !strings.HasPrefix(err.Error(), "parser error at line 1, column 1") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCompilerAndValidationAndRuntimeErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{Compiler("bad shape"), "compiler error: bad shape"},
		{Validation("undefined variable"), "validation error: undefined variable"},
		{Runtime("Division by zero"), "runtime error: Division by zero"},
	}
	for _, c := range cases {
		if c.err.Error() != c.want {
			t.Errorf("got %q, want %q", c.err.Error(), c.want)
		}
	}
}
