// Package grl implements the GRL textual rule/query language front-end of
// spec §4.C: a recursive-descent parser turning rule, query, and module
// declarations into the internal/kb and internal/backward forms the two
// inference engines consume, plus an fsnotify-based hot-reload loader.
//
// The lexer/parser shape (rune scanner, token peek/advance,
// precedence-climbing for the boolean connectives) mirrors internal/expr's,
// extended here with line tracking and comment skipping that a whole-file
// grammar needs and a bare expression grammar doesn't.
package grl

import (
	"strings"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokVariable
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
	line int
}

type lexer struct {
	src  []rune
	pos  int
	line int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src), line: 1} }

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) advanceRune() {
	if l.pos < len(l.src) && l.src[l.pos] == '\n' {
		l.line++
	}
	l.pos++
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isAlpha(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isAlnum(r rune) bool { return isAlpha(r) || isDigit(r) }

// skipSpaceAndComments consumes whitespace and `//`, `/* */`, and `;;`
// comments (spec §4.C's GRL file format), in any order and repetition.
func (l *lexer) skipSpaceAndComments() {
	for {
		r, ok := l.peekRune()
		if !ok {
			return
		}
		if isSpace(r) {
			l.advanceRune()
			continue
		}
		if r == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for {
				r, ok := l.peekRune()
				if !ok || r == '\n' {
					break
				}
				l.advanceRune()
			}
			continue
		}
		if r == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*' {
			l.advanceRune()
			l.advanceRune()
			for {
				r, ok := l.peekRune()
				if !ok {
					break
				}
				if r == '*' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
					l.advanceRune()
					l.advanceRune()
					break
				}
				l.advanceRune()
			}
			continue
		}
		if r == ';' && l.pos+1 < len(l.src) && l.src[l.pos+1] == ';' {
			for {
				r, ok := l.peekRune()
				if !ok || r == '\n' {
					break
				}
				l.advanceRune()
			}
			continue
		}
		return
	}
}

// next scans and consumes the next token.
func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	start := l.pos
	startLine := l.line
	r, ok := l.peekRune()
	if !ok {
		return token{kind: tokEOF, pos: start, line: startLine}, nil
	}

	switch {
	case r == '?' || r == '$':
		l.advanceRune()
		nameStart := l.pos
		for {
			r, ok := l.peekRune()
			if !ok || !isAlnum(r) && r != '.' {
				break
			}
			l.advanceRune()
		}
		return token{kind: tokVariable, text: string(l.src[nameStart:l.pos]), pos: start, line: startLine}, nil

	case r == '"':
		return l.scanString(start, startLine)

	case isDigit(r):
		return l.scanNumber(start, startLine)

	case isAlpha(r):
		for {
			r, ok := l.peekRune()
			// A '-' followed by a letter continues the word, so attribute
			// keywords like "no-loop" and "max-depth" lex as one identifier.
			hyphenWord := r == '-' && l.pos+1 < len(l.src) && isAlpha(l.src[l.pos+1])
			if !ok || !isAlnum(r) && r != '.' && !hyphenWord {
				break
			}
			l.advanceRune()
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos]), pos: start, line: startLine}, nil

	default:
		return l.scanPunct(start, startLine)
	}
}

func (l *lexer) scanString(start, startLine int) (token, error) {
	l.advanceRune() // opening quote
	var sb strings.Builder
	for {
		r, ok := l.peekRune()
		if !ok {
			return token{}, rerr.ParseError(start, l.window(start), "unterminated string literal")
		}
		if r == '"' {
			l.advanceRune()
			break
		}
		if r == '\\' {
			l.advanceRune()
			esc, ok := l.peekRune()
			if !ok {
				return token{}, rerr.ParseError(start, l.window(start), "unterminated escape in string literal")
			}
			l.advanceRune()
			switch esc {
			case '"':
				sb.WriteRune('"')
			case '\\':
				sb.WriteRune('\\')
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'x':
				if l.pos+1 < len(l.src) {
					sb.WriteRune(rune(hexNibble(l.src[l.pos])*16 + hexNibble(l.src[l.pos+1])))
					l.advanceRune()
					l.advanceRune()
				}
			default:
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(r)
		l.advanceRune()
	}
	return token{kind: tokString, text: sb.String(), pos: start, line: startLine}, nil
}

func hexNibble(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	}
	return 0
}

func (l *lexer) scanNumber(start, startLine int) (token, error) {
	for {
		r, ok := l.peekRune()
		if !ok || !isDigit(r) {
			break
		}
		l.advanceRune()
	}
	if r, ok := l.peekRune(); ok && r == '.' {
		if next := l.pos + 1; next < len(l.src) && isDigit(l.src[next]) {
			l.advanceRune()
			for {
				r, ok := l.peekRune()
				if !ok || !isDigit(r) {
					break
				}
				l.advanceRune()
			}
		}
	}
	return token{kind: tokNumber, text: string(l.src[start:l.pos]), pos: start, line: startLine}, nil
}

// punctuators is ordered longest-prefix-first so two-character operators
// like "==" are matched before their single-character prefix "=".
var punctuators = []string{
	"&&", "||", "==", "!=", "<=", ">=",
	"=", "!", "<", ">", "+", "-", "*", "/", "%",
	"(", ")", "{", "}", ",", ";", ":",
}

func (l *lexer) scanPunct(start, startLine int) (token, error) {
	rest := string(l.src[start:])
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			l.pos += len([]rune(p))
			return token{kind: tokPunct, text: p, pos: start, line: startLine}, nil
		}
	}
	return token{}, rerr.ParseError(start, l.window(start), "unexpected character %q", string(l.src[start]))
}

// window returns surrounding source for a ParseError, per spec §4.C.
func (l *lexer) window(pos int) string {
	lo := pos - 16
	if lo < 0 {
		lo = 0
	}
	hi := pos + 16
	if hi > len(l.src) {
		hi = len(l.src)
	}
	return string(l.src[lo:hi])
}
