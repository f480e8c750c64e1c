package expr

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
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) skipSpace() {
	for {
		r, ok := l.peekRune()
		if !ok || !isSpace(r) {
			return
		}
		l.pos++
	}
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isAlpha(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isAlnum(r rune) bool { return isAlpha(r) || isDigit(r) }

// next scans and consumes the next token.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	r, ok := l.peekRune()
	if !ok {
		return token{kind: tokEOF, pos: start}, nil
	}

	switch {
	case r == '?' || r == '$':
		l.pos++
		nameStart := l.pos
		for {
			r, ok := l.peekRune()
			if !ok || !isAlnum(r) && r != '.' {
				break
			}
			l.pos++
		}
		return token{kind: tokVariable, text: string(l.src[nameStart:l.pos]), pos: start}, nil

	case r == '"':
		return l.scanString(start)

	case isDigit(r):
		return l.scanNumber(start)

	case isAlpha(r):
		for {
			r, ok := l.peekRune()
			if !ok || !isAlnum(r) && r != '.' {
				break
			}
			l.pos++
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos]), pos: start}, nil

	default:
		return l.scanPunct(start)
	}
}

func (l *lexer) scanString(start int) (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		r, ok := l.peekRune()
		if !ok {
			return token{}, rerr.ParseError(start, l.window(start), "unterminated string literal")
		}
		if r == '"' {
			l.pos++
			break
		}
		if r == '\\' {
			l.pos++
			esc, ok := l.peekRune()
			if !ok {
				return token{}, rerr.ParseError(start, l.window(start), "unterminated escape in string literal")
			}
			l.pos++
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
					l.pos += 2
				}
			default:
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(r)
		l.pos++
	}
	return token{kind: tokString, text: sb.String(), pos: start}, nil
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

func (l *lexer) scanNumber(start int) (token, error) {
	for {
		r, ok := l.peekRune()
		if !ok || !isDigit(r) {
			break
		}
		l.pos++
	}
	if r, ok := l.peekRune(); ok && r == '.' {
		if next := l.pos + 1; next < len(l.src) && isDigit(l.src[next]) {
			l.pos++
			for {
				r, ok := l.peekRune()
				if !ok || !isDigit(r) {
					break
				}
				l.pos++
			}
		}
	}
	return token{kind: tokNumber, text: string(l.src[start:l.pos]), pos: start}, nil
}

var punctuators = []string{
	"&&", "||", "==", "!=", "<=", ">=", "!", "<", ">", "+", "-", "*", "/", "%", "(", ")", ",",
}

func (l *lexer) scanPunct(start int) (token, error) {
	rest := string(l.src[start:])
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			l.pos += len([]rune(p))
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}
	return token{}, rerr.ParseError(start, l.window(start), "unexpected character %q", string(l.src[start]))
}

// window returns surrounding source for a ParseError, per spec §4.B.
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
