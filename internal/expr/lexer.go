package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tPath
	tNumber
	tString
	tIdent
	tOp
	tLParen
	tRParen
	tComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression body (without the surrounding braces) into tokens.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tComma, ",", i})
			i++
		case c == '$':
			end := scanPath(src, i)
			toks = append(toks, token{tPath, src[i:end], i})
			i = end
		case c == '"' || c == '\'':
			end, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tString, src[i:end], i})
			i = end
		case c == '-' || (c >= '0' && c <= '9'):
			end := i + 1
			for end < len(src) && strings.ContainsRune("0123456789.eE+-", rune(src[end])) {
				if (src[end] == '+' || src[end] == '-') && src[end-1] != 'e' && src[end-1] != 'E' {
					break
				}
				end++
			}
			toks = append(toks, token{tNumber, src[i:end], i})
			i = end
		case isIdentStart(c):
			end := i + 1
			for end < len(src) && (isIdentStart(src[end]) || unicode.IsDigit(rune(src[end]))) {
				end++
			}
			toks = append(toks, token{tIdent, src[i:end], i})
			i = end
		default:
			op := ""
			for _, cand := range []string{"==", "!=", "<=", ">=", "&&", "||", "!", "<", ">"} {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
			}
			toks = append(toks, token{tOp, op, i})
			i += len(op)
		}
	}
	toks = append(toks, token{tEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// scanPath returns the end of a JSONPath starting at i. Brackets and quoted
// segments are consumed whole.
func scanPath(src string, i int) int {
	depth := 0
	var quote byte
	for j := i; j < len(src); j++ {
		c := src[j]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case '\'', '"':
			if depth > 0 {
				quote = c
			}
		case ' ', '\t', '\n', '\r', ')', ',', '=', '!', '&', '|', '<', '>':
			if depth == 0 {
				return j
			}
		}
	}
	return len(src)
}

func scanString(src string, i int) (int, error) {
	q := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q:
			return j + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, i)
}
