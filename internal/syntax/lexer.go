package syntax

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Lexer splits source text into tokens. It counts every newline it
// consumes, including newlines inside strings and comments, so callers
// can report accurate line numbers without retaining positions per token.
type Lexer struct {
	src []byte
	off int
	nl  int
}

// NewLexer returns a Lexer over src.
func NewLexer(src []byte) *Lexer {
	return &Lexer{src: src}
}

// Newlines returns the count of newline characters consumed so far.
func (lx *Lexer) Newlines() int { return lx.nl }

// Offset returns the byte offset of the next unread character.
func (lx *Lexer) Offset() int { return lx.off }

// multi-character operators, longest first within each length class.
var ops3 = []string{"...", "===", "!=="}
var ops2 = []string{
	"==", "!=", "<=", ">=", "&&", "||", "->", "=>", "::",
	"+=", "-=", "*=", "/=", "^=", "%=", "|=", "&=", "<:", ">:",
	"<<", ">>", "//",
}

const singleOps = "+-*/^%=<>!&|:,.()[]{}?~"

// Next returns the next token. At end of input it returns a TokenEOF
// token with a nil error.
func (lx *Lexer) Next() (Token, error) {
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			lx.off++
		case c == '#':
			if err := lx.comment(); err != nil {
				return Token{}, err
			}
		default:
			goto scan
		}
	}
scan:
	if lx.off >= len(lx.src) {
		return Token{Kind: TokenEOF}, nil
	}

	c := lx.src[lx.off]
	switch {
	case c == '\n':
		lx.off++
		lx.nl++
		return Token{Kind: TokenNewline, Text: "\n"}, nil
	case c == ';':
		lx.off++
		return Token{Kind: TokenSemi, Text: ";"}, nil
	case c == '"':
		return lx.str()
	case c >= '0' && c <= '9':
		return lx.number(), nil
	case c == '@' || identStart(rune(c)) || c >= utf8.RuneSelf:
		return lx.ident()
	}

	// Operators, longest match first.
	rest := lx.src[lx.off:]
	for _, op := range ops3 {
		if hasPrefix(rest, op) {
			lx.off += 3
			return Token{Kind: TokenOp, Text: op}, nil
		}
	}
	for _, op := range ops2 {
		if hasPrefix(rest, op) {
			lx.off += 2
			return Token{Kind: TokenOp, Text: op}, nil
		}
	}
	for i := 0; i < len(singleOps); i++ {
		if c == singleOps[i] {
			lx.off++
			return Token{Kind: TokenOp, Text: string(c)}, nil
		}
	}
	return Token{}, fmt.Errorf("unexpected character %q", rune(c))
}

// comment consumes a '#' line comment or a nestable '#= =#' block comment.
func (lx *Lexer) comment() error {
	if lx.off+1 < len(lx.src) && lx.src[lx.off+1] == '=' {
		lx.off += 2
		depth := 1
		for lx.off < len(lx.src) {
			switch {
			case lx.src[lx.off] == '\n':
				lx.nl++
				lx.off++
			case hasPrefix(lx.src[lx.off:], "#="):
				depth++
				lx.off += 2
			case hasPrefix(lx.src[lx.off:], "=#"):
				depth--
				lx.off += 2
				if depth == 0 {
					return nil
				}
			default:
				lx.off++
			}
		}
		return fmt.Errorf("unterminated block comment")
	}
	for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
		lx.off++
	}
	return nil
}

// str consumes a string literal, either "..." on one line or a
// triple-quoted """...""" block. Text keeps the quotes verbatim.
func (lx *Lexer) str() (Token, error) {
	start := lx.off
	if hasPrefix(lx.src[lx.off:], `"""`) {
		lx.off += 3
		for lx.off < len(lx.src) {
			if hasPrefix(lx.src[lx.off:], `"""`) {
				lx.off += 3
				return Token{Kind: TokenString, Text: string(lx.src[start:lx.off])}, nil
			}
			if lx.src[lx.off] == '\\' && lx.off+1 < len(lx.src) {
				lx.off++
			}
			if lx.src[lx.off] == '\n' {
				lx.nl++
			}
			lx.off++
		}
		return Token{}, fmt.Errorf("unterminated string literal")
	}
	lx.off++
	for lx.off < len(lx.src) {
		switch lx.src[lx.off] {
		case '\\':
			lx.off += 2
		case '"':
			lx.off++
			return Token{Kind: TokenString, Text: string(lx.src[start:lx.off])}, nil
		case '\n':
			return Token{}, fmt.Errorf("unterminated string literal")
		default:
			lx.off++
		}
	}
	return Token{}, fmt.Errorf("unterminated string literal")
}

// number consumes an integer or float literal, including 0x/0o/0b forms,
// '_' digit separators, and e/E exponents.
func (lx *Lexer) number() Token {
	start := lx.off
	if hasPrefix(lx.src[lx.off:], "0x") || hasPrefix(lx.src[lx.off:], "0o") || hasPrefix(lx.src[lx.off:], "0b") {
		lx.off += 2
		for lx.off < len(lx.src) && (isHexDigit(lx.src[lx.off]) || lx.src[lx.off] == '_') {
			lx.off++
		}
		return Token{Kind: TokenNumber, Text: string(lx.src[start:lx.off])}
	}
	for lx.off < len(lx.src) && (isDigit(lx.src[lx.off]) || lx.src[lx.off] == '_') {
		lx.off++
	}
	if lx.off+1 < len(lx.src) && lx.src[lx.off] == '.' && isDigit(lx.src[lx.off+1]) {
		lx.off++
		for lx.off < len(lx.src) && (isDigit(lx.src[lx.off]) || lx.src[lx.off] == '_') {
			lx.off++
		}
	}
	if lx.off < len(lx.src) && (lx.src[lx.off] == 'e' || lx.src[lx.off] == 'E') {
		mark := lx.off
		lx.off++
		if lx.off < len(lx.src) && (lx.src[lx.off] == '+' || lx.src[lx.off] == '-') {
			lx.off++
		}
		if lx.off < len(lx.src) && isDigit(lx.src[lx.off]) {
			for lx.off < len(lx.src) && isDigit(lx.src[lx.off]) {
				lx.off++
			}
		} else {
			lx.off = mark
		}
	}
	return Token{Kind: TokenNumber, Text: string(lx.src[start:lx.off])}
}

// ident consumes an identifier, keyword, or '@'-prefixed reference like
// @__FILE__. Identifier tails may contain '!' in the trailing position
// convention of the tracked language.
func (lx *Lexer) ident() (Token, error) {
	start := lx.off
	if lx.src[lx.off] == '@' {
		lx.off++
		if lx.off >= len(lx.src) || !identStartByte(lx.src[lx.off]) {
			return Token{}, fmt.Errorf("expected identifier after '@'")
		}
	}
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		if c < utf8.RuneSelf {
			if identPart(rune(c)) {
				lx.off++
				continue
			}
			break
		}
		r, size := utf8.DecodeRune(lx.src[lx.off:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.off += size
	}
	text := string(lx.src[start:lx.off])
	if text[0] != '@' && keywords[text] {
		return Token{Kind: TokenKeyword, Text: text}, nil
	}
	return Token{Kind: TokenIdent, Text: text}, nil
}

func identStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func identStartByte(c byte) bool {
	return c == '_' || c >= utf8.RuneSelf ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identPart(r rune) bool {
	return r == '_' || r == '!' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hasPrefix(b []byte, s string) bool {
	if len(b) < len(s) {
		return false
	}
	return string(b[:len(s)]) == s
}
