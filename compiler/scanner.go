package compiler

// ---------------------------------------------------------------------------
// Scanner: on-demand tokenizer for Lox source
// ---------------------------------------------------------------------------

// Scanner produces one token per call to NextToken. It works on bytes;
// Lox identifiers and operators are ASCII, and string literals pass other
// bytes through untouched.
type Scanner struct {
	input   string
	start   int // start of the current token
	current int // next byte to read
	line    int // current line (1-based)
}

// NewScanner creates a scanner for input.
func NewScanner(input string) *Scanner {
	return &Scanner{input: input, line: 1}
}

func (s *Scanner) atEnd() bool {
	return s.current >= len(s.input)
}

func (s *Scanner) advance() byte {
	c := s.input[s.current]
	s.current++
	return c
}

func (s *Scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.input[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.input) {
		return 0
	}
	return s.input[s.current+1]
}

func (s *Scanner) match(expected byte) bool {
	if s.atEnd() || s.input[s.current] != expected {
		return false
	}
	s.current++
	return true
}

func (s *Scanner) makeToken(typ TokenType) Token {
	return Token{Type: typ, Literal: s.input[s.start:s.current], Line: s.line}
}

func (s *Scanner) errorToken(message string) Token {
	return Token{Type: TokenError, Literal: message, Line: s.line}
}

// NextToken returns the next token. After the input is exhausted it keeps
// returning TokenEOF.
func (s *Scanner) NextToken() Token {
	s.skipWhitespace()
	s.start = s.current

	if s.atEnd() {
		return s.makeToken(TokenEOF)
	}

	c := s.advance()
	switch {
	case isAlpha(c):
		return s.identifier()
	case isDigit(c):
		return s.scanNumber()
	}

	switch c {
	case '(':
		return s.makeToken(TokenLeftParen)
	case ')':
		return s.makeToken(TokenRightParen)
	case '{':
		return s.makeToken(TokenLeftBrace)
	case '}':
		return s.makeToken(TokenRightBrace)
	case ';':
		return s.makeToken(TokenSemicolon)
	case ',':
		return s.makeToken(TokenComma)
	case '.':
		return s.makeToken(TokenDot)
	case '-':
		return s.makeToken(TokenMinus)
	case '+':
		return s.makeToken(TokenPlus)
	case '/':
		return s.makeToken(TokenSlash)
	case '*':
		return s.makeToken(TokenStar)
	case '!':
		return s.twoChar('=', TokenBangEqual, TokenBang)
	case '=':
		return s.twoChar('=', TokenEqualEqual, TokenEqual)
	case '<':
		return s.twoChar('=', TokenLessEqual, TokenLess)
	case '>':
		return s.twoChar('=', TokenGreaterEqual, TokenGreater)
	case '"':
		return s.scanString()
	}

	return s.errorToken("Unexpected character.")
}

func (s *Scanner) twoChar(next byte, matched, single TokenType) Token {
	if s.match(next) {
		return s.makeToken(matched)
	}
	return s.makeToken(single)
}

// skipWhitespace skips blanks, newlines and // comments.
func (s *Scanner) skipWhitespace() {
	for {
		switch s.peek() {
		case ' ', '\r', '\t':
			s.advance()
		case '\n':
			s.line++
			s.advance()
		case '/':
			if s.peekNext() != '/' {
				return
			}
			for s.peek() != '\n' && !s.atEnd() {
				s.advance()
			}
		default:
			return
		}
	}
}

func (s *Scanner) scanString() Token {
	for s.peek() != '"' && !s.atEnd() {
		if s.peek() == '\n' {
			s.line++
		}
		s.advance()
	}
	if s.atEnd() {
		return s.errorToken("Unterminated string.")
	}
	s.advance() // closing quote
	return s.makeToken(TokenString)
}

func (s *Scanner) scanNumber() Token {
	for isDigit(s.peek()) {
		s.advance()
	}
	// A fractional part needs a digit after the dot.
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	return s.makeToken(TokenNumber)
}

func (s *Scanner) identifier() Token {
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.advance()
	}
	return s.makeToken(LookupIdent(s.input[s.start:s.current]))
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Tokenize scans all of input, including the final TokenEOF.
func Tokenize(input string) []Token {
	s := NewScanner(input)
	var tokens []Token
	for {
		tok := s.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
