package compiler

import "testing"

func TestScannerPunctuation(t *testing.T) {
	input := `( ) { } , . - + ; / * ! != = == > >= < <=`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLeftParen, "("},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenRightBrace, "}"},
		{TokenComma, ","},
		{TokenDot, "."},
		{TokenMinus, "-"},
		{TokenPlus, "+"},
		{TokenSemicolon, ";"},
		{TokenSlash, "/"},
		{TokenStar, "*"},
		{TokenBang, "!"},
		{TokenBangEqual, "!="},
		{TokenEqual, "="},
		{TokenEqualEqual, "=="},
		{TokenGreater, ">"},
		{TokenGreaterEqual, ">="},
		{TokenLess, "<"},
		{TokenLessEqual, "<="},
		{TokenEOF, ""},
	}

	s := NewScanner(input)
	for i, exp := range expected {
		tok := s.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestScannerKeywordsAndIdentifiers(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{"and", TokenAnd},
		{"class", TokenClass},
		{"else", TokenElse},
		{"false", TokenFalse},
		{"for", TokenFor},
		{"fun", TokenFun},
		{"if", TokenIf},
		{"nil", TokenNil},
		{"or", TokenOr},
		{"print", TokenPrint},
		{"return", TokenReturn},
		{"super", TokenSuper},
		{"this", TokenThis},
		{"true", TokenTrue},
		{"var", TokenVar},
		{"while", TokenWhile},
		{"andy", TokenIdentifier},
		{"_private", TokenIdentifier},
		{"x1", TokenIdentifier},
		{"Class", TokenIdentifier},
	}
	for _, tt := range tests {
		tok := NewScanner(tt.input).NextToken()
		if tok.Type != tt.want {
			t.Errorf("%q: type = %v, want %v", tt.input, tok.Type, tt.want)
		}
		if tok.Literal != tt.input {
			t.Errorf("%q: literal = %q", tt.input, tok.Literal)
		}
	}
}

func TestScannerNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"42", []string{"42"}},
		{"3.14", []string{"3.14"}},
		{"7.", []string{"7", "."}},
		{".5", []string{".", "5"}},
	}
	for _, tt := range tests {
		tokens := Tokenize(tt.input)
		if len(tokens) != len(tt.want)+1 {
			t.Errorf("%q: got %d tokens, want %d", tt.input, len(tokens)-1, len(tt.want))
			continue
		}
		for i, lit := range tt.want {
			if tokens[i].Literal != lit {
				t.Errorf("%q token %d = %q, want %q", tt.input, i, tokens[i].Literal, lit)
			}
		}
	}
}

func TestScannerStrings(t *testing.T) {
	tok := NewScanner(`"hello world"`).NextToken()
	if tok.Type != TokenString || tok.Literal != `"hello world"` {
		t.Errorf("got %v, want STRING with quotes", tok)
	}

	s := NewScanner("\"one\ntwo\" x")
	tok = s.NextToken()
	if tok.Type != TokenString || tok.Line != 2 {
		t.Errorf("multi-line string = %v, want STRING ending on line 2", tok)
	}
	if next := s.NextToken(); next.Line != 2 {
		t.Errorf("token after string on line %d, want 2", next.Line)
	}

	tok = NewScanner(`"open`).NextToken()
	if tok.Type != TokenError || tok.Literal != "Unterminated string." {
		t.Errorf("unterminated string = %v", tok)
	}
}

func TestScannerCommentsAndLines(t *testing.T) {
	input := "var a; // comment ( ) {\n\n  print a;\n"
	tokens := Tokenize(input)

	wantLines := []int{1, 1, 1, 3, 3, 3, 4}
	if len(tokens) != len(wantLines) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(wantLines), tokens)
	}
	for i, tok := range tokens {
		if tok.Line != wantLines[i] {
			t.Errorf("token %v on line %d, want %d", tok, tok.Line, wantLines[i])
		}
	}
}

func TestScannerUnexpectedCharacter(t *testing.T) {
	tokens := Tokenize("a @ b")
	if tokens[1].Type != TokenError || tokens[1].Literal != "Unexpected character." {
		t.Errorf("tokens[1] = %v, want error token", tokens[1])
	}
	if tokens[2].Type != TokenIdentifier {
		t.Errorf("scanning did not resume after the error: %v", tokens[2])
	}
}

func TestScannerEOFRepeats(t *testing.T) {
	s := NewScanner("")
	for i := 0; i < 3; i++ {
		if tok := s.NextToken(); tok.Type != TokenEOF {
			t.Fatalf("call %d: %v, want EOF", i, tok)
		}
	}
}
