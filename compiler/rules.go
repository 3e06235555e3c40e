package compiler

// precedence orders binding strength from loosest to tightest.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

// rules is filled in init because the parse functions refer back to it.
var rules [tokenTypeCount]parseRule

func init() {
	rules = [tokenTypeCount]parseRule{
		TokenLeftParen:    {(*Compiler).grouping, (*Compiler).call, precCall},
		TokenDot:          {nil, (*Compiler).dot, precCall},
		TokenMinus:        {(*Compiler).unary, (*Compiler).binary, precTerm},
		TokenPlus:         {nil, (*Compiler).binary, precTerm},
		TokenSlash:        {nil, (*Compiler).binary, precFactor},
		TokenStar:         {nil, (*Compiler).binary, precFactor},
		TokenBang:         {(*Compiler).unary, nil, precNone},
		TokenBangEqual:    {nil, (*Compiler).binary, precEquality},
		TokenEqualEqual:   {nil, (*Compiler).binary, precEquality},
		TokenGreater:      {nil, (*Compiler).binary, precComparison},
		TokenGreaterEqual: {nil, (*Compiler).binary, precComparison},
		TokenLess:         {nil, (*Compiler).binary, precComparison},
		TokenLessEqual:    {nil, (*Compiler).binary, precComparison},
		TokenIdentifier:   {(*Compiler).variable, nil, precNone},
		TokenString:       {(*Compiler).stringLiteral, nil, precNone},
		TokenNumber:       {(*Compiler).number, nil, precNone},
		TokenAnd:          {nil, (*Compiler).and, precAnd},
		TokenOr:           {nil, (*Compiler).or, precOr},
		TokenFalse:        {(*Compiler).literal, nil, precNone},
		TokenNil:          {(*Compiler).literal, nil, precNone},
		TokenTrue:         {(*Compiler).literal, nil, precNone},
		TokenSuper:        {(*Compiler).super, nil, precNone},
		TokenThis:         {(*Compiler).this, nil, precNone},
	}
}

func getRule(typ TokenType) *parseRule {
	return &rules[typ]
}
