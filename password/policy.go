package password

import (
	"fmt"
	"unicode"

	passwordvalidator "github.com/wagslane/go-password-validator"
)

// Violation is one failed policy rule, suitable for display to the user.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) String() string {
	return v.Message
}

// PolicyConfig configures the password strength rules.
type PolicyConfig struct {
	MinLength int
	// RequireCategoryMix demands 3 of 4 character categories (upper, lower,
	// digit, symbol). Disabled by default: the length rule alone is
	// authoritative unless an integrator opts in.
	RequireCategoryMix bool
	// MinEntropyBits, when > 0, enforces an entropy floor on top of the
	// other rules.
	MinEntropyBits float64
}

// Policy is a stateless, deterministic password validator.
type Policy struct {
	config PolicyConfig
}

// NewPolicy returns a Policy for the given rules. A zero MinLength falls
// back to 12.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 12
	}
	return &Policy{config: cfg}
}

// Validate returns every rule the candidate violates, or nil when it
// passes. Length is counted in runes so multibyte passwords are not
// penalized.
func (p *Policy) Validate(candidate string) []Violation {
	var violations []Violation

	if length := len([]rune(candidate)); length < p.config.MinLength {
		violations = append(violations, Violation{
			Rule:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters", p.config.MinLength),
		})
	}

	if p.config.RequireCategoryMix {
		if categories(candidate) < 3 {
			violations = append(violations, Violation{
				Rule:    "category_mix",
				Message: "password must mix at least 3 of: uppercase, lowercase, digits, symbols",
			})
		}
	}

	if p.config.MinEntropyBits > 0 {
		if err := passwordvalidator.Validate(candidate, p.config.MinEntropyBits); err != nil {
			violations = append(violations, Violation{
				Rule:    "min_entropy",
				Message: "password is too predictable",
			})
		}
	}

	return violations
}

func categories(s string) int {
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	count := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			count++
		}
	}
	return count
}
