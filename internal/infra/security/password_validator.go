package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/gerizimschools-star/netsafi-iam/internal/core/domain"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) error

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator applies a sequence of password rules.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

// ValidatorFromPolicy builds a validator from the currently active security
// policy. Rules toggled off in the policy are simply not added, so the
// validator always reflects runtime configuration rather than compile-time
// constants.
func ValidatorFromPolicy(cfg domain.SecurityConfig) *PasswordValidator {
	rules := []PasswordRule{MinLengthRule(cfg.PasswordMinLength)}
	if cfg.PasswordRequireUppercase {
		rules = append(rules, RequireUppercaseRule())
	}
	if cfg.PasswordRequireLowercase {
		rules = append(rules, RequireLowercaseRule())
	}
	if cfg.PasswordRequireNumbers {
		rules = append(rules, RequireDigitRule())
	}
	if cfg.PasswordRequireSymbols {
		rules = append(rules, RequireSymbolRule())
	}
	if cfg.PasswordMinStrengthScore > 0 {
		// The zxcvbn floor runs last so composition violations surface first.
		rules = append(rules, RequirePasswordStrengthRule(cfg.PasswordMinStrengthScore))
	}
	return NewPasswordValidator(rules...)
}

// Validate executes all rules and returns the first encountered violation.
func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireUppercaseRule ensures the password contains an uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return requireClassRule("uppercase", "password must include at least one uppercase letter", unicode.IsUpper)
}

// RequireLowercaseRule ensures the password contains a lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return requireClassRule("lowercase", "password must include at least one lowercase letter", unicode.IsLower)
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return requireClassRule("digit", "password must include at least one number", unicode.IsDigit)
}

// RequireSymbolRule ensures the password contains at least one symbol or punctuation mark.
func RequireSymbolRule() PasswordRule {
	return requireClassRule("symbol", "password must include at least one symbol", func(r rune) bool {
		return unicode.IsSymbol(r) || unicode.IsPunct(r)
	})
}

func requireClassRule(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		for _, r := range password {
			if match(r) {
				return nil
			}
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score to reject weak
// passwords regardless of character-class composition.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(password, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}

const (
	uppercaseChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowercaseChars = "abcdefghijkmnpqrstuvwxyz"
	digitChars     = "23456789"
	symbolChars    = "!@#$%^&*-_=+"
)

// GeneratePolicyPassword synthesizes a random password guaranteed to satisfy
// every rule enabled in the supplied policy: it seeds one character from each
// required class before filling the remainder.
func GeneratePolicyPassword(cfg domain.SecurityConfig) (string, error) {
	length := cfg.PasswordMinLength
	if length < 12 {
		length = 12
	}

	pool := lowercaseChars + digitChars
	var seeded []byte

	pick := func(set string) (byte, error) {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return 0, fmt.Errorf("generate password: %w", err)
		}
		return set[idx.Int64()], nil
	}

	seed := func(set string) error {
		c, err := pick(set)
		if err != nil {
			return err
		}
		seeded = append(seeded, c)
		pool += set
		return nil
	}

	if cfg.PasswordRequireUppercase {
		if err := seed(uppercaseChars); err != nil {
			return "", err
		}
	}
	if cfg.PasswordRequireLowercase {
		if err := seed(lowercaseChars); err != nil {
			return "", err
		}
	}
	if cfg.PasswordRequireNumbers {
		if err := seed(digitChars); err != nil {
			return "", err
		}
	}
	if cfg.PasswordRequireSymbols {
		if err := seed(symbolChars); err != nil {
			return "", err
		}
	}

	for len(seeded) < length {
		c, err := pick(pool)
		if err != nil {
			return "", err
		}
		seeded = append(seeded, c)
	}

	// Shuffle so seeded class characters do not cluster at the front.
	for i := len(seeded) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		seeded[i], seeded[j.Int64()] = seeded[j.Int64()], seeded[i]
	}

	return strings.TrimSpace(string(seeded)), nil
}
