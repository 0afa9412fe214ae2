package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	// totpSkew allows two steps of clock drift either side (~±60s).
	totpSkew = 2
)

// TwoFactorSecret bundles everything a principal needs to enrol an
// authenticator app plus the fallback backup codes.
type TwoFactorSecret struct {
	Secret          string
	ProvisioningURI string
	ManualEntryKey  string
	BackupCodes     []string
}

// GenerateTwoFactorSecret creates a fresh TOTP secret for the identity along
// with its provisioning URI and ten single-use backup codes.
func GenerateTwoFactorSecret(issuer, identity string) (*TwoFactorSecret, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if issuer == "" {
		issuer = "netsafi"
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: identity,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	codes, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	return &TwoFactorSecret{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		ManualEntryKey:  formatManualEntryKey(key.Secret()),
		BackupCodes:     codes,
	}, nil
}

// SecondFactorResult reports the outcome of a token verification attempt.
type SecondFactorResult struct {
	Valid          bool
	UsedBackupCode bool
	// BackupCodeHash identifies the consumed code so the caller removes it
	// from the stored set.
	BackupCodeHash string
}

// VerifySecondFactor checks the token against the TOTP secret allowing clock
// drift, then falls back to the backup-code hashes. Backup-code comparison is
// whitespace and case insensitive.
func VerifySecondFactor(secret, token string, backupCodeHashes []string, at time.Time) (SecondFactorResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SecondFactorResult{}, fmt.Errorf("token is required")
	}

	if secret != "" {
		// ValidateCustom errors on tokens that are not six digits, which is
		// exactly what a backup code looks like. Any error counts as a
		// non-match so the token still reaches the backup-code scan.
		valid, err := totp.ValidateCustom(token, secret, at, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      totpSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && valid {
			return SecondFactorResult{Valid: true}, nil
		}
	}

	normalized := NormalizeBackupCode(token)
	if normalized == "" {
		return SecondFactorResult{}, nil
	}
	candidate := HashToken(normalized)
	for _, hash := range backupCodeHashes {
		if hash == candidate {
			return SecondFactorResult{
				Valid:          true,
				UsedBackupCode: true,
				BackupCodeHash: hash,
			}, nil
		}
	}

	return SecondFactorResult{}, nil
}

// GenerateTOTPCode computes the current code for a secret. Used by tests and
// the setup confirmation flow.
func GenerateTOTPCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

func formatManualEntryKey(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
