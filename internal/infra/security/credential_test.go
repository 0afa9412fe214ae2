package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestKeyProvider writes a fresh RSA key pair into a temp directory and
// loads it through FileKeyProvider.
func newTestKeyProvider(t *testing.T) *FileKeyProvider {
	t.Helper()

	tmpDir := t.TempDir()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(filepath.Join(tmpDir, "primary.pem"), privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	provider, err := NewFileKeyProvider(tmpDir)
	if err != nil {
		t.Fatalf("create key provider: %v", err)
	}
	return provider
}

func TestCredentialIssueAndParse(t *testing.T) {
	provider := newTestKeyProvider(t)
	issuer, err := NewCredentialIssuer(provider, provider.SigningKID(), "netsafi-iam", time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}

	at := time.Now().UTC()
	token, err := issuer.Issue("principal-1", "admin", at)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.PrincipalID != "principal-1" {
		t.Fatalf("expected principal-1, got %s", claims.PrincipalID)
	}
	if claims.PrincipalKind != "admin" {
		t.Fatalf("expected admin kind, got %s", claims.PrincipalKind)
	}
}

func TestCredentialParseExpired(t *testing.T) {
	provider := newTestKeyProvider(t)
	issuer, err := NewCredentialIssuer(provider, provider.SigningKID(), "netsafi-iam", time.Minute)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}

	token, err := issuer.Issue("principal-1", "customer", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if _, err := issuer.Parse(token); !errors.Is(err, ErrExpiredCredentialToken) {
		t.Fatalf("expected ErrExpiredCredentialToken, got %v", err)
	}
}

func TestCredentialParseTampered(t *testing.T) {
	provider := newTestKeyProvider(t)
	issuer, err := NewCredentialIssuer(provider, provider.SigningKID(), "netsafi-iam", time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}

	token, err := issuer.Issue("principal-1", "customer", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	if _, err := issuer.Parse(tampered); !errors.Is(err, ErrInvalidCredentialToken) {
		t.Fatalf("expected ErrInvalidCredentialToken, got %v", err)
	}
}

func TestCredentialParseWrongIssuer(t *testing.T) {
	provider := newTestKeyProvider(t)

	signer, err := NewCredentialIssuer(provider, provider.SigningKID(), "other-service", time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}
	verifier, err := NewCredentialIssuer(provider, provider.SigningKID(), "netsafi-iam", time.Hour)
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	token, err := signer.Issue("principal-1", "customer", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if _, err := verifier.Parse(token); !errors.Is(err, ErrInvalidCredentialToken) {
		t.Fatalf("expected ErrInvalidCredentialToken, got %v", err)
	}
}
