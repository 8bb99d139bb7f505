package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func testClaims(now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		SessionID: "s1",
		Type:      TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	s, err := NewJWTSigner(SignerConfig{Method: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims(time.Now(), time.Minute))
	signed, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := s.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong algorithm, got %v", err)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	s, err := NewJWTSigner(SignerConfig{Method: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims(time.Now(), time.Minute))
	unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("encode unsigned token: %v", err)
	}
	if _, err := s.Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unsigned token to be rejected, got %v", err)
	}
}

func TestVerifyIssuerAudienceAndExpiry(t *testing.T) {
	_, priv := newEdKeys(t)
	now := time.Now()
	clock := func() time.Time { return now }

	s, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: priv,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		Issuer:     "trustplane",
		Audience:   "api",
		Now:        clock,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	signed, err := s.Sign(testClaims(now, time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := s.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Issuer != "trustplane" || claims.SessionID != "s1" || claims.Type != TypeAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}

	other, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: priv,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		Issuer:     "trustplane",
		Audience:   "admin",
		Now:        clock,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if _, err := other.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch to be rejected, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRequiresSessionAndSubject(t *testing.T) {
	s, err := NewJWTSigner(SignerConfig{Method: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	c := testClaims(time.Now(), time.Minute)
	c.SessionID = ""
	signed, err := s.Sign(c)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for missing sid, got %v", err)
	}
}

func TestKeyRotationWithVerifyKeys(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldSigner, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: oldPriv,
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k1": oldPub},
	})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	signed, err := oldSigner.Sign(testClaims(time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rotated, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: newPriv,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("rotated signer: %v", err)
	}
	if _, err := rotated.Verify(signed); err != nil {
		t.Fatalf("token signed with retired key must verify during rotation: %v", err)
	}

	dropped, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: newPriv,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k2": newPub},
	})
	if err != nil {
		t.Fatalf("dropped signer: %v", err)
	}
	if _, err := dropped.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unknown kid to be rejected, got %v", err)
	}
}

func TestNewJWTSignerValidation(t *testing.T) {
	_, priv := newEdKeys(t)
	tests := []struct {
		name string
		cfg  SignerConfig
	}{
		{"short hmac key", SignerConfig{Method: MethodHS256, PrivateKey: []byte("short")}},
		{"ed25519 without private key", SignerConfig{Method: MethodEd25519}},
		{"ed25519 without public key", SignerConfig{Method: MethodEd25519, PrivateKey: priv}},
		{"unknown method", SignerConfig{Method: "none", PrivateKey: []byte("0123456789abcdef0123456789abcdef")}},
		{"excessive leeway", SignerConfig{Method: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef"), Leeway: time.Hour}},
		{"kid missing from verify keys", SignerConfig{
			Method:     MethodEd25519,
			PrivateKey: priv,
			KeyID:      "k9",
			VerifyKeys: map[string][]byte{"k1": priv.Public().(ed25519.PublicKey)},
		}},
	}
	for _, tc := range tests {
		if _, err := NewJWTSigner(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
