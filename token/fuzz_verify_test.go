package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzVerify feeds arbitrary strings to the verifier. It must never panic
// and anything it accepts must carry a session and subject.
func FuzzVerify(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	s, err := NewJWTSigner(SignerConfig{
		Method:     MethodEd25519,
		PrivateKey: priv,
		PublicKey:  pub,
		Issuer:     "fuzz",
		Leeway:     30 * time.Second,
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	valid, err := s.Sign(testClaims(time.Now(), time.Hour))
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ1MSJ9.")
	f.Add(valid[:len(valid)-2])

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := s.Verify(input)
		if err != nil {
			return
		}
		if claims.SessionID == "" || claims.Subject == "" {
			t.Fatalf("accepted token without session or subject")
		}
	})
}
