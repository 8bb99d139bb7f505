package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the payload of both token kinds. Subject is the identity id and
// ID (jti) is only set on refresh tokens.
type Claims struct {
	SessionID string `json:"sid"`
	Type      Type   `json:"typ"`
	jwt.RegisteredClaims
}

// Signer turns claims into a tamper-evident string and back.
type Signer interface {
	Sign(claims *Claims) (string, error)
	Verify(token string) (*Claims, error)
}

// SignerConfig configures a [JWTSigner].
type SignerConfig struct {
	Method     SigningMethod
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
	// VerifyKeys enables key rotation: tokens are verified with the key named
	// by their kid header.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// JWTSigner signs claims with golang-jwt.
type JWTSigner struct {
	config SignerConfig
}

// NewJWTSigner validates key material and returns a signer.
func NewJWTSigner(cfg SignerConfig) (*JWTSigner, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &JWTSigner{config: cfg}, nil
}

// Sign implements [Signer].
func (s *JWTSigner) Sign(claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.New("nil claims")
	}
	c := *claims
	if s.config.Issuer != "" {
		c.Issuer = s.config.Issuer
	}
	if s.config.Audience != "" {
		c.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	tok := jwt.NewWithClaims(s.method(), c)
	if s.config.KeyID != "" {
		tok.Header["kid"] = s.config.KeyID
	}

	signKey, err := s.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(signKey)
}

// Verify implements [Signer]. Expired tokens return [ErrTokenExpired]; every
// other failure returns [ErrTokenInvalid].
func (s *JWTSigner) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method().Alg()}),
		jwt.WithTimeFunc(s.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		options = append(options, jwt.WithAudience(s.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrTokenInvalid)
	}
	if claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: expiry not after issue time", ErrTokenInvalid)
	}
	return claims, nil
}

func (s *JWTSigner) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != s.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(s.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := s.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return s.verifyKeyFromBytes(key)
	}

	if s.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != s.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return s.verifyKey()
}

func (s *JWTSigner) method() jwt.SigningMethod {
	if s.config.Method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (s *JWTSigner) signKey() (interface{}, error) {
	if s.config.Method == MethodHS256 {
		return s.config.PrivateKey, nil
	}
	return parseEdPrivateKey(s.config.PrivateKey)
}

func (s *JWTSigner) verifyKey() (interface{}, error) {
	if s.config.Method == MethodHS256 {
		return s.config.PrivateKey, nil
	}
	if len(s.config.PublicKey) == 0 {
		priv, err := parseEdPrivateKey(s.config.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	}
	return parseEdPublicKey(s.config.PublicKey)
}

func (s *JWTSigner) verifyKeyFromBytes(key []byte) (interface{}, error) {
	if s.config.Method == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
