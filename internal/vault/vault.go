package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"switchboard/internal/plugin"
	"switchboard/pkg/oauth"
)

// Prefix marks a sealed value.
const Prefix = "enc:v1:"

const (
	minSecretLen = 16
	hkdfSalt     = "switchboard/vault"
	hkdfInfo     = "enc:v1 field encryption"
)

// Vault seals and opens secret values.
type Vault struct {
	aead cipher.AEAD
}

// New derives the field encryption key from secret.
func New(secret []byte) (*Vault, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// IsEncrypted reports whether s carries the ciphertext prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// EncryptValue seals plain. Empty and already sealed values are returned unchanged.
func (v *Vault) EncryptValue(plain string) (string, error) {
	if plain == "" || IsEncrypted(plain) {
		return plain, nil
	}

	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plain)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptValue opens a sealed value. Values without the prefix are returned unchanged.
func (v *Vault) DecryptValue(s string) (string, error) {
	if !IsEncrypted(s) {
		return s, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("invalid encoding: %w", err)}
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", &DecryptionError{Err: errors.New("ciphertext too short")}
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plain), nil
}

// EncryptConfig returns a copy of plain with every secret field sealed.
// Secret fields must hold strings.
func (v *Vault) EncryptConfig(plain map[string]any, schema plugin.ConfigSchema) (map[string]any, error) {
	out := make(map[string]any, len(plain))
	for key, val := range plain {
		if !schema.IsSecret(key) || val == nil {
			out[key] = val
			continue
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("secret field %q must be a string, got %T", key, val)
		}
		sealed, err := v.EncryptValue(s)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %q: %w", key, err)
		}
		out[key] = sealed
	}
	return out, nil
}

// DecryptConfig returns a copy of enc with every sealed value opened.
//
// Fields that fail to open are left out of the result and reported through
// the returned error, which joins one *DecryptionError per field. The rest
// of the configuration is still returned.
func (v *Vault) DecryptConfig(enc map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(enc))
	var errs []error
	for key, val := range enc {
		s, ok := val.(string)
		if !ok || !IsEncrypted(s) {
			out[key] = val
			continue
		}
		plain, err := v.DecryptValue(s)
		if err != nil {
			errs = append(errs, withField(err, key))
			continue
		}
		out[key] = plain
	}
	return out, errors.Join(errs...)
}

// DecryptField opens a single configuration field. The boolean is false when
// the field is absent, empty or not a string.
func (v *Vault) DecryptField(cfg map[string]any, key string) (string, bool, error) {
	s, ok := cfg[key].(string)
	if !ok || s == "" {
		return "", false, nil
	}
	plain, err := v.DecryptValue(s)
	if err != nil {
		return "", false, withField(err, key)
	}
	return plain, plain != "", nil
}

// EncryptToken returns a copy of td with access and refresh tokens sealed.
func (v *Vault) EncryptToken(td *oauth.TokenData) (*oauth.TokenData, error) {
	if td == nil {
		return nil, nil
	}
	out := td.Clone()
	var err error
	if out.AccessToken, err = v.EncryptValue(td.AccessToken); err != nil {
		return nil, err
	}
	if out.RefreshToken, err = v.EncryptValue(td.RefreshToken); err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptToken returns a copy of td with access and refresh tokens opened.
func (v *Vault) DecryptToken(td *oauth.TokenData) (*oauth.TokenData, error) {
	if td == nil {
		return nil, nil
	}
	out := td.Clone()
	var err error
	if out.AccessToken, err = v.DecryptValue(td.AccessToken); err != nil {
		return nil, withField(err, "access_token")
	}
	if out.RefreshToken, err = v.DecryptValue(td.RefreshToken); err != nil {
		return nil, withField(err, "refresh_token")
	}
	return out, nil
}

func withField(err error, field string) error {
	var de *DecryptionError
	if errors.As(err, &de) {
		de.Field = field
	}
	return err
}
