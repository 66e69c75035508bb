// Package vault encrypts plugin configuration secrets and OAuth token
// material at rest.
//
// Values are sealed with XChaCha20-Poly1305 under a key derived from the
// configured master secret with HKDF-SHA256. Ciphertext is stored as a
// string carrying a version prefix:
//
//	enc:v1:<base64url(nonce || sealed box)>
//
// Only schema fields marked encrypted or typed password are sealed; the rest
// of a configuration stays readable. Decryption is idempotent: values
// without the prefix are legacy plaintext and are returned unchanged, and
// encrypting an already sealed value is a no-op.
//
// A corrupt or foreign ciphertext yields a *DecryptionError. Callers treat
// that as "credentials unavailable" for the affected strategy rather than a
// failure of the whole plugin.
package vault
