// Package vault encrypts connection secrets at rest.
//
// Current ciphertexts use AES-256-GCM and are serialized as three hex fields,
// "iv:authTag:ciphertext". Ciphertexts of the older two-field "iv:ciphertext"
// form were produced with AES-256-CBC under a key derived from a fixed salt and
// remain decryptable so stored secrets can be migrated with ReEncrypt.
//
// A Vault holds only immutable key material and is safe for concurrent use.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

const moduleName = "vault"

const (
	keyLength = 32
	ivLength  = 16
	tagLength = 16

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1

	// legacySalt is the salt the two-field format was always derived with.
	// Changing the configured salt does not affect it.
	legacySalt = "querydeck-legacy-salt"

	selfTestValue = "querydeck-vault-self-test"
)

// Causes wrapped by the EncryptionError values this package returns.
var (
	ErrEmptyInput       = errors.New("empty input")
	ErrInvalidFormat    = errors.New("invalid ciphertext format")
	ErrAuthTagMismatch  = errors.New("authentication tag mismatch")
	ErrLegacyDecryption = errors.New("legacy decryption failed")
	ErrNotConfigured    = errors.New("vault secret is not configured")
)

// Vault encrypts and decrypts secrets.
type Vault struct {
	key       []byte
	legacyKey []byte
}

// New derives the current and legacy keys from secret and salt.
// An empty secret yields a Vault whose operations fail with ErrNotConfigured.
func New(secret, salt string) (*Vault, error) {
	if secret == "" {
		return &Vault{}, nil
	}
	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, exception.NewEncryptionError(moduleName, "failed to derive key", err)
	}
	legacyKey, err := scrypt.Key([]byte(secret), []byte(legacySalt), scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, exception.NewEncryptionError(moduleName, "failed to derive legacy key", err)
	}
	return &Vault{key: key, legacyKey: legacyKey}, nil
}

func fail(message string, cause error) error {
	return exception.NewEncryptionError(moduleName, message, cause)
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if len(v.key) == 0 {
		return nil, fail("vault unavailable", ErrNotConfigured)
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fail("failed to create cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fail("failed to create gcm", err)
	}
	return aead, nil
}

// Encrypt encrypts plaintext with a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fail("nothing to encrypt", ErrEmptyInput)
	}
	aead, err := v.gcm()
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fail("failed to generate iv", err)
	}
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]
	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(body),
	}, ":"), nil
}

// Decrypt decrypts either format. The three-field format never falls back to the legacy path.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", fail("nothing to decrypt", ErrEmptyInput)
	}
	parts := strings.Split(ciphertext, ":")
	switch len(parts) {
	case 3:
		return v.decryptCurrent(parts[0], parts[1], parts[2])
	case 2:
		return v.decryptLegacy(parts[0], parts[1])
	default:
		return "", fail("expected iv:authTag:ciphertext", ErrInvalidFormat)
	}
}

func (v *Vault) decryptCurrent(ivHex, tagHex, bodyHex string) (string, error) {
	iv, err1 := hex.DecodeString(ivHex)
	tag, err2 := hex.DecodeString(tagHex)
	body, err3 := hex.DecodeString(bodyHex)
	if err1 != nil || err2 != nil || err3 != nil || len(iv) != ivLength || len(tag) != tagLength {
		return "", fail("malformed ciphertext fields", ErrInvalidFormat)
	}
	aead, err := v.gcm()
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", fail("ciphertext rejected", ErrAuthTagMismatch)
	}
	return string(plain), nil
}

func (v *Vault) decryptLegacy(ivHex, bodyHex string) (string, error) {
	if len(v.legacyKey) == 0 {
		return "", fail("vault unavailable", ErrNotConfigured)
	}
	iv, err1 := hex.DecodeString(ivHex)
	body, err2 := hex.DecodeString(bodyHex)
	if err1 != nil || err2 != nil || len(iv) != aes.BlockSize || len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", fail("malformed legacy ciphertext", ErrLegacyDecryption)
	}
	block, err := aes.NewCipher(v.legacyKey)
	if err != nil {
		return "", fail("failed to create legacy cipher", ErrLegacyDecryption)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	plain, ok := unpad(plain)
	if !ok {
		return "", fail("legacy padding invalid", ErrLegacyDecryption)
	}
	return string(plain), nil
}

// ReEncrypt decrypts ciphertext in either format and encrypts it again in the current format.
func (v *Vault) ReEncrypt(ciphertext string) (string, error) {
	plain, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return v.Encrypt(plain)
}

// IsLegacy reports whether ciphertext uses the two-field format.
func IsLegacy(ciphertext string) bool {
	return strings.Count(ciphertext, ":") == 1
}

// Verify round-trips a synthetic value to detect misconfiguration.
func (v *Vault) Verify() error {
	enc, err := v.Encrypt(selfTestValue)
	if err != nil {
		return err
	}
	dec, err := v.Decrypt(enc)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(dec), []byte(selfTestValue)) != 1 {
		return fail("self-test mismatch", ErrAuthTagMismatch)
	}
	return nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

// encryptLegacy produces the two-field format. Only tests and migrations of fixtures use it.
func (v *Vault) encryptLegacy(plaintext string) (string, error) {
	if len(v.legacyKey) == 0 {
		return "", fail("vault unavailable", ErrNotConfigured)
	}
	block, err := aes.NewCipher(v.legacyKey)
	if err != nil {
		return "", fail("failed to create legacy cipher", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fail("failed to generate iv", err)
	}
	src := pad([]byte(plaintext))
	out := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, src)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}
