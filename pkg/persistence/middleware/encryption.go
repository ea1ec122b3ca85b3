package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// envelopeScope replaces the variable scopes of a sealed instance.
const envelopeScope = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals instance variables
// with AES-GCM before they reach the store. Executions, subscriptions, tasks
// and history stay in clear so queries keep working.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	return m.next.Update(ctx, func(tx ports.Tx) error {
		return fn(&encryptingTx{Tx: tx, config: m.config})
	})
}

func (m *encryptionMiddleware) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	return m.next.View(ctx, func(tx ports.Tx) error {
		return fn(&encryptingTx{Tx: tx, config: m.config})
	})
}

type encryptingTx struct {
	ports.Tx
	config EncryptionConfig
}

func (t *encryptingTx) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	plainText, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	ciphertext, err := encrypt(plainText, t.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt variables: %w", err)
	}

	// The envelope hides every scope, including which scopes exist.
	sealed := *inst
	sealed.Variables = map[string]map[string]any{
		envelopeScope: {"ciphertext": base64.StdEncoding.EncodeToString(ciphertext)},
	}
	err = t.Tx.SaveInstance(ctx, &sealed)
	inst.Revision = sealed.Revision
	return err
}

func (t *encryptingTx) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	inst, err := t.Tx.Instance(ctx, id)
	if err != nil {
		return nil, err
	}

	// Fail secure: with encryption configured, a clear instance is an error.
	envelope, ok := inst.Variables[envelopeScope]
	if !ok {
		return nil, fmt.Errorf("instance %q is missing encrypted variables", id)
	}
	encoded, ok := envelope["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("instance %q has a malformed variables envelope", id)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, t.config.ActiveKey, t.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt variables of instance %q: %w", id, err)
	}
	vars := make(map[string]map[string]any)
	if err := json.Unmarshal(plainText, &vars); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted variables: %w", err)
	}
	inst.Variables = vars
	return inst, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
