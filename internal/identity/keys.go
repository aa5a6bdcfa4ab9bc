// Package identity manages the node's Ed25519 key pair.
//
// The node identity is a plain Ed25519 key. The node ID visible to the
// rest of the system is the hex-encoded SHA-256 of the public key, so
// it can be logged and compared without exposing key material.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samizdat-net/samizdat/internal/logging"
	"golang.org/x/crypto/argon2"
)

// Encrypted key file format:
// [4 bytes magic] [16 bytes salt] [12 bytes nonce] [variable ciphertext]
//
// The magic bytes mark the file as a passphrase-protected key. Salt feeds
// argon2id key derivation, nonce feeds AES-256-GCM. The ciphertext is the
// Ed25519 private key (64 bytes) plus the 16-byte GCM tag.

var (
	// encryptedKeyMagic marks a passphrase-protected key file ("SZEK").
	encryptedKeyMagic = []byte{0x53, 0x5A, 0x45, 0x4B}

	// argon2id parameters
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024 // 64 MB
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32 // AES-256

	// ErrWrongPassphrase is returned when decryption fails, which covers
	// both a wrong passphrase and a tampered file: GCM cannot tell them apart.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

	// ErrInvalidKeyFile is returned when the file layout is not recognized.
	ErrInvalidKeyFile = errors.New("invalid encrypted key file")
)

const (
	saltSize  = 16
	nonceSize = 12
)

// KeyManager holds the node's Ed25519 key pair and derived node ID.
type KeyManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	nodeID     string
	keyPath    string
}

// NewKeyManager loads the key at keyPath, generating and persisting a
// fresh pair on first run.
func NewKeyManager(keyPath string) (*KeyManager, error) {
	km := &KeyManager{keyPath: keyPath}

	if err := km.LoadKeys(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load node key: %w", err)
		}
		if err := km.GenerateKeys(); err != nil {
			return nil, fmt.Errorf("generate node key: %w", err)
		}
		logging.Audit(logging.AuditEvent{
			Operation: "key_generated",
			Actor:     km.Fingerprint(),
			Result:    "success",
		})
		logging.Info("generated new node identity",
			logging.NodeID(km.Fingerprint()),
			"key_path", keyPath)
	}

	return km, nil
}

// GenerateKeys creates a fresh Ed25519 pair and persists it.
func (km *KeyManager) GenerateKeys() error {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ed25519 key: %w", err)
	}

	km.adopt(privateKey, publicKey)

	if err := km.SaveKeys(); err != nil {
		return fmt.Errorf("persist node key: %w", err)
	}
	return nil
}

// LoadKeys reads the raw private key from disk.
func (km *KeyManager) LoadKeys() error {
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return err
	}

	// ed25519.PrivateKey is a []byte alias: any slice converts, but Sign
	// panics when the length is off, so check before adopting.
	if len(data) != ed25519.PrivateKeySize {
		return fmt.Errorf("key file %s: expected %d bytes, got %d",
			km.keyPath, ed25519.PrivateKeySize, len(data))
	}

	privateKey := ed25519.PrivateKey(data)
	km.adopt(privateKey, privateKey.Public().(ed25519.PublicKey))
	return nil
}

// SaveKeys writes the private key with owner-only permissions.
func (km *KeyManager) SaveKeys() error {
	if err := os.MkdirAll(filepath.Dir(km.keyPath), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(km.keyPath, km.privateKey, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

func (km *KeyManager) adopt(priv ed25519.PrivateKey, pub ed25519.PublicKey) {
	km.privateKey = priv
	km.publicKey = pub
	digest := sha256.Sum256(pub)
	km.nodeID = hex.EncodeToString(digest[:])
}

// PrivateKey returns the private key.
func (km *KeyManager) PrivateKey() ed25519.PrivateKey {
	return km.privateKey
}

// PublicKey returns the public key.
func (km *KeyManager) PublicKey() ed25519.PublicKey {
	return km.publicKey
}

// NodeID returns the hex-encoded SHA-256 of the public key.
func (km *KeyManager) NodeID() string {
	return km.nodeID
}

// Fingerprint returns a short node ID prefix suitable for log lines.
func (km *KeyManager) Fingerprint() string {
	if len(km.nodeID) < 12 {
		return km.nodeID
	}
	return km.nodeID[:12]
}

// Sign signs a message with the node's private key.
func (km *KeyManager) Sign(message []byte) []byte {
	return ed25519.Sign(km.privateKey, message)
}

// Verify checks a signature against the node's public key.
func (km *KeyManager) Verify(message, signature []byte) bool {
	return ed25519.Verify(km.publicKey, message, signature)
}

// SaveEncryptedKey writes the private key encrypted under the passphrase.
// The layout is magic + salt + nonce + ciphertext, with the AES key
// derived from the passphrase via argon2id.
func (km *KeyManager) SaveEncryptedKey(path string, passphrase []byte) error {
	if km.privateKey == nil {
		return fmt.Errorf("encrypt key: no private key loaded")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("encrypt key: generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("encrypt key: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, km.privateKey, nil)

	fileData := make([]byte, 0, len(encryptedKeyMagic)+len(salt)+len(nonce)+len(ciphertext))
	fileData = append(fileData, encryptedKeyMagic...)
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("encrypt key: create directory: %w", err)
	}
	if err := os.WriteFile(path, fileData, 0600); err != nil {
		return fmt.Errorf("encrypt key: write file: %w", err)
	}
	return nil
}

// LoadEncryptedKey decrypts the key file with the passphrase and adopts
// the recovered key pair.
func (km *KeyManager) LoadEncryptedKey(path string, passphrase []byte) error {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("decrypt key: %w", err)
	}

	// Smallest valid file: magic + salt + nonce + 1 ciphertext byte + GCM tag.
	const minSize = 4 + saltSize + nonceSize + 1 + 16
	if len(fileData) < minSize {
		return fmt.Errorf("decrypt key: %w: file too short", ErrInvalidKeyFile)
	}
	if !hasMagic(fileData) {
		return fmt.Errorf("decrypt key: %w: bad magic", ErrInvalidKeyFile)
	}

	offset := len(encryptedKeyMagic)
	salt := fileData[offset : offset+saltSize]
	offset += saltSize
	nonce := fileData[offset : offset+nonceSize]
	offset += nonceSize
	ciphertext := fileData[offset:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return fmt.Errorf("decrypt key: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypt key: %w", ErrWrongPassphrase)
	}
	if len(plaintext) != ed25519.PrivateKeySize {
		return fmt.Errorf("decrypt key: %w: unexpected key size %d", ErrInvalidKeyFile, len(plaintext))
	}

	privateKey := ed25519.PrivateKey(plaintext)
	km.adopt(privateKey, privateKey.Public().(ed25519.PublicKey))
	return nil
}

// newAEAD derives an AES-256 key from the passphrase and salt and wraps
// it in GCM.
func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

func hasMagic(data []byte) bool {
	if len(data) < len(encryptedKeyMagic) {
		return false
	}
	for i, b := range encryptedKeyMagic {
		if data[i] != b {
			return false
		}
	}
	return true
}

// IsEncryptedKeyFile reports whether the file starts with the encrypted
// key magic header.
func IsEncryptedKeyFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, len(encryptedKeyMagic))
	n, err := f.Read(magic)
	if err != nil {
		return false, err
	}
	return n == len(encryptedKeyMagic) && hasMagic(magic), nil
}
