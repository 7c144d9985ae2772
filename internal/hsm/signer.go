package hsm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ruralpay/tourwallet/internal/models"
	"golang.org/x/crypto/argon2"
)

// TransactionSigner signs transactions before they are queued or forwarded
// and verifies them again at settlement time.
type TransactionSigner interface {
	Sign(tx *models.Transaction) error
	Verify(tx *models.Transaction) error
	GenerateTransactionID() string
}

// IntegrityError means a transaction's signature does not match its contents.
// It is never retryable.
type IntegrityError struct {
	TransactionID string
	Reason        string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for transaction %s: %s", e.TransactionID, e.Reason)
}

// Config holds signer configuration
type Config struct {
	MasterKey   string
	Salt        []byte // Optional: if nil, will be generated
	KeyID       string
	AuditLogger *AuditLogger
}

// HMACSigner implements TransactionSigner with HMAC-SHA256 keys derived from
// a master secret. Retired keys stay loaded so older signatures still verify.
type HMACSigner struct {
	mu          sync.RWMutex
	masterKey   string
	salt        []byte
	keys        map[string][]byte
	activeKeyID string
	auditLogger *AuditLogger
}

var _ TransactionSigner = (*HMACSigner)(nil)

var validKeyID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// InitSigner derives the active signing key
func InitSigner(config Config) (*HMACSigner, error) {
	if config.MasterKey == "" {
		return nil, errors.New("master key required")
	}

	salt := config.Salt
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	keyID := config.KeyID
	if keyID == "" {
		keyID = "k1"
	}
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}

	audit := config.AuditLogger
	if audit == nil {
		audit = NewAuditLogger(nil)
	}

	s := &HMACSigner{
		masterKey:   config.MasterKey,
		salt:        salt,
		keys:        make(map[string][]byte),
		auditLogger: audit,
	}
	s.keys[keyID] = deriveKey(s.masterKey, string(s.salt)+":"+keyID, 32)
	s.activeKeyID = keyID

	s.auditLogger.LogOperation("SIGNER_INIT", "system", "KEY_ACTIVATED", keyID)
	return s, nil
}

// RotateKey derives a new active key. Signatures made with earlier keys keep verifying.
func (s *HMACSigner) RotateKey(keyID string) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[keyID]; exists {
		return fmt.Errorf("key %s already exists", keyID)
	}
	s.keys[keyID] = deriveKey(s.masterKey, string(s.salt)+":"+keyID, 32)
	s.activeKeyID = keyID

	s.auditLogger.LogOperation("KEY_ROTATION", "system", "KEY_ACTIVATED", keyID)
	return nil
}

// ActiveKeyID returns the id of the key new signatures are made with
func (s *HMACSigner) ActiveKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeKeyID
}

// Sign sets tx.Signature and moves a created transaction to signed
func (s *HMACSigner) Sign(tx *models.Transaction) error {
	if tx == nil || tx.ID == "" {
		return errors.New("cannot sign transaction without id")
	}

	s.mu.RLock()
	keyID := s.activeKeyID
	key := s.keys[keyID]
	s.mu.RUnlock()

	tx.Signature = keyID + ":" + hex.EncodeToString(computeMAC(key, CanonicalBytes(tx)))
	if tx.Status == "" || tx.Status == models.StatusCreated {
		tx.Status = models.StatusSigned
	}
	return nil
}

// Verify recomputes the MAC and compares it in constant time
func (s *HMACSigner) Verify(tx *models.Transaction) error {
	keyID, macHex, ok := strings.Cut(tx.Signature, ":")
	if !ok || keyID == "" || macHex == "" {
		return s.fail(tx, "malformed signature")
	}

	s.mu.RLock()
	key, exists := s.keys[keyID]
	s.mu.RUnlock()
	if !exists {
		return s.fail(tx, "unknown signing key "+keyID)
	}

	given, err := hex.DecodeString(macHex)
	if err != nil {
		return s.fail(tx, "signature is not hex")
	}

	if !hmac.Equal(given, computeMAC(key, CanonicalBytes(tx))) {
		return s.fail(tx, models.ReasonSignatureMismatch)
	}
	return nil
}

func (s *HMACSigner) fail(tx *models.Transaction, reason string) error {
	s.auditLogger.LogSecurity(tx.ID, tx.AccountID, reason)
	return &IntegrityError{TransactionID: tx.ID, Reason: reason}
}

// GenerateTransactionID creates a server-side transaction id for requests
// that did not bring their own idempotency key
func (s *HMACSigner) GenerateTransactionID() string {
	return "TX" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// CanonicalBytes is the length-prefixed encoding covered by the signature.
// Status, reason and server bookkeeping are not covered.
func CanonicalBytes(tx *models.Transaction) []byte {
	fields := []string{
		tx.ID,
		tx.AccountID,
		string(tx.Kind),
		strconv.FormatInt(tx.Amount, 10),
		tx.Currency,
		tx.Provider,
		tx.MerchantID,
		tx.DeviceID,
		strconv.FormatUint(tx.ClientSequence, 10),
		// stored timestamps keep microseconds only
		strconv.FormatInt(tx.OccurredAt.UnixMicro(), 10),
	}

	size := 0
	for _, f := range fields {
		size += 4 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// VerifyHMAC checks a hex HMAC-SHA256 of body made with a shared secret
func VerifyHMAC(secret string, body []byte, signatureHex string) bool {
	given, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "sha256="))
	if err != nil || secret == "" {
		return false
	}
	return hmac.Equal(given, computeMAC([]byte(secret), body))
}

// SignHMAC returns the hex HMAC-SHA256 of body
func SignHMAC(secret string, body []byte) string {
	return hex.EncodeToString(computeMAC([]byte(secret), body))
}

func computeMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}

func validateKeyID(keyID string) error {
	if keyID == "" {
		return errors.New("key ID cannot be empty")
	}
	if !validKeyID.MatchString(keyID) {
		return errors.New("key ID contains invalid characters")
	}
	return nil
}
