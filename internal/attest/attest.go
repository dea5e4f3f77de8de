package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// MaxSummaryLength bounds the verdict summary that is signed.
const MaxSummaryLength = 140

var (
	// ErrDisabled is returned when no signing key is configured.
	ErrDisabled = errors.New("attestation signing disabled")
	// ErrInvalidKey is returned for keys that are not 0x-prefixed 32-byte hex.
	ErrInvalidKey = errors.New("attestation key must be 0x followed by 64 hex characters")

	hash32 = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// CaseHash returns the 0x-prefixed Keccak-256 hash of the case text.
func CaseHash(text string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(text)))
}

func keccak(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ValidKey reports whether key has the expected format.
func ValidKey(key string) bool {
	return hash32.MatchString(strings.TrimSpace(key))
}

// Payload is the content covered by an attestation.
type Payload struct {
	CaseHash    string
	Feasibility int
	Innovation  int
	Risk        int
	FinalScore  int
	Summary     string
}

// Attestation is a signed statement over a verdict.
type Attestation struct {
	Attestor    string `json:"attestor"`
	MessageHash string `json:"message_hash"`
	Signature   string `json:"signature"`
	Nonce       string `json:"nonce"`
	Timestamp   int64  `json:"timestamp"`
}

// Signer produces Ed25519 attestations.
type Signer struct {
	key    ed25519.PrivateKey
	now    func() time.Time
	random io.Reader
}

// NewSigner builds a signer from a 0x-prefixed 32-byte hex seed.
func NewSigner(key string) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrDisabled
	}
	if !hash32.MatchString(key) {
		return nil, ErrInvalidKey
	}
	seed, err := hex.DecodeString(key[2:])
	if err != nil {
		return nil, fmt.Errorf("decode attestation key: %w", err)
	}
	return &Signer{key: ed25519.NewKeyFromSeed(seed), now: time.Now, random: rand.Reader}, nil
}

// Attestor returns the hex-encoded public key.
func (s *Signer) Attestor() string {
	return "0x" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign validates the payload and signs its packed message hash.
func (s *Signer) Sign(p Payload) (*Attestation, error) {
	if !hash32.MatchString(p.CaseHash) {
		return nil, fmt.Errorf("invalid case hash for attestation: %q", p.CaseHash)
	}
	scores := []struct {
		name  string
		value int
	}{
		{"feasibility", p.Feasibility},
		{"innovation", p.Innovation},
		{"risk", p.Risk},
		{"final", p.FinalScore},
	}
	for _, sc := range scores {
		if sc.value < 0 || sc.value > 100 {
			return nil, fmt.Errorf("invalid %s score for attestation: %d", sc.name, sc.value)
		}
	}

	nonce := make([]byte, 16)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	timestamp := s.now().Unix()

	digest := MessageHash(p, timestamp)
	signature := ed25519.Sign(s.key, digest)

	return &Attestation{
		Attestor:    s.Attestor(),
		MessageHash: "0x" + hex.EncodeToString(digest),
		Signature:   "0x" + hex.EncodeToString(signature),
		Nonce:       hex.EncodeToString(nonce),
		Timestamp:   timestamp,
	}, nil
}

// MessageHash packs hash, four uint8 scores, the truncated summary and a
// 32-byte big-endian timestamp, then hashes them with Keccak-256.
func MessageHash(p Payload, timestamp int64) []byte {
	caseHash, _ := hex.DecodeString(strings.TrimPrefix(p.CaseHash, "0x"))
	scores := []byte{uint8(p.Feasibility), uint8(p.Innovation), uint8(p.Risk), uint8(p.FinalScore)}
	ts := make([]byte, 32)
	binary.BigEndian.PutUint64(ts[24:], uint64(timestamp))
	return keccak(caseHash, scores, []byte(TruncateSummary(p.Summary)), ts)
}

// TruncateSummary cuts summary to MaxSummaryLength characters.
func TruncateSummary(summary string) string {
	r := []rune(summary)
	if len(r) > MaxSummaryLength {
		return string(r[:MaxSummaryLength])
	}
	return summary
}

// Verify checks an attestation against the payload it claims to cover.
func Verify(p Payload, a *Attestation) bool {
	pub, err := hex.DecodeString(strings.TrimPrefix(a.Attestor, "0x"))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(a.Signature, "0x"))
	if err != nil {
		return false
	}
	digest := MessageHash(p, a.Timestamp)
	if "0x"+hex.EncodeToString(digest) != a.MessageHash {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}
