// Package nostr implements the subset of the Nostr protocol the relay
// speaks: events with canonical ids, BIP-340 signatures, subscription
// filters, and the JSON array wire frames of NIP-01.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds reserved for price work. Any other kind is accepted and
// stored but never triggers a quote.
const (
	KindPriceRequest  = 38000
	KindPriceResponse = 38001
	KindPriceError    = 38002
)

var (
	ErrBadEnvelope = errors.New("bad envelope")
	ErrBadID       = errors.New("bad id")
	ErrBadSig      = errors.New("bad sig")
)

// Event is a signed Nostr event. Once verified it is immutable.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize produces the canonical NIP-01 preimage
// [0,<pubkey>,<created_at>,<kind>,<tags>,<content>] with the exact
// escaping rules the wider ecosystem hashes. Any deviation here breaks
// every signature, so the buffer is built by hand rather than trusting
// encoding/json's control-character choices.
func (e *Event) Serialize() []byte {
	buf := make([]byte, 0, 128+len(e.Content)+32*len(e.Tags))
	buf = append(buf, `[0,"`...)
	buf = append(buf, e.PubKey...)
	buf = append(buf, `",`...)
	buf = strconv.AppendInt(buf, e.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(e.Kind), 10)
	buf = append(buf, ',')
	buf = appendTags(buf, e.Tags)
	buf = append(buf, ',')
	buf = appendEscaped(buf, e.Content)
	buf = append(buf, ']')
	return buf
}

func appendTags(buf []byte, tags [][]string) []byte {
	buf = append(buf, '[')
	for i, tag := range tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, v := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendEscaped(buf, v)
		}
		buf = append(buf, ']')
	}
	return append(buf, ']')
}

// appendEscaped writes s as a JSON string with NIP-01 escaping: the
// two-character forms for quote, backslash, \n \r \t \b \f, \u00XX for
// the remaining control bytes, everything else verbatim.
func appendEscaped(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				buf = append(buf, fmt.Sprintf(`\u%04x`, c)...)
			} else {
				buf = append(buf, c)
			}
		}
	}
	return append(buf, '"')
}

// ComputeID returns the lowercase hex SHA-256 of the canonical form.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Verify checks structure, recomputes the canonical id, and validates
// the Schnorr signature under the x-only pubkey. It returns
// ErrBadEnvelope, ErrBadID, or ErrBadSig.
func (e *Event) Verify() error {
	pkBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pkBytes) != 32 {
		return ErrBadEnvelope
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return ErrBadEnvelope
	}
	if e.ComputeID() != e.ID {
		return ErrBadID
	}
	pub, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return ErrBadSig
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ErrBadSig
	}
	digest, err := hex.DecodeString(e.ID)
	if err != nil || len(digest) != sha256.Size {
		return ErrBadID
	}
	if !sig.Verify(digest, pub) {
		return ErrBadSig
	}
	return nil
}

// TagValues collects the second element of every tag whose first
// element equals name.
func (e *Event) TagValues(name string) []string {
	var vals []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			vals = append(vals, tag[1])
		}
	}
	return vals
}

// Signer holds the relay identity. The private key is read-only after
// construction.
type Signer struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// NewSigner generates a fresh keypair.
func NewSigner() (*Signer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate relay key: %w", err)
	}
	return signerFromKey(priv), nil
}

// NewSignerFromHex loads a 32-byte private key from hex.
func NewSignerFromHex(privHex string) (*Signer, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("relay private key must be 32 bytes of hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return signerFromKey(priv), nil
}

func signerFromKey(priv *btcec.PrivateKey) *Signer {
	return &Signer{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// PublicKeyHex returns the x-only public key as lowercase hex.
func (s *Signer) PublicKeyHex() string { return s.pubHex }

// PrivateKeyHex returns the private scalar as lowercase hex.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.priv.Serialize())
}

// Sign builds and signs an event with created_at set to now.
func (s *Signer) Sign(kind int, tags [][]string, content string) (*Event, error) {
	return s.SignAt(kind, tags, content, time.Now().UnixMilli()/1000)
}

// SignAt is Sign with an explicit created_at, for deterministic tests.
func (s *Signer) SignAt(kind int, tags [][]string, content string, createdAt int64) (*Event, error) {
	if tags == nil {
		tags = [][]string{}
	}
	e := &Event{
		PubKey:    s.pubHex,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	e.ID = e.ComputeID()
	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(s.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return e, nil
}
