package simplebanners

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// FingerprintSize is the length in bytes of a content fingerprint.
const FingerprintSize = 32

// hashVersion is mixed into every fingerprint so a change to the canonical
// layout can never collide with fingerprints produced by an older layout.
const hashVersion = 1

// Fingerprint is the BLAKE3 digest of an entry's canonical publishable
// content.
type Fingerprint [FingerprintSize]byte

// FingerprintFromBytes converts a stored digest back into a Fingerprint.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != FingerprintSize {
		return f, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// ParseFingerprint decodes the hex form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint: %w", err)
	}
	return FingerprintFromBytes(b)
}

// Bytes returns the digest as a byte slice.
func (f Fingerprint) Bytes() []byte {
	return f[:]
}

// IsZero reports whether f was never computed.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// hashEncMode uses Core Deterministic Encoding (RFC 8949 §4.2): map keys
// are sorted, so the digest does not depend on field declaration order.
var hashEncMode cbor.EncMode

func init() {
	var err error
	hashEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("simplebanners: CBOR encoder initialization failed: " + err.Error())
	}
}

type canonicalPage struct {
	ID          string `cbor:"id"`
	Name        string `cbor:"name"`
	Description string `cbor:"description"`
}

type canonicalSlot struct {
	ID          string        `cbor:"id"`
	Name        string        `cbor:"name"`
	Description string        `cbor:"description"`
	Page        canonicalPage `cbor:"page"`
}

type canonicalContent struct {
	Version     int           `cbor:"v"`
	Name        string        `cbor:"name"`
	Priority    int           `cbor:"priority"`
	Countries   []string      `cbor:"countries"`
	Languages   []string      `cbor:"languages"`
	StartTime   *string       `cbor:"start_time"`
	EndTime     *string       `cbor:"end_time"`
	Dismissible bool          `cbor:"dismissible"`
	Stopped     bool          `cbor:"stopped"`
	Body        string        `cbor:"body"`
	Segments    []string      `cbor:"segments"`
	Slot        canonicalSlot `cbor:"slot"`
}

// HashContent computes the fingerprint of c. Entries and snapshots with
// equal publishable content always produce the same fingerprint.
func HashContent(c Content) (Fingerprint, error) {
	canon := canonicalContent{
		Version:     hashVersion,
		Name:        c.Name,
		Priority:    c.Priority,
		Countries:   nonNil(c.Countries),
		Languages:   nonNil(c.Languages),
		StartTime:   canonicalTime(c.StartTime),
		EndTime:     canonicalTime(c.EndTime),
		Dismissible: c.Dismissible,
		Stopped:     c.Stopped,
		Body:        c.Body,
		Segments:    nonNil(c.Segments),
		Slot: canonicalSlot{
			ID:          c.Slot.ID.String(),
			Name:        c.Slot.Name,
			Description: c.Slot.Description,
			Page: canonicalPage{
				ID:          c.Slot.Page.ID.String(),
				Name:        c.Slot.Page.Name,
				Description: c.Slot.Page.Description,
			},
		},
	}

	encoded, err := hashEncMode.Marshal(canon)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("encode content: %w", err)
	}
	return Fingerprint(blake3.Sum256(encoded)), nil
}

// Rehash recomputes e.ContentHash from its current content.
func (e *Entry) Rehash() error {
	f, err := HashContent(e.Content)
	if err != nil {
		return err
	}
	e.ContentHash = f
	return nil
}

// Verify reports whether the snapshot's stored fingerprint still matches its
// own content.
func (s *Snapshot) Verify() bool {
	f, err := HashContent(s.Content)
	return err == nil && f == s.ContentHash
}

// NormalizeTime returns t in UTC at microsecond precision, the resolution
// every supported store keeps. Nil stays nil.
func NormalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

func canonicalTime(t *time.Time) *string {
	n := NormalizeTime(t)
	if n == nil {
		return nil
	}
	s := n.Format(time.RFC3339Nano)
	return &s
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
