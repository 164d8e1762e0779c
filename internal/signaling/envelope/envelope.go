// Package envelope validates and normalizes inbound signaling payloads
// before they reach the session state machine or the relay.
package envelope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrMalformedSignaling indicates a client payload that violates the
// signaling constraints. The request is rejected with no state change.
var ErrMalformedSignaling = errors.New("malformed signaling payload")

// DefaultMaxSDPBytes bounds SDP blobs; browsers produce a few KiB,
// anything near this limit is abuse.
const DefaultMaxSDPBytes = 64 * 1024

// Kind classifies a signaling envelope
type Kind string

const (
	// KindOffer carries an SDP offer
	KindOffer Kind = "offer"
	// KindAnswer carries an SDP answer
	KindAnswer Kind = "answer"
	// KindICECandidate carries one ICE candidate line
	KindICECandidate Kind = "ice-candidate"
)

// Valid reports whether the kind is a recognized envelope type
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// RawEnvelope is an unvalidated inbound payload
type RawEnvelope struct {
	Kind    Kind
	Payload string
}

// Envelope is a validated, normalized signaling payload
type Envelope struct {
	Kind    Kind
	Payload string
}

// Size returns the payload size in bytes
func (e *Envelope) Size() int {
	return len(e.Payload)
}

// Codec normalizes raw signaling payloads. Zero value is not usable;
// construct with NewCodec.
type Codec struct {
	maxSDPBytes int
}

// NewCodec creates a codec. maxSDPBytes <= 0 selects the default limit.
func NewCodec(maxSDPBytes int) *Codec {
	if maxSDPBytes <= 0 {
		maxSDPBytes = DefaultMaxSDPBytes
	}
	return &Codec{maxSDPBytes: maxSDPBytes}
}

// Normalize validates a raw payload and returns the canonical envelope.
// It is a pure transform with no side effects.
func (c *Codec) Normalize(raw RawEnvelope) (*Envelope, error) {
	if !raw.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedSignaling, raw.Kind)
	}

	payload := strings.TrimSpace(raw.Payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedSignaling)
	}

	switch raw.Kind {
	case KindOffer, KindAnswer:
		if err := c.validateSDP(payload); err != nil {
			return nil, err
		}
	case KindICECandidate:
		if err := validateCandidate(payload); err != nil {
			return nil, err
		}
	}

	return &Envelope{Kind: raw.Kind, Payload: payload}, nil
}

func (c *Codec) validateSDP(payload string) error {
	if len(payload) > c.maxSDPBytes {
		return fmt.Errorf("%w: sdp exceeds %d bytes", ErrMalformedSignaling, c.maxSDPBytes)
	}
	if i := controlCharIndex(payload); i >= 0 {
		return fmt.Errorf("%w: control character at offset %d", ErrMalformedSignaling, i)
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignaling, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: sdp has no media sections", ErrMalformedSignaling)
	}
	return nil
}

// validateCandidate checks the basic candidate-attribute structure from
// RFC 8839 section 5.1: foundation, component, transport, priority,
// address, port, "typ", type. Extension attributes beyond that are
// passed through untouched.
func validateCandidate(payload string) error {
	if i := controlCharIndex(payload); i >= 0 {
		return fmt.Errorf("%w: control character at offset %d", ErrMalformedSignaling, i)
	}

	line := strings.TrimPrefix(payload, "a=")
	line = strings.TrimPrefix(line, "candidate:")
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return fmt.Errorf("%w: candidate has %d fields, want at least 8", ErrMalformedSignaling, len(fields))
	}

	if _, err := strconv.Atoi(fields[1]); err != nil {
		return fmt.Errorf("%w: bad component %q", ErrMalformedSignaling, fields[1])
	}
	switch strings.ToLower(fields[2]) {
	case "udp", "tcp":
	default:
		return fmt.Errorf("%w: bad transport %q", ErrMalformedSignaling, fields[2])
	}
	if _, err := strconv.ParseUint(fields[3], 10, 32); err != nil {
		return fmt.Errorf("%w: bad priority %q", ErrMalformedSignaling, fields[3])
	}
	port, err := strconv.Atoi(fields[5])
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrMalformedSignaling, fields[5])
	}
	if fields[6] != "typ" {
		return fmt.Errorf("%w: missing typ marker", ErrMalformedSignaling)
	}
	switch fields[7] {
	case "host", "srflx", "prflx", "relay":
	default:
		return fmt.Errorf("%w: bad candidate type %q", ErrMalformedSignaling, fields[7])
	}
	return nil
}

// controlCharIndex returns the offset of the first control character
// other than CR or LF, or -1 if the string is clean.
func controlCharIndex(s string) int {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 0x20 && b != '\r' && b != '\n' {
			return i
		}
		if b == 0x7f {
			return i
		}
	}
	return -1
}
