// Package security implements the security codec contract of spec.md
// section 6: secure_frame/parse_frame/mic_len. Link-layer security
// internals (key management, nonce construction per 802.15.4-2015 Annex
// B) are explicitly out of scope per spec.md section 1 ("opaque codec");
// this package fixes the interface the engine depends on and ships one
// concrete toy implementation so the LLSEC_ENABLED branches in the TX/RX
// engines are exercised without pulling in a real crypto stack. None of
// the example repos carry an AEAD/crypto dependency with any other tie to
// this domain, so the toy codec stays on the standard library's hash
// package rather than importing one for a single MIC; see DESIGN.md.
package security

import (
	"encoding/binary"
	"errors"
	"hash/fnv"

	"github.com/doismellburning/samoyed/internal/asn"
)

// Codec is the pluggable security transform C6/C7 call through. Real
// deployments would back this with a CCM*-based implementation; this
// package only ships Toy.
type Codec interface {
	// MICLen reports how many trailer bytes SecureFrame appends for a
	// frame whose header is hdrLen bytes.
	MICLen(hdrLen int) int
	// SecureFrame authenticates (and optionally encrypts) the payload
	// region of buf[hdrLen:hdrLen+payloadLen] in place, appending a MIC
	// computed over the whole frame plus srcAddr and currentASN, and
	// returns the number of bytes added.
	SecureFrame(buf []byte, hdrLen, payloadLen int, srcAddr uint32, currentASN asn.ASN) (int, error)
	// ParseFrame verifies and (if sealed) decrypts a secured frame
	// in-place, given the frame's own claimed source address, returning
	// false if authentication fails.
	ParseFrame(buf []byte, hdrLen, payloadLen int, srcAddr uint32, currentASN asn.ASN) bool
}

var ErrBufferTooSmall = errors.New("security: buffer too small for mic")

// Toy implements Codec with an XOR keystream derived from a shared key
// (standing in for the per-pairwise derived key a real implementation
// would use) plus a truncated 32-bit FNV-1a MIC over header, plaintext
// payload (computed before the XOR), source address and the low 32 bits
// of the ASN. It is not a real AEAD and must never be used
// outside of this simulation.
type Toy struct {
	Key []byte
}

// NewToy returns a Toy codec keyed with key (copied).
func NewToy(key []byte) *Toy {
	k := make([]byte, len(key))
	copy(k, key)
	return &Toy{Key: k}
}

const micLen = 4

// MICLen always returns 4: one truncated FNV-1a hash's worth of bytes.
func (t *Toy) MICLen(int) int { return micLen }

func (t *Toy) keystreamByte(i int) byte {
	if len(t.Key) == 0 {
		return 0
	}
	return t.Key[i%len(t.Key)]
}

func (t *Toy) xor(buf []byte, base int) {
	for i := range buf {
		buf[i] ^= t.keystreamByte(base + i)
	}
}

func (t *Toy) mic(buf []byte, hdrLen, payloadLen int, srcAddr uint32, a asn.ASN) uint32 {
	h := fnv.New32a()
	h.Write(buf[:hdrLen+payloadLen])
	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], srcAddr)
	asnBytes := a.Bytes()
	binary.BigEndian.PutUint32(tail[4:8], uint32(asn.FromBytes(asnBytes)))
	h.Write(tail[:])
	h.Write(t.Key)
	return h.Sum32()
}

// SecureFrame XOR-seals buf[hdrLen:hdrLen+payloadLen] and appends the MIC.
func (t *Toy) SecureFrame(buf []byte, hdrLen, payloadLen int, srcAddr uint32, currentASN asn.ASN) (int, error) {
	if len(buf) < hdrLen+payloadLen+micLen {
		return 0, ErrBufferTooSmall
	}
	m := t.mic(buf, hdrLen, payloadLen, srcAddr, currentASN)
	t.xor(buf[hdrLen:hdrLen+payloadLen], hdrLen)
	binary.BigEndian.PutUint32(buf[hdrLen+payloadLen:hdrLen+payloadLen+micLen], m)
	return micLen, nil
}

// ParseFrame verifies the MIC, then un-XORs the payload in place.
// srcAddr/currentASN must match the values used to seal the frame.
func (t *Toy) ParseFrame(buf []byte, hdrLen, payloadLen int, srcAddr uint32, currentASN asn.ASN) bool {
	if len(buf) < hdrLen+payloadLen+micLen {
		return false
	}
	sealed := make([]byte, hdrLen+payloadLen)
	copy(sealed, buf[:hdrLen+payloadLen])
	t.xor(sealed[hdrLen:], hdrLen)

	want := t.mic(sealed, hdrLen, payloadLen, srcAddr, currentASN)
	got := binary.BigEndian.Uint32(buf[hdrLen+payloadLen : hdrLen+payloadLen+micLen])
	if want != got {
		return false
	}
	copy(buf[hdrLen:hdrLen+payloadLen], sealed[hdrLen:])
	return true
}
