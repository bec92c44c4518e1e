// Package frame implements the frame codec contract of spec.md section 6:
// parsing/creating enhanced ACKs, parsing data frames, and patching a
// beacon's Sync-IE. The wire format is this spec's own (a minimal
// 802.15.4-ish header plus information elements) since the teacher's
// AX.25 framing (ax25_pad.go) is a different protocol entirely; only the
// parse/create split and explicit header-length-out-parameter idiom is
// carried over from ax25_pad.go's ax25_format_addrs/ax25_get_info shape.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/doismellburning/samoyed/internal/asn"
)

// Header-field layout for the minimal frame this package speaks:
//
//	byte 0:   frame type (TypeData, TypeEACK, TypeBeacon)
//	byte 1:   flags (FlagAckRequested, FlagNACK)
//	byte 2:   sequence number
//	byte 3-6: source address (4 bytes, big-endian)
//	byte 7-10: destination address (4 bytes, big-endian; all-ones = broadcast)
//	payload follows
const HeaderLen = 11

const BroadcastAddressWire = 0xFFFFFFFF

type Type byte

const (
	TypeData Type = iota
	TypeEACK
	TypeBeacon
)

type Flag byte

const (
	FlagAckRequested Flag = 1 << iota
	FlagNACK
)

// Frame is the parsed form of an over-the-air frame.
type Frame struct {
	Type        Type
	Flags       Flag
	SeqNo       byte
	Source      uint32
	Destination uint32
	Payload     []byte
}

var (
	ErrTooShort      = errors.New("frame: buffer shorter than header")
	ErrSeqNoMismatch = errors.New("frame: ack sequence number mismatch")
	ErrNotAck        = errors.New("frame: not an enhanced ack")
	ErrIEMissing     = errors.New("frame: expected information element missing")
)

// Parse implements parse(buf, len) -> (frame, hdr_len)|err of spec.md
// section 6.
func Parse(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderLen {
		return Frame{}, 0, ErrTooShort
	}
	f := Frame{
		Type:        Type(buf[0]),
		Flags:       Flag(buf[1]),
		SeqNo:       buf[2],
		Source:      binary.BigEndian.Uint32(buf[3:7]),
		Destination: binary.BigEndian.Uint32(buf[7:11]),
		Payload:     buf[HeaderLen:],
	}
	return f, HeaderLen, nil
}

// IsBroadcast reports whether f's destination is the broadcast address.
func (f Frame) IsBroadcast() bool {
	return f.Destination == BroadcastAddressWire
}

// --- Enhanced ACK ---
//
// An enhanced ACK carries one information element: a signed 16-bit
// microsecond time correction, plus the NACK bit in the flags byte. The
// IE occupies the first 2 bytes of the payload.

const eackIELen = 2

// CreateEACK implements create_eack(buf, cap, src_addr, seqno,
// time_correction_us, nack_bit) -> len of spec.md section 6. It writes
// into buf and returns the number of bytes written, or -1 if cap is too
// small.
func CreateEACK(buf []byte, srcAddr uint32, seqno byte, timeCorrectionUS int16, nack bool) int {
	total := HeaderLen + eackIELen
	if len(buf) < total {
		return -1
	}
	buf[0] = byte(TypeEACK)
	var flags Flag
	if nack {
		flags |= FlagNACK
	}
	buf[1] = byte(flags)
	buf[2] = seqno
	binary.BigEndian.PutUint32(buf[3:7], srcAddr)
	binary.BigEndian.PutUint32(buf[7:11], BroadcastAddressWire) // ack has no meaningful destination address field
	binary.BigEndian.PutUint16(buf[HeaderLen:HeaderLen+2], uint16(timeCorrectionUS))
	return total
}

// ParsedEACK is the decoded form of an enhanced ACK.
type ParsedEACK struct {
	Source           uint32
	SeqNo            byte
	TimeCorrectionUS int16
	NACK             bool
}

// ParseEACK implements parse_eack(buf, len, expected_seqno) -> (frame,
// ies, hdr_len)|err of spec.md section 6.
func ParseEACK(buf []byte, expectedSeqNo byte) (ParsedEACK, int, error) {
	f, hdrLen, err := Parse(buf)
	if err != nil {
		return ParsedEACK{}, 0, err
	}
	if f.Type != TypeEACK {
		return ParsedEACK{}, 0, ErrNotAck
	}
	if f.SeqNo != expectedSeqNo {
		return ParsedEACK{}, 0, ErrSeqNoMismatch
	}
	if len(f.Payload) < eackIELen {
		return ParsedEACK{}, 0, ErrIEMissing
	}
	correction := int16(binary.BigEndian.Uint16(f.Payload[:2]))
	return ParsedEACK{
		Source:           f.Source,
		SeqNo:            f.SeqNo,
		TimeCorrectionUS: correction,
		NACK:             f.Flags&FlagNACK != 0,
	}, hdrLen + eackIELen, nil
}

// --- Sync-IE (beacon) patching ---

// syncIELen is the wire size of the Sync-IE: a 5-byte ASN plus a 2-byte
// join priority/guard-beacon-tag field.
const syncIELen = 7

// UpdateEB implements update_eb(buf, len, sync_ie_offset) -> bool of
// spec.md section 6: patches an outgoing enhanced beacon's Sync-IE with
// the current ASN. guardTag is 0 for a normal beacon or 1..3 identifying
// which of a guard-beacon triple this transmission is (SPEC_FULL.md
// supplemented feature 1); pass 0 when GuardBeacon is disabled.
func UpdateEB(buf []byte, syncIEOffset int, currentASN asn.ASN, guardTag byte) bool {
	if syncIEOffset < 0 || syncIEOffset+syncIELen > len(buf) {
		return false
	}
	asnBytes := currentASN.Bytes()
	copy(buf[syncIEOffset:syncIEOffset+5], asnBytes[:])
	buf[syncIEOffset+5] = guardTag
	buf[syncIEOffset+6] = 0 // reserved/join-priority, unused by this engine
	return true
}

// ParseSyncIE reads back a Sync-IE previously written by UpdateEB, used
// by the RX engine when it recognizes an incoming frame as a beacon.
func ParseSyncIE(buf []byte, syncIEOffset int) (asn.ASN, byte, bool) {
	if syncIEOffset < 0 || syncIEOffset+syncIELen > len(buf) {
		return 0, 0, false
	}
	var asnBytes [5]byte
	copy(asnBytes[:], buf[syncIEOffset:syncIEOffset+5])
	return asn.FromBytes(asnBytes), buf[syncIEOffset+5], true
}
