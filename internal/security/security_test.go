package security_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/security"
)

func TestSecureFrameParseFrameRoundTrip(t *testing.T) {
	codec := security.NewToy([]byte("test-key"))
	hdrLen, payloadLen := 11, 8

	buf := make([]byte, hdrLen+payloadLen+codec.MICLen(hdrLen))
	copy(buf[:hdrLen], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	copy(buf[hdrLen:hdrLen+payloadLen], []byte("payload!"))

	plainPayload := make([]byte, payloadLen)
	copy(plainPayload, buf[hdrLen:hdrLen+payloadLen])

	added, err := codec.SecureFrame(buf, hdrLen, payloadLen, 0xCAFE, asn.ASN(77))
	require.NoError(t, err)
	assert.Equal(t, codec.MICLen(hdrLen), added)
	assert.NotEqual(t, plainPayload, buf[hdrLen:hdrLen+payloadLen], "payload should be transformed once sealed")

	ok := codec.ParseFrame(buf, hdrLen, payloadLen, 0xCAFE, asn.ASN(77))
	require.True(t, ok)
	assert.Equal(t, plainPayload, buf[hdrLen:hdrLen+payloadLen])
}

func TestParseFrameRejectsWrongSource(t *testing.T) {
	codec := security.NewToy([]byte("k"))
	hdrLen, payloadLen := 11, 4
	buf := make([]byte, hdrLen+payloadLen+codec.MICLen(hdrLen))
	_, err := codec.SecureFrame(buf, hdrLen, payloadLen, 1, asn.ASN(5))
	require.NoError(t, err)

	assert.False(t, codec.ParseFrame(buf, hdrLen, payloadLen, 2, asn.ASN(5)))
}

func TestParseFrameRejectsWrongASN(t *testing.T) {
	codec := security.NewToy([]byte("k"))
	hdrLen, payloadLen := 11, 4
	buf := make([]byte, hdrLen+payloadLen+codec.MICLen(hdrLen))
	_, err := codec.SecureFrame(buf, hdrLen, payloadLen, 1, asn.ASN(5))
	require.NoError(t, err)

	assert.False(t, codec.ParseFrame(buf, hdrLen, payloadLen, 1, asn.ASN(6)))
}

func TestParseFrameRejectsTamperedPayload(t *testing.T) {
	codec := security.NewToy([]byte("k"))
	hdrLen, payloadLen := 11, 4
	buf := make([]byte, hdrLen+payloadLen+codec.MICLen(hdrLen))
	_, err := codec.SecureFrame(buf, hdrLen, payloadLen, 1, asn.ASN(5))
	require.NoError(t, err)

	buf[hdrLen] ^= 0xFF
	assert.False(t, codec.ParseFrame(buf, hdrLen, payloadLen, 1, asn.ASN(5)))
}

func TestSecureFrameRejectsUndersizedBuffer(t *testing.T) {
	codec := security.NewToy([]byte("k"))
	buf := make([]byte, 4)
	_, err := codec.SecureFrame(buf, 11, 8, 1, asn.ASN(1))
	require.ErrorIs(t, err, security.ErrBufferTooSmall)
}

func TestSecureFrameParseFrameRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		key := []byte(rapid.StringN(1, 16, -1).Draw(tt, "key"))
		codec := security.NewToy(key)
		hdrLen := rapid.IntRange(1, 20).Draw(tt, "hdrLen")
		payloadLen := rapid.IntRange(0, 40).Draw(tt, "payloadLen")
		srcAddr := rapid.Uint32().Draw(tt, "srcAddr")
		a := asn.ASN(rapid.Uint64Range(0, asn.Mask).Draw(tt, "asn"))

		buf := make([]byte, hdrLen+payloadLen+codec.MICLen(hdrLen))
		for i := range buf[:hdrLen+payloadLen] {
			buf[i] = byte(i)
		}
		plain := make([]byte, payloadLen)
		copy(plain, buf[hdrLen:hdrLen+payloadLen])

		_, err := codec.SecureFrame(buf, hdrLen, payloadLen, srcAddr, a)
		require.NoError(tt, err)

		ok := codec.ParseFrame(buf, hdrLen, payloadLen, srcAddr, a)
		require.True(tt, ok)
		assert.Equal(tt, plain, buf[hdrLen:hdrLen+payloadLen])
	})
}
