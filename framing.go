package someip

import (
	"bytes"
	"encoding/binary"
)

// SOME/IP framing constants.
const (
	// HeaderSize is the part of the SOME/IP header needed to compute a
	// message's size: Message ID (4 bytes) and Length (4 bytes).
	HeaderSize = 8
	// FullHeaderSize is the complete SOME/IP header size.
	FullHeaderSize = 16
	// CookieSize is the size of a magic cookie message.
	CookieSize = 16

	lengthOffset = 4

	// MessageSizeUnlimited disables the maximum message size check.
	MessageSizeUnlimited = 0
)

var (
	// ServiceCookie is the magic cookie a service sends towards its clients.
	ServiceCookie = [CookieSize]byte{
		0xFF, 0xFF, 0x80, 0x00,
		0x00, 0x00, 0x00, 0x08,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x01, 0x01, 0x02, 0x00,
	}
	// ClientCookie is the magic cookie a client sends towards a service.
	ClientCookie = [CookieSize]byte{
		0xFF, 0xFF, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x08,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x01, 0x01, 0x01, 0x00,
	}
)

// MessageSize returns the total size of the message starting at data[0],
// header included. It returns 0 if data is shorter than HeaderSize.
func MessageSize(data []byte) uint64 {
	if len(data) < HeaderSize {
		return 0
	}
	return HeaderSize + uint64(binary.BigEndian.Uint32(data[lengthOffset:HeaderSize]))
}

// IsServiceCookie reports whether data starts with a service magic cookie.
func IsServiceCookie(data []byte) bool {
	return len(data) >= CookieSize && bytes.Equal(data[:CookieSize], ServiceCookie[:])
}

// FindCookie returns the offset of the first complete service magic cookie
// in data, or -1 if there is none.
func FindCookie(data []byte) int {
	return bytes.Index(data, ServiceCookie[:])
}

// partialCookie returns the length of the longest suffix of data, shorter
// than a cookie, that is the beginning of a service magic cookie.
func partialCookie(data []byte) int {
	for n := min(len(data), CookieSize-1); n > 0; n-- {
		if bytes.Equal(data[len(data)-n:], ServiceCookie[:n]) {
			return n
		}
	}
	return 0
}
