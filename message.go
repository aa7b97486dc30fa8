package someip

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Message is the interface for messages sent over the endpoint.
type Message interface {
	// Length returns the length of the serialized message.
	Length() int
	// Body returns the serialized message, SOME/IP header included.
	Body() []byte
}

// RawMessage is an already serialized SOME/IP message.
type RawMessage []byte

// Length returns the size of the serialized message.
func (m RawMessage) Length() int { return len(m) }

// Body returns the message bytes.
func (m RawMessage) Body() []byte { return m }

// MessageType is the SOME/IP message type field.
type MessageType uint8

const (
	// MessageTypeRequest is a request expecting a response.
	MessageTypeRequest MessageType = 0x00
	// MessageTypeRequestNoReturn is a fire and forget request.
	MessageTypeRequestNoReturn MessageType = 0x01
	// MessageTypeNotification is an event or notification.
	MessageTypeNotification MessageType = 0x02
	// MessageTypeResponse is a response without error.
	MessageTypeResponse MessageType = 0x80
	// MessageTypeError is a response carrying an error.
	MessageTypeError MessageType = 0x81
)

// ProtocolVersion is the only SOME/IP protocol version in use.
const ProtocolVersion = 0x01

// ErrShortHeader is returned when fewer than FullHeaderSize bytes are given.
var ErrShortHeader = errors.New("short SOME/IP header")

// Header is the SOME/IP message header.
type Header struct {
	Service          uint16
	Method           uint16
	Length           uint32 // bytes following the Length field
	Client           uint16
	Session          uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             MessageType
	ReturnCode       uint8
}

// ParseHeader decodes the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < FullHeaderSize {
		return Header{}, errors.Wrapf(ErrShortHeader, "got %d bytes", len(data))
	}
	return Header{
		Service:          binary.BigEndian.Uint16(data[0:2]),
		Method:           binary.BigEndian.Uint16(data[2:4]),
		Length:           binary.BigEndian.Uint32(data[4:8]),
		Client:           binary.BigEndian.Uint16(data[8:10]),
		Session:          binary.BigEndian.Uint16(data[10:12]),
		ProtocolVersion:  data[12],
		InterfaceVersion: data[13],
		Type:             MessageType(data[14]),
		ReturnCode:       data[15],
	}, nil
}

// MarshalTo writes the header into the first FullHeaderSize bytes of dst.
func (h Header) MarshalTo(dst []byte) {
	_ = dst[FullHeaderSize-1]
	binary.BigEndian.PutUint16(dst[0:2], h.Service)
	binary.BigEndian.PutUint16(dst[2:4], h.Method)
	binary.BigEndian.PutUint32(dst[4:8], h.Length)
	binary.BigEndian.PutUint16(dst[8:10], h.Client)
	binary.BigEndian.PutUint16(dst[10:12], h.Session)
	dst[12] = h.ProtocolVersion
	dst[13] = h.InterfaceVersion
	dst[14] = byte(h.Type)
	dst[15] = h.ReturnCode
}

// NewMessage serializes h followed by payload. The Length field is derived
// from the payload and a zero protocol version is replaced by
// ProtocolVersion.
func NewMessage(h Header, payload []byte) RawMessage {
	h.Length = uint32(FullHeaderSize - HeaderSize + len(payload))
	if h.ProtocolVersion == 0 {
		h.ProtocolVersion = ProtocolVersion
	}
	buf := make([]byte, FullHeaderSize+len(payload))
	h.MarshalTo(buf)
	copy(buf[FullHeaderSize:], payload)
	return buf
}
