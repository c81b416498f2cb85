package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame types
const (
	FrameTypeAudio      = 0x01
	FrameTypeScreen     = 0x02
	FrameTypeDeviceLost = 0x03
)

// Frame flags
const (
	FlagPermanent = 0x01 // device-lost: the device will not come back
)

// Frame structure sizes
const (
	HeaderSize        = 18 // 1 + 1 + 4 + 8 + 4 bytes
	ScreenTextLenSize = 4
	MIMESize          = 32
	MaxPayloadSize    = 16 << 20
)

// Header represents the 18-byte capture frame header
// Layout: [Type:1][Flags:1][Seq:4][CapturedAtMs:8][Len:4]
type Header struct {
	Type         uint8  // 0x01=Audio, 0x02=Screen, 0x03=DeviceLost
	Flags        uint8  // see Flag constants
	Sequence     uint32 // per connection frame counter
	CapturedAtMs int64  // capture time, unix milliseconds
	PayloadLen   uint32
}

// ScreenPayload is a screen snapshot with the text recognized on it.
// Layout: [TextLen:4][Text:N][MIME:32][Image:M]
type ScreenPayload struct {
	Text  string
	MIME  string
	Image []byte
}

// Frame represents a fully decoded capture frame
type Frame struct {
	Header *Header
	Audio  []byte         // PCM-16 LE mono, only set for audio frames
	Screen *ScreenPayload // only set for screen frames
	Reason string         // only set for device-lost frames
}

// CapturedAt returns the capture timestamp of the frame
func (h *Header) CapturedAt() time.Time {
	return time.UnixMilli(h.CapturedAtMs)
}

// Permanent reports whether a device-lost frame marks a permanent loss
func (h *Header) Permanent() bool {
	return h.Flags&FlagPermanent != 0
}

// ParseHeader parses the 18-byte capture frame header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		Type:         data[0],
		Flags:        data[1],
		Sequence:     binary.BigEndian.Uint32(data[2:6]),
		CapturedAtMs: int64(binary.BigEndian.Uint64(data[6:14])),
		PayloadLen:   binary.BigEndian.Uint32(data[14:18]),
	}, nil
}

// ParseScreenPayload parses a screen snapshot payload
func ParseScreenPayload(data []byte) (*ScreenPayload, error) {
	if len(data) < ScreenTextLenSize+MIMESize {
		return nil, fmt.Errorf("screen payload too short: expected at least %d bytes, got %d",
			ScreenTextLenSize+MIMESize, len(data))
	}

	textLen := int(binary.BigEndian.Uint32(data[0:4]))
	if textLen > len(data)-ScreenTextLenSize-MIMESize {
		return nil, fmt.Errorf("screen text length %d exceeds payload", textLen)
	}

	offset := ScreenTextLenSize
	payload := &ScreenPayload{
		Text: string(data[offset : offset+textLen]),
	}
	offset += textLen

	payload.MIME = ExtractString(data[offset : offset+MIMESize])
	offset += MIMESize

	if len(data) > offset {
		payload.Image = make([]byte, len(data)-offset)
		copy(payload.Image, data[offset:])
	}

	return payload, nil
}

// Decode parses a complete capture frame (header + payload)
func Decode(data []byte) (*Frame, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	// Validate frame length matches actual data
	if int(header.PayloadLen) != len(data)-HeaderSize {
		return nil, fmt.Errorf("frame length mismatch: header says %d payload bytes, got %d",
			header.PayloadLen, len(data)-HeaderSize)
	}

	frame := &Frame{Header: header}
	payload := data[HeaderSize:]

	switch header.Type {
	case FrameTypeAudio:
		frame.Audio = make([]byte, len(payload))
		copy(frame.Audio, payload)

	case FrameTypeScreen:
		screen, err := ParseScreenPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse screen payload: %w", err)
		}
		frame.Screen = screen

	case FrameTypeDeviceLost:
		frame.Reason = string(payload)
	}

	return frame, nil
}

// Encode serializes a frame. The header's PayloadLen is computed.
func Encode(frame *Frame) ([]byte, error) {
	if frame == nil || frame.Header == nil {
		return nil, fmt.Errorf("frame header is required")
	}

	var payload []byte
	switch frame.Header.Type {
	case FrameTypeAudio:
		payload = frame.Audio
	case FrameTypeScreen:
		if frame.Screen == nil {
			return nil, fmt.Errorf("screen frame without screen payload")
		}
		payload = EncodeScreenPayload(frame.Screen)
	case FrameTypeDeviceLost:
		payload = []byte(frame.Reason)
	}

	header := *frame.Header
	header.PayloadLen = uint32(len(payload))
	if err := ValidateHeader(&header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	data := make([]byte, HeaderSize+len(payload))
	data[0] = header.Type
	data[1] = header.Flags
	binary.BigEndian.PutUint32(data[2:6], header.Sequence)
	binary.BigEndian.PutUint64(data[6:14], uint64(header.CapturedAtMs))
	binary.BigEndian.PutUint32(data[14:18], header.PayloadLen)
	copy(data[HeaderSize:], payload)

	return data, nil
}

// EncodeScreenPayload serializes a screen snapshot payload. MIME types
// longer than the fixed field are truncated.
func EncodeScreenPayload(s *ScreenPayload) []byte {
	data := make([]byte, ScreenTextLenSize+len(s.Text)+MIMESize+len(s.Image))
	binary.BigEndian.PutUint32(data[0:4], uint32(len(s.Text)))
	offset := ScreenTextLenSize
	offset += copy(data[offset:], s.Text)
	copy(data[offset:offset+MIMESize], s.MIME)
	offset += MIMESize
	copy(data[offset:], s.Image)
	return data
}

// ValidateHeader validates the frame header fields
func ValidateHeader(header *Header) error {
	if !IsValidFrameType(header.Type) {
		return fmt.Errorf("invalid frame type: 0x%02x", header.Type)
	}

	if header.PayloadLen > MaxPayloadSize {
		return fmt.Errorf("payload too large: %d bytes (maximum %d)", header.PayloadLen, MaxPayloadSize)
	}

	switch header.Type {
	case FrameTypeAudio:
		if header.PayloadLen%2 != 0 {
			return fmt.Errorf("audio payload must hold whole PCM-16 samples, got %d bytes", header.PayloadLen)
		}
	case FrameTypeScreen:
		if header.PayloadLen < ScreenTextLenSize+MIMESize {
			return fmt.Errorf("screen payload too small: expected at least %d, got %d",
				ScreenTextLenSize+MIMESize, header.PayloadLen)
		}
	}

	return nil
}

// IsValidFrameType checks if the frame type is known
func IsValidFrameType(t uint8) bool {
	return t == FrameTypeAudio || t == FrameTypeScreen || t == FrameTypeDeviceLost
}

// TypeName returns the lower-case name of a frame type
func TypeName(t uint8) string {
	switch t {
	case FrameTypeAudio:
		return "audio"
	case FrameTypeScreen:
		return "screen"
	case FrameTypeDeviceLost:
		return "device_lost"
	default:
		return fmt.Sprintf("unknown(0x%02x)", t)
	}
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Flags:0x%02x, Seq:%d, CapturedAt:%d, Len:%d}",
		TypeName(h.Type), h.Flags, h.Sequence, h.CapturedAtMs, h.PayloadLen)
}
