package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func rawHeader(frameType, flags uint8, seq uint32, capturedAt int64, payloadLen uint32) []byte {
	data := make([]byte, HeaderSize)
	data[0] = frameType
	data[1] = flags
	binary.BigEndian.PutUint32(data[2:6], seq)
	binary.BigEndian.PutUint64(data[6:14], uint64(capturedAt))
	binary.BigEndian.PutUint32(data[14:18], payloadLen)
	return data
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid audio header",
			data: rawHeader(FrameTypeAudio, 0, 42, 1700000000123, 320),
			expected: &Header{
				Type:         FrameTypeAudio,
				Sequence:     42,
				CapturedAtMs: 1700000000123,
				PayloadLen:   320,
			},
		},
		{
			name: "permanent device lost header",
			data: rawHeader(FrameTypeDeviceLost, FlagPermanent, 7, 1, 0),
			expected: &Header{
				Type:         FrameTypeDeviceLost,
				Flags:        FlagPermanent,
				Sequence:     7,
				CapturedAtMs: 1,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *header != *tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, header)
			}
		})
	}
}

func TestEncodeDecodeAudio(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
	frame := &Frame{
		Header: &Header{Type: FrameTypeAudio, Sequence: 3, CapturedAtMs: 1700000000000},
		Audio:  pcm,
	}

	data, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != HeaderSize+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", HeaderSize+len(pcm), len(data))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.Audio, pcm) {
		t.Errorf("Expected audio %v, got %v", pcm, decoded.Audio)
	}
	if decoded.Header.CapturedAt().UnixMilli() != 1700000000000 {
		t.Errorf("Expected capture time to survive, got %v", decoded.Header.CapturedAt())
	}
}

func TestEncodeDecodeScreen(t *testing.T) {
	frame := &Frame{
		Header: &Header{Type: FrameTypeScreen, Sequence: 9, CapturedAtMs: 5},
		Screen: &ScreenPayload{
			Text:  "Pricing vs Acme Corp",
			MIME:  "image/png",
			Image: []byte{0x89, 'P', 'N', 'G'},
		},
	}

	data, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Screen == nil {
		t.Fatal("Expected screen payload")
	}
	if decoded.Screen.Text != "Pricing vs Acme Corp" {
		t.Errorf("Expected text to survive, got %q", decoded.Screen.Text)
	}
	if decoded.Screen.MIME != "image/png" {
		t.Errorf("Expected MIME image/png, got %q", decoded.Screen.MIME)
	}
	if !bytes.Equal(decoded.Screen.Image, frame.Screen.Image) {
		t.Errorf("Expected image bytes to survive")
	}
}

func TestDecodeDeviceLost(t *testing.T) {
	data, err := Encode(&Frame{
		Header: &Header{Type: FrameTypeDeviceLost, Flags: FlagPermanent},
		Reason: "microphone unplugged",
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !frame.Header.Permanent() {
		t.Error("Expected permanent flag")
	}
	if frame.Reason != "microphone unplugged" {
		t.Errorf("Expected reason to survive, got %q", frame.Reason)
	}
}

func TestDecodeRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{
			name:     "unknown type",
			data:     rawHeader(0x09, 0, 0, 0, 0),
			errorMsg: "invalid frame type",
		},
		{
			name:     "length mismatch",
			data:     append(rawHeader(FrameTypeAudio, 0, 0, 0, 4), 0x00, 0x00),
			errorMsg: "frame length mismatch",
		},
		{
			name:     "odd audio payload",
			data:     append(rawHeader(FrameTypeAudio, 0, 0, 0, 3), 0x00, 0x00, 0x00),
			errorMsg: "whole PCM-16 samples",
		},
		{
			name:     "screen payload too small",
			data:     append(rawHeader(FrameTypeScreen, 0, 0, 0, 4), 0, 0, 0, 0),
			errorMsg: "screen payload too small",
		},
		{
			name: "screen text overruns payload",
			data: func() []byte {
				payload := make([]byte, ScreenTextLenSize+MIMESize)
				binary.BigEndian.PutUint32(payload[0:4], 100)
				return append(rawHeader(FrameTypeScreen, 0, 0, 0, uint32(len(payload))), payload...)
			}(),
			errorMsg: "exceeds payload",
		},
		{
			name:     "oversized payload",
			data:     rawHeader(FrameTypeAudio, 0, 0, 0, MaxPayloadSize+2),
			errorMsg: "payload too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestExtractString(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"null terminated", []byte{'i', 'm', 'g', 0, 'x'}, "img"},
		{"no terminator", []byte("abc"), "abc"},
		{"empty", []byte{0, 0, 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractString(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestHeaderString(t *testing.T) {
	h := &Header{Type: FrameTypeScreen, Sequence: 2, PayloadLen: 40}
	s := h.String()
	if !strings.Contains(s, "screen") || !strings.Contains(s, "Seq:2") {
		t.Errorf("Unexpected header string: %s", s)
	}
}
