package server

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Strange-Jackle/meeting-monitor/internal/protocol"
	"github.com/Strange-Jackle/meeting-monitor/internal/session"
)

func dialCapture(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial capture: %v", err)
	}
	return conn
}

func encodeFrame(t *testing.T, frame *protocol.Frame) []byte {
	t.Helper()
	data, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return data
}

func pcm(samples ...int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

func closeNormally(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("close: %v", err)
	}
	conn.Close()
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCaptureForwardsFramesInOrder(t *testing.T) {
	sink := &fakeControl{}
	h := NewCaptureHandler(sink, CaptureConfig{}, testLogger(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialCapture(t, srv)
	capturedAt := time.UnixMilli(1_700_000_000_000)

	frames := []*protocol.Frame{
		{Header: &protocol.Header{Type: protocol.FrameTypeAudio, Sequence: 1, CapturedAtMs: capturedAt.UnixMilli()}, Audio: pcm(1, 2)},
		{Header: &protocol.Header{Type: protocol.FrameTypeAudio, Sequence: 2, CapturedAtMs: capturedAt.UnixMilli() + 20}, Audio: pcm(3, 4)},
		{Header: &protocol.Header{Type: protocol.FrameTypeScreen, Sequence: 3}, Screen: &protocol.ScreenPayload{Text: "Pricing: Acme", MIME: "image/png", Image: []byte{0x89}}},
		{Header: &protocol.Header{Type: protocol.FrameTypeAudio, Sequence: 4}, Audio: pcm(5)},
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(t, f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	closeNormally(t, conn)

	waitFor(t, func() bool {
		return h.GetStatistics().FramesProcessed == uint64(len(frames))
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.audio) != 3 {
		t.Fatalf("expected 3 audio pushes, got %d", len(sink.audio))
	}
	want := [][]int16{{1, 2}, {3, 4}, {5}}
	for i, push := range sink.audio {
		if len(push.samples) != len(want[i]) || push.samples[0] != want[i][0] {
			t.Errorf("audio push %d: expected %v, got %v", i, want[i], push.samples)
		}
	}
	if !sink.audio[0].capturedAt.Equal(capturedAt) {
		t.Errorf("expected capture time %v, got %v", capturedAt, sink.audio[0].capturedAt)
	}
	if sink.audio[2].capturedAt.IsZero() {
		t.Error("frames without a capture time should be stamped on arrival")
	}

	if len(sink.screens) != 1 || sink.screens[0].Text != "Pricing: Acme" || sink.screens[0].MIME != "image/png" {
		t.Errorf("unexpected screens: %+v", sink.screens)
	}
	if len(sink.losses) != 0 {
		t.Errorf("normal close should not report device loss, got %+v", sink.losses)
	}
}

func TestCaptureCountsDecodeErrors(t *testing.T) {
	sink := &fakeControl{}
	h := NewCaptureHandler(sink, CaptureConfig{}, testLogger(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialCapture(t, srv)
	valid := encodeFrame(t, &protocol.Frame{
		Header: &protocol.Header{Type: protocol.FrameTypeAudio, Sequence: 2},
		Audio:  pcm(7, 8),
	})

	truncated := []byte{0x01, 0x00, 0x00}
	mismatched := append([]byte{}, valid[:protocol.HeaderSize+1]...)
	messages := [][]byte{truncated, mismatched, valid}
	for _, msg := range messages {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// Text messages are ignored
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeNormally(t, conn)

	waitFor(t, func() bool {
		stats := h.GetStatistics()
		return stats.FramesProcessed+stats.DecodeErrors == 3
	})

	stats := h.GetStatistics()
	if stats.DecodeErrors != 2 {
		t.Errorf("expected 2 decode errors, got %d", stats.DecodeErrors)
	}
	if stats.FramesReceived != 3 {
		t.Errorf("expected 3 binary frames received, got %d", stats.FramesReceived)
	}
}

func TestCaptureDeviceLostFrames(t *testing.T) {
	tests := []struct {
		name      string
		flags     uint8
		reason    string
		source    string
		detail    string
		permanent bool
	}{
		{"audio default", 0, "microphone unplugged", "audio", "microphone unplugged", false},
		{"permanent", protocol.FlagPermanent, "audio: device removed", "audio", "device removed", true},
		{"screen", 0, "screen: share ended", "screen", "share ended", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeControl{}
			h := NewCaptureHandler(sink, CaptureConfig{}, testLogger(), nil)
			srv := httptest.NewServer(h)
			defer srv.Close()

			conn := dialCapture(t, srv)
			frame := encodeFrame(t, &protocol.Frame{
				Header: &protocol.Header{Type: protocol.FrameTypeDeviceLost, Flags: tt.flags, Sequence: 1},
				Reason: tt.reason,
			})
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				t.Fatalf("write: %v", err)
			}
			closeNormally(t, conn)

			waitFor(t, func() bool { return h.GetStatistics().FramesProcessed == 1 })

			sink.mu.Lock()
			defer sink.mu.Unlock()
			if len(sink.losses) != 1 {
				t.Fatalf("expected 1 device loss, got %d", len(sink.losses))
			}
			got := sink.losses[0]
			if got.source != tt.source || got.detail != tt.detail || got.permanent != tt.permanent {
				t.Errorf("expected %s/%q/%v, got %s/%q/%v",
					tt.source, tt.detail, tt.permanent, got.source, got.detail, got.permanent)
			}
		})
	}
}

func TestCaptureAbruptDisconnectReportsLoss(t *testing.T) {
	sink := &fakeControl{}
	h := NewCaptureHandler(sink, CaptureConfig{}, testLogger(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialCapture(t, srv)
	waitFor(t, func() bool { return h.GetStatistics().Connections == 1 })
	conn.Close()

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.losses) == 1
	})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.losses[0].permanent {
		t.Error("a dropped connection is not a permanent loss")
	}
	waitFor(t, func() bool { return h.GetStatistics().Connections == 0 })
}

func TestCaptureRejectedWithoutSession(t *testing.T) {
	sink := &fakeControl{pushErr: session.ErrNoSession}
	h := NewCaptureHandler(sink, CaptureConfig{}, testLogger(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialCapture(t, srv)
	frame := encodeFrame(t, &protocol.Frame{
		Header: &protocol.Header{Type: protocol.FrameTypeAudio, Sequence: 1},
		Audio:  pcm(1),
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeNormally(t, conn)

	waitFor(t, func() bool { return h.GetStatistics().FramesRejected == 1 })
	if got := h.GetStatistics().FramesProcessed; got != 0 {
		t.Errorf("expected no processed frames, got %d", got)
	}
}

func TestCaptureConnectionLimit(t *testing.T) {
	sink := &fakeControl{}
	h := NewCaptureHandler(sink, CaptureConfig{MaxConns: 1}, testLogger(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	first := dialCapture(t, srv)
	defer first.Close()
	waitFor(t, func() bool { return h.GetStatistics().Connections == 1 })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the second capture connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}
