package wire

import "testing"

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	var handle [HandleSize]byte
	for i := range handle {
		handle[i] = byte(i + 1)
	}
	payload := []byte("hello gateway")

	frame := EncodeFrame(handle, payload)
	gotHandle, gotPayload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotHandle != handle {
		t.Fatalf("handle = %v, want %v", gotHandle, handle)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestEncodeDecodeEmptyPayload(t *testing.T) {
	var handle [HandleSize]byte
	frame := EncodeFrame(handle, nil)
	if len(frame) != HandleSize+sizePrefixLen {
		t.Fatalf("frame length = %d, want %d", len(frame), HandleSize+sizePrefixLen)
	}
	_, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("payload = %v, want empty", payload)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestDecodeFrameSizeMismatch(t *testing.T) {
	var handle [HandleSize]byte
	frame := EncodeFrame(handle, []byte("abc"))
	frame[HandleSize+3] = 0xFF // corrupt the declared size's low byte
	if _, _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected error for declared/actual size mismatch")
	}
}

func TestDecodeFrameBigEndianSize(t *testing.T) {
	var handle [HandleSize]byte
	payload := make([]byte, 300) // exercises the size prefix's high byte
	frame := EncodeFrame(handle, payload)
	if frame[HandleSize] != 0 || frame[HandleSize+1] != 0 || frame[HandleSize+2] != 1 {
		t.Fatalf("size prefix not big-endian: % x", frame[HandleSize:HandleSize+4])
	}
	_, gotPayload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(gotPayload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(gotPayload), len(payload))
	}
}
