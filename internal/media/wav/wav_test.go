package wav

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeHeaderAndSamples(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []float32{0, 1, -1, 2}, 48000); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw := buf.Bytes()
	if len(raw) != 44+8 {
		t.Fatalf("len = %d, want 52", len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" || string(raw[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", raw[:40])
	}
	if rate := binary.LittleEndian.Uint32(raw[24:28]); rate != 48000 {
		t.Fatalf("sample rate = %d", rate)
	}
	want := []int16{0, 32767, -32767, 32767}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(raw[44+i*2:]))
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
	if err := Encode(&buf, nil, 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}
