package codec

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestExpandDoublesLength(t *testing.T) {
	in := []byte{0x00, 0x7E, 0x80, 0xFF}
	out := ExpandULaw(in)
	if len(out) != len(in)*2 {
		t.Fatalf("expected %d bytes, got %d", len(in)*2, len(out))
	}
	if ExpandULaw(nil) != nil {
		t.Fatalf("expected nil output for nil input")
	}
}

func TestCompressRejectsOddLength(t *testing.T) {
	if _, err := CompressULaw([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatalf("expected error for odd-length pcm")
	}
}

func TestExpandCompressIdempotent(t *testing.T) {
	// Every code except negative zero (0x7F) survives a decode/encode cycle
	// byte-exact; 0x7F folds onto positive zero by construction.
	for code := 0; code < 256; code++ {
		in := []byte{byte(code)}
		back, err := CompressULaw(ExpandULaw(in))
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		if byte(code) == 0x7F {
			if back[0] != 0xFF {
				t.Fatalf("negative zero should fold to 0xFF, got %#x", back[0])
			}
			continue
		}
		if back[0] != byte(code) {
			t.Fatalf("code %#x round-tripped to %#x", code, back[0])
		}
	}
}

func TestCompressExpandBoundedError(t *testing.T) {
	// Companding is lossy; reconstruction error must stay within the largest
	// mu-law quantization step.
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32635}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	companded, err := CompressULaw(pcm)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(companded) != len(samples) {
		t.Fatalf("expected one code per sample")
	}
	rebuilt := ExpandULaw(companded)
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(rebuilt[2*i:]))
		if diff := math.Abs(float64(got) - float64(want)); diff > 2048 {
			t.Fatalf("sample %d: %d rebuilt as %d (diff %.0f)", i, want, got, diff)
		}
	}
}
