package audio

import (
	"testing"

	"github.com/gen2brain/malgo"
)

func TestDeviceIDRoundTrip(t *testing.T) {
	var id malgo.DeviceID
	for i := range id {
		id[i] = byte(i)
	}

	encoded := encodeDeviceID(id)
	decoded, err := decodeDeviceID(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != id {
		t.Errorf("round trip changed the ID")
	}
}

func TestDecodeDeviceIDRejectsGarbage(t *testing.T) {
	if _, err := decodeDeviceID("not-hex"); err == nil {
		t.Error("expected error for non-hex device ID")
	}
}
