package fat32

import (
	"testing"

	"rvkernel/src/virtio"
)

func TestEncodeDecodeLFNRoundTrips(t *testing.T) {
	for _, name := range []string{"init", "a.out", "café.txt", "日本語.bin"} {
		raw, err := encodeLFN(name)
		if err != nil {
			t.Fatalf("encodeLFN(%q): %v", name, err)
		}
		got, err := decodeLFN(raw)
		if err != nil {
			t.Fatalf("decodeLFN(%q): %v", name, err)
		}
		if got != name {
			t.Fatalf("round trip = %q, want %q", got, name)
		}
	}
}

func TestCreateStoresOnDiskLFNBytesAndNameDecodesBack(t *testing.T) {
	disk := virtio.NewMemDisk(4)
	fs := New(disk)

	n, err := fs.Create([]string{"café.txt"}, DT_REG)
	if err != 0 {
		t.Fatalf("Create: errno %d", err)
	}
	if len(n.lfn) == 0 {
		t.Fatalf("Create did not populate the on-disk LFN bytes")
	}
	name, derr := n.Name()
	if derr != nil {
		t.Fatalf("Name: %v", derr)
	}
	if name != "café.txt" {
		t.Fatalf("Name() = %q, want %q", name, "café.txt")
	}
}
