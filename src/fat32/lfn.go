package fat32

import (
	"golang.org/x/text/encoding/unicode"
)

// lfnCodec is the wire encoding a real FAT32 long-filename directory
// entry uses: its Name1/Name2/Name3 fields hold UTF-16LE code units,
// not ASCII, chained 13 characters at a time across as many LFN entries
// as the name needs (original_source's fs_info.rs dirent layout). This
// reference filesystem keeps one Inode per entry rather than emulating
// the on-disk chaining, but still round-trips every name through the
// real wire encoding so the fs façade's getdents64 path decodes actual
// UTF-16LE bytes the way it would against a real FAT32 volume.
var lfnCodec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encodeLFN converts name to the UTF-16LE bytes a long-filename entry
// stores on disk.
func encodeLFN(name string) ([]byte, error) {
	return lfnCodec.NewEncoder().Bytes([]byte(name))
}

// decodeLFN converts a long-filename entry's raw UTF-16LE bytes back to
// a UTF-8 Go string.
func decodeLFN(raw []byte) (string, error) {
	out, err := lfnCodec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
