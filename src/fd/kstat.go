package fd

import "encoding/binary"

// Kstat mirrors the riscv64 Linux struct stat layout byte-for-byte
// (spec §6: "Kstat ... matches Linux struct stat with the standard
// field order", 128 bytes total) so newfstatat/fstat can hand its
// bytes straight to a user buffer without per-field translation.
// Grounded on stat/stat.go's Stat_t, generalized from that type's
// 9-field subset to the full kernel layout and widened from uint to
// explicit 32/64-bit fields since the wire format is fixed-width.
type Kstat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	pad1    uint64
	Size    int64
	Blksize int32
	pad2    int32
	Blocks  int64
	Atime   int64
	AtimeNs int64
	Mtime   int64
	MtimeNs int64
	Ctime   int64
	CtimeNs int64
	unused4 uint32
	unused5 uint32
}

const KstatSize = 128

// Bytes serializes k into the fixed 128-byte little-endian wire
// layout the newfstatat/fstat syscalls copy into user memory.
func (k *Kstat) Bytes() []byte {
	b := make([]byte, KstatSize)
	binary.LittleEndian.PutUint64(b[0:8], k.Dev)
	binary.LittleEndian.PutUint64(b[8:16], k.Ino)
	binary.LittleEndian.PutUint32(b[16:20], k.Mode)
	binary.LittleEndian.PutUint32(b[20:24], k.Nlink)
	binary.LittleEndian.PutUint32(b[24:28], k.Uid)
	binary.LittleEndian.PutUint32(b[28:32], k.Gid)
	binary.LittleEndian.PutUint64(b[32:40], k.Rdev)
	binary.LittleEndian.PutUint64(b[40:48], k.pad1)
	binary.LittleEndian.PutUint64(b[48:56], uint64(k.Size))
	binary.LittleEndian.PutUint32(b[56:60], uint32(k.Blksize))
	binary.LittleEndian.PutUint32(b[60:64], uint32(k.pad2))
	binary.LittleEndian.PutUint64(b[64:72], uint64(k.Blocks))
	binary.LittleEndian.PutUint64(b[72:80], uint64(k.Atime))
	binary.LittleEndian.PutUint64(b[80:88], uint64(k.AtimeNs))
	binary.LittleEndian.PutUint64(b[88:96], uint64(k.Mtime))
	binary.LittleEndian.PutUint64(b[96:104], uint64(k.MtimeNs))
	binary.LittleEndian.PutUint64(b[104:112], uint64(k.Ctime))
	binary.LittleEndian.PutUint64(b[112:120], uint64(k.CtimeNs))
	binary.LittleEndian.PutUint32(b[120:124], k.unused4)
	binary.LittleEndian.PutUint32(b[124:128], k.unused5)
	return b
}

// File type bits for Kstat.Mode's upper nibble (S_IFREG etc, spec §6).
const (
	S_IFMT  = 0170000
	S_IFREG = 0100000
	S_IFDIR = 0040000
	S_IFCHR = 0020000
	S_IFIFO = 0010000
)
