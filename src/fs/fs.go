// Package fs is the VFS façade binding src/fd's File sum type to the
// fat32 reference filesystem, src/pipe's ring buffers, and a handful of
// fake devices. Grounded on ufs/ufs.go's inode-wrapper shape (a thin
// File adapter over an underlying filesystem handle) and
// original_source/kernel/src/fs/dev_fs.rs / fake_file.rs for the
// fake-device half (/dev/null, /dev/zero, console), per SPEC_FULL.md §4's
// note that those stay Fake descriptors rather than regular inodes.
package fs

import (
	"sort"
	"strings"
	"time"

	"rvkernel/src/console"
	"rvkernel/src/defs"
	"rvkernel/src/fat32"
	"rvkernel/src/fd"
	"rvkernel/src/task"
	"rvkernel/src/uio"
	"rvkernel/src/ustr"
)

// RegularInode adapts a fat32.Inode to fd.File: spec §3's
// "RegularInode" member of the FD sum type.
type RegularInode struct {
	fd.Base
	n        *fat32.Inode
	readable bool
	writable bool
	off      int64
	refs     int
}

func newRegular(n *fat32.Inode, readable, writable bool) *RegularInode {
	return &RegularInode{n: n, readable: readable, writable: writable, refs: 1}
}

func (r *RegularInode) Readable() bool { return r.readable }
func (r *RegularInode) Writable() bool { return r.writable }

func (r *RegularInode) Read(dst uio.I, _ *task.Task) (int, defs.Errno) {
	if !r.readable {
		return 0, defs.EBADF
	}
	buf := make([]byte, dst.Remain())
	n := r.n.ReadAt(buf, r.off)
	wrote, err := dst.Uiowrite(buf[:n])
	r.off += int64(wrote)
	if err != nil {
		return wrote, defs.EFAULT
	}
	return wrote, 0
}

func (r *RegularInode) Write(src uio.I, _ *task.Task) (int, defs.Errno) {
	if !r.writable {
		return 0, defs.EBADF
	}
	buf := make([]byte, src.Remain())
	got, err := src.Uioread(buf)
	if err != nil {
		return 0, defs.EFAULT
	}
	n := r.n.WriteAt(buf[:got], r.off)
	r.off += int64(n)
	return n, 0
}

// Lseek implements SEEK_SET/CUR/END with a negative-result guard (spec
// §4.7).
func (r *RegularInode) Lseek(off int64, whence int) (int64, defs.Errno) {
	var base int64
	switch whence {
	case 0: // SEEK_SET
		base = 0
	case 1: // SEEK_CUR
		base = r.off
	case 2: // SEEK_END
		base = r.n.Size()
	default:
		return 0, defs.EINVAL
	}
	n := base + off
	if n < 0 {
		return 0, defs.EINVAL
	}
	r.off = n
	return n, 0
}

func (r *RegularInode) Close() defs.Errno {
	r.refs--
	return 0
}

func (r *RegularInode) Reopen() defs.Errno {
	r.refs++
	return 0
}

func (r *RegularInode) Stat(st *fd.Kstat) defs.Errno {
	st.Ino = r.n.Ino
	st.Mode = fd.S_IFREG | 0644
	st.Size = r.n.Size()
	st.Nlink = 1
	now := time.Now().Unix()
	st.Atime, st.Mtime, st.Ctime = now, now, now
	return 0
}

// Backer exposes the underlying inode for mmap (vm.FileBacker).
func (r *RegularInode) Backer() *fat32.Inode { return r.n }

// DirInode is a directory opened for getdents64.
type DirInode struct {
	fd.Base
	n       *fat32.Inode
	entries []dirEnt
	pos     int
	refs    int
}

type dirEnt struct {
	name string
	ino  uint64
	kind fat32.InodeKind
}

func newDir(n *fat32.Inode) *DirInode {
	kids := n.Children()
	names := make([]string, 0, len(kids))
	for name := range kids {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]dirEnt, 0, len(names))
	for _, name := range names {
		c := kids[name]
		// decode the entry's on-disk UTF-16LE long-filename bytes back
		// to UTF-8 for the getdents64 record; falls back to the index
		// key only if the stored name can't round-trip (never happens
		// for names this reference filesystem itself encoded).
		display, err := c.Name()
		if err != nil {
			display = name
		}
		entries = append(entries, dirEnt{name: display, ino: c.Ino, kind: c.Kind})
	}
	return &DirInode{n: n, entries: entries, refs: 1}
}

func (d *DirInode) Readable() bool { return true }
func (d *DirInode) Writable() bool { return false }

func (d *DirInode) Read(dst uio.I, _ *task.Task) (int, defs.Errno) {
	return 0, defs.EISDIR
}
func (d *DirInode) Write(src uio.I, _ *task.Task) (int, defs.Errno) {
	return 0, defs.EISDIR
}

// Getdents emits 8-byte-aligned dirent records into dst until the next
// record wouldn't fit (spec §6/§8's getdents64 contract, including the
// self-consistency property: repeated small-buffer calls reproduce the
// same sequence a single large-buffer call would).
func (d *DirInode) Getdents(dst []byte) int {
	off := 0
	for d.pos < len(d.entries) {
		e := d.entries[d.pos]
		rec := EncodeDirent(e.ino, int64(d.pos+1), e.kind, e.name)
		if off+len(rec) > len(dst) {
			break
		}
		copy(dst[off:], rec)
		off += len(rec)
		d.pos++
	}
	return off
}

func (d *DirInode) Close() defs.Errno  { d.refs--; return 0 }
func (d *DirInode) Reopen() defs.Errno { d.refs++; return 0 }
func (d *DirInode) Stat(st *fd.Kstat) defs.Errno {
	st.Ino = d.n.Ino
	st.Mode = fd.S_IFDIR | 0755
	st.Nlink = 2
	return 0
}

// EncodeDirent serializes one getdents64 record: {inode u64, offset
// i64, reclen u16, type u8, name\0}, padded to 8-byte alignment (spec
// §6), matching the field order fs_info.rs's Dirent uses.
func EncodeDirent(ino uint64, offset int64, kind fat32.InodeKind, name string) []byte {
	base := 8 + 8 + 2 + 1 + len(name) + 1
	reclen := (base + 7) &^ 7
	b := make([]byte, reclen)
	putU64(b[0:8], ino)
	putU64(b[8:16], uint64(offset))
	putU16(b[16:18], uint16(reclen))
	b[18] = byte(kind)
	copy(b[19:], name)
	return b
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// fakeFile implements fd.File for an in-memory device with no on-disk
// inode, grounded on fake_file.rs's FakeFile / dev_fs.rs's Zero/Null and
// generalized with a pluggable readFn/writeFn per device.
type fakeFile struct {
	fd.Base
	name     string
	readable bool
	writable bool
	readFn   func(dst uio.I) (int, defs.Errno)
	writeFn  func(src uio.I) (int, defs.Errno)
}

func (f *fakeFile) Readable() bool { return f.readable }
func (f *fakeFile) Writable() bool { return f.writable }
func (f *fakeFile) Read(dst uio.I, _ *task.Task) (int, defs.Errno) {
	if f.readFn == nil {
		return 0, defs.EBADF
	}
	return f.readFn(dst)
}
func (f *fakeFile) Write(src uio.I, _ *task.Task) (int, defs.Errno) {
	if f.writeFn == nil {
		return 0, defs.EBADF
	}
	return f.writeFn(src)
}
func (f *fakeFile) Close() defs.Errno  { return 0 }
func (f *fakeFile) Reopen() defs.Errno { return 0 }
func (f *fakeFile) Stat(st *fd.Kstat) defs.Errno {
	st.Mode = fd.S_IFCHR | 0666
	return 0
}

// NewDevNull mirrors dev_fs.rs's Null: reads return EOF, writes report
// every byte consumed without storing it.
func NewDevNull() fd.File {
	return &fakeFile{
		name: "null", readable: true, writable: true,
		readFn:  func(dst uio.I) (int, defs.Errno) { return 0, 0 },
		writeFn: func(src uio.I) (int, defs.Errno) { return src.Remain(), 0 },
	}
}

// NewDevZero mirrors dev_fs.rs's Zero: reads fill the destination with
// zero bytes, writes are accepted and discarded.
func NewDevZero() fd.File {
	return &fakeFile{
		name: "zero", readable: true, writable: true,
		readFn: func(dst uio.I) (int, defs.Errno) {
			n := dst.Remain()
			zeros := make([]byte, n)
			wrote, err := dst.Uiowrite(zeros)
			if err != nil {
				return wrote, defs.EFAULT
			}
			return wrote, 0
		},
		writeFn: func(src uio.I) (int, defs.Errno) { return src.Remain(), 0 },
	}
}

// NewConsoleFile adapts a console.Device to fd.File (the console member
// of spec §3's Fake set).
func NewConsoleFile(dev console.Device) fd.File {
	return &fakeFile{
		name: "console", readable: true, writable: true,
		readFn: func(dst uio.I) (int, defs.Errno) {
			buf := make([]byte, 0, dst.Remain())
			for len(buf) < cap(buf) {
				b, ok := dev.ReadByte()
				if !ok {
					break
				}
				buf = append(buf, b)
			}
			wrote, err := dst.Uiowrite(buf)
			if err != nil {
				return wrote, defs.EFAULT
			}
			return wrote, 0
		},
		writeFn: func(src uio.I) (int, defs.Errno) {
			buf := make([]byte, src.Remain())
			n, err := src.Uioread(buf)
			if err != nil {
				return n, defs.EFAULT
			}
			dev.WriteBytes(buf[:n])
			return n, 0
		},
	}
}

// Statfs is the fixed snapshot spec §4.7's statfs(2) returns, its field
// order following original_source/kernel/src/syscall/fs.rs since spec.md
// doesn't fix one and the wire format must be self-consistent for a
// memcpy-ing test harness.
type Statfs struct {
	Type    uint64
	Bsize   uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint64
}

const fat32Magic = 0x4d44

// FixedStatfs is the constant statfs snapshot this kernel reports;
// nothing in the reference filesystem tracks real free-space counts.
func FixedStatfs() Statfs {
	return Statfs{
		Type:    fat32Magic,
		Bsize:   4096,
		Blocks:  1 << 20,
		Bfree:   1 << 18,
		Bavail:  1 << 18,
		Files:   1 << 16,
		Ffree:   1 << 15,
		NameLen: 255,
	}
}

// VFS ties the fat32 reference filesystem together with path resolution
// relative to a cwd.
type VFS struct {
	FAT     *fat32.FS
	devices map[string]func() fd.File
}

func New(fatfs *fat32.FS) *VFS { return &VFS{FAT: fatfs, devices: make(map[string]func() fd.File)} }

// RegisterDevice binds path to a fake-file constructor, so openat(2)
// against it returns a fresh device file instead of resolving against
// the fat32 tree (dev_fs.rs's device-node table, spec §4's "Fake file
// descriptors" supplement). path must already exist as a directory
// entry (Populate creates /dev) purely so ls/stat on the parent works;
// Open never consults fat32 for a registered path.
func (v *VFS) RegisterDevice(path string, open func() fd.File) {
	v.devices[path] = open
}

// splitPath breaks path into the non-empty name components fat32's
// Lookup/Create/Unlink take.
func splitPath(path ustr.Ustr) []string {
	parts := path.Split()
	comps := make([]string, len(parts))
	for i, p := range parts {
		comps[i] = p.String()
	}
	return comps
}

func (v *VFS) devicePath(comps []string) string {
	return "/" + strings.Join(comps, "/")
}

// Open resolves path and wraps it as the appropriate fd.File, creating
// it first if O_CREAT is set and it's missing.
func (v *VFS) Open(path ustr.Ustr, readable, writable, create, truncate, directory bool) (fd.File, defs.Errno) {
	comps := splitPath(path)
	if open, ok := v.devices[v.devicePath(comps)]; ok {
		return open(), 0
	}
	n, _, err := v.FAT.Lookup(comps)
	if err == defs.ENOENT && create {
		n, err = v.FAT.Create(comps, fat32.DT_REG)
	}
	if err != 0 {
		return nil, err
	}
	if directory && n.Kind != fat32.DT_DIR {
		return nil, defs.ENOTDIR
	}
	if truncate && n.Kind == fat32.DT_REG {
		n.Truncate(0)
	}
	if n.Kind == fat32.DT_DIR {
		return newDir(n), 0
	}
	return newRegular(n, readable, writable), 0
}

// Mkdir creates an empty directory at path.
func (v *VFS) Mkdir(path ustr.Ustr) defs.Errno {
	_, err := v.FAT.Create(splitPath(path), fat32.DT_DIR)
	return err
}

// Unlink removes the file or empty directory at path.
func (v *VFS) Unlink(path ustr.Ustr) defs.Errno {
	return v.FAT.Unlink(splitPath(path))
}

// Populate creates init's standard /proc, /dev, /var, /tmp directories
// and a couple of informational files (spec §6's init-time directory
// list, plus SPEC_FULL.md §4's /proc/self/status and
// /proc/sys/kernel/random/boot_id supplements).
func (v *VFS) Populate(bootID string) {
	for _, d := range []string{"/proc", "/dev", "/var", "/tmp", "/proc/sys", "/proc/sys/kernel", "/proc/sys/kernel/random"} {
		v.Mkdir(ustr.Ustr(d))
	}
	if n, err := v.FAT.Create(splitPath(ustr.Ustr("/proc/self")), fat32.DT_DIR); err == 0 {
		status, _ := v.FAT.Create(splitPath(ustr.Ustr("/proc/self/status")), fat32.DT_REG)
		status.WriteAt([]byte("Pid:\t1\nVmSize:\t0 kB\n"), 0)
		_ = n
	}
	if bid, err := v.FAT.Create(splitPath(ustr.Ustr("/proc/sys/kernel/random/boot_id")), fat32.DT_REG); err == 0 {
		bid.WriteAt([]byte(bootID+"\n"), 0)
	}
}
