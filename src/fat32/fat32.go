// Package fat32 declares the directory-traversal/clustering
// collaborator the VFS façade reads and writes files through, plus a
// minimal reference filesystem for test harnesses. Real FAT32
// (cluster-chain allocation tables, long-filename directory entries,
// on-disk layout) is an external collaborator out of scope per spec §1;
// this package fixes the VFile seam src/fs calls through and backs it
// with an in-memory inode tree instead of real clustering, the way the
// distilled spec's "external collaborator" framing invites. Grounded on
// original_source/kernel/src/fs_fat/fs_info.rs's inode/dirent shape
// (the Dirent layout in particular: spec §6 fixes its wire bytes, this
// package's InodeKind enumerates the same DT_* values fs_info.rs does).
package fat32

import (
	"sync"
	"time"

	"rvkernel/src/defs"
	"rvkernel/src/mem"
	"rvkernel/src/virtio"
)

// InodeKind distinguishes a directory entry's type, matching the DT_*
// values getdents64 emits (spec §6's dirent "type" byte).
type InodeKind uint8

const (
	DT_UNKNOWN InodeKind = 0
	DT_REG     InodeKind = 8
	DT_DIR     InodeKind = 4
)

// Inode is one file or directory in the reference filesystem: either a
// byte-slice payload (regular file) or a name-to-inode map (directory).
// A real FAT32 driver would instead hold a first-cluster number and
// walk the FAT chain on demand; this reference keeps the whole file
// resident, which is sufficient for the test harnesses this kernel
// ships without requiring a real block-allocation algorithm.
type Inode struct {
	mu       sync.Mutex
	Kind     InodeKind
	Ino      uint64
	data     []byte
	children map[string]*Inode
	mtime    time.Time

	// lfn holds the entry's name in its real on-disk form: UTF-16LE
	// bytes, the wire encoding a FAT32 long-filename directory entry
	// actually stores (lfn.go).
	lfn []byte
}

// Name decodes the inode's on-disk long-filename bytes back to UTF-8,
// the step the fs façade's getdents64 path performs on every directory
// read (src/fs.newDir).
func (n *Inode) Name() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return decodeLFN(n.lfn)
}

// FS is the reference FAT32 façade: an inode tree rooted at "/", still
// addressed in terms of a backing virtio.BlockDevice so a real driver
// could be substituted behind the same VFile/FS API without touching
// src/fs.
type FS struct {
	mu      sync.Mutex
	disk    virtio.BlockDevice
	root    *Inode
	nextIno uint64
}

// New creates an empty reference filesystem backed by disk (unused by
// the in-memory implementation beyond being retained, so a future real
// driver swap has somewhere to read/write blocks from).
func New(disk virtio.BlockDevice) *FS {
	fs := &FS{disk: disk, nextIno: 2}
	fs.root = &Inode{Kind: DT_DIR, Ino: 1, children: make(map[string]*Inode)}
	return fs
}

func (fs *FS) allocIno() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

// Lookup walks comps (a path already split on '/') from the root,
// returning the inode and its containing directory.
func (fs *FS) Lookup(comps []string) (*Inode, *Inode, defs.Errno) {
	dir := fs.root
	if len(comps) == 0 {
		return fs.root, nil, 0
	}
	for i, c := range comps {
		if c == "" {
			continue
		}
		dir.mu.Lock()
		next, ok := dir.children[c]
		dir.mu.Unlock()
		if !ok {
			return nil, dir, defs.ENOENT
		}
		if i == len(comps)-1 {
			return next, dir, 0
		}
		if next.Kind != DT_DIR {
			return nil, dir, defs.ENOTDIR
		}
		dir = next
	}
	return dir, nil, 0
}

// Create makes a new regular file or directory named comps[last] inside
// the directory named by comps[:last], failing with EEXIST if it
// already exists.
func (fs *FS) Create(comps []string, kind InodeKind) (*Inode, defs.Errno) {
	if len(comps) == 0 {
		return nil, defs.EINVAL
	}
	parentDir, _, err := fs.Lookup(comps[:len(comps)-1])
	if err != 0 {
		return nil, err
	}
	if parentDir.Kind != DT_DIR {
		return nil, defs.ENOTDIR
	}
	name := comps[len(comps)-1]

	raw, lerr := encodeLFN(name)
	if lerr != nil {
		return nil, defs.EINVAL
	}

	parentDir.mu.Lock()
	defer parentDir.mu.Unlock()
	if _, exists := parentDir.children[name]; exists {
		return nil, defs.EEXIST
	}
	n := &Inode{Kind: kind, Ino: fs.allocIno(), mtime: time.Unix(0, 0), lfn: raw}
	if kind == DT_DIR {
		n.children = make(map[string]*Inode)
	}
	parentDir.children[name] = n
	return n, 0
}

// Unlink removes comps[last] from its parent directory.
func (fs *FS) Unlink(comps []string) defs.Errno {
	if len(comps) == 0 {
		return defs.EINVAL
	}
	parentDir, _, err := fs.Lookup(comps[:len(comps)-1])
	if err != 0 {
		return err
	}
	name := comps[len(comps)-1]
	parentDir.mu.Lock()
	defer parentDir.mu.Unlock()
	if _, ok := parentDir.children[name]; !ok {
		return defs.ENOENT
	}
	delete(parentDir.children, name)
	return 0
}

// ReadAt/WriteAt/Truncate/Size implement the byte-addressed file access
// the façade's RegularInode needs; zero-extends on a write past current
// EOF (same lazy-extension behavior original_source's FAT32 crate gives
// a cluster-backed file).
func (n *Inode) ReadAt(p []byte, off int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if off >= int64(len(n.data)) {
		return 0
	}
	return copy(p, n.data[off:])
}

func (n *Inode) WriteAt(p []byte, off int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:], p)
	n.mtime = time.Now()
	return len(p)
}

func (n *Inode) Truncate(size int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, n.data)
	n.data = grown
}

func (n *Inode) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return int64(len(n.data))
}

// Children returns an unordered snapshot (a map copy) for getdents64;
// map iteration order isn't stable, so fs callers that need repeatable
// enumeration (spec §8's getdents64 self-consistency property) should
// sort the result themselves.
func (n *Inode) Children() map[string]*Inode {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make(map[string]*Inode, len(n.children))
	for k, v := range n.children {
		cp[k] = v
	}
	return cp
}

// ReadPage implements vm.FileBacker for mmap'd regular files: fills pg
// from offset off, matching the lazy_mmap contract (spec §4.3) that the
// rest of the page is zero-filled by the caller.
func (n *Inode) ReadPage(off int64, pg *mem.Pg_t) (int, error) {
	return n.ReadAt(pg[:], off), nil
}
