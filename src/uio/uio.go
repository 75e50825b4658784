// Package uio implements the gather-scatter user-buffer abstraction
// spec §4.7 requires every read/write syscall to translate through: a
// user byte range (or a vector of them) turned into something a file
// capability's Read/Write can copy into or out of without knowing
// whether the other end is user memory or a kernel-owned byte slice.
// Grounded on justanotherdot-biscuit's kernel/main.go userio_i
// interface (uiowrite/uioread/remain/totalsz) and its three
// implementations: userbuf_t (single user range, here UserBuf),
// useriovec_t (scatter-gather, here UserVec), and fakeubuf_t (a kernel
// buffer masquerading as user memory, here FakeBuf — used for ELF reads
// and the sendfile bounce buffer, where the "user" data is really
// already in kernel hands).
package uio

import "rvkernel/src/vm"

// I is the contract every file capability's Read/Write accepts. The
// naming follows the teacher exactly: Uiowrite copies kernel-held bytes
// INTO this sink (the direction data flows on a read(2) syscall, from
// file to user); Uioread copies FROM this source INTO a kernel-held
// destination (the direction data flows on a write(2) syscall, from
// user to file).
type I interface {
	Uiowrite(src []byte) (int, error)
	Uioread(dst []byte) (int, error)
	Remain() int
	Totalsz() int
}

// UserBuf is a single contiguous user virtual-address range.
type UserBuf struct {
	as   *vm.AddressSpace
	va   uintptr
	len  int
	total int
}

// NewUserBuf wraps the range [va, va+length) of as's user address space.
func NewUserBuf(as *vm.AddressSpace, va uintptr, length int) *UserBuf {
	return &UserBuf{as: as, va: va, len: length, total: length}
}

func (u *UserBuf) Uioread(dst []byte) (int, error) {
	n := len(dst)
	if n > u.len {
		n = u.len
	}
	if n == 0 {
		return 0, nil
	}
	if err := u.as.CopyIn(dst[:n], u.va); err != nil {
		return 0, err
	}
	u.va += uintptr(n)
	u.len -= n
	return n, nil
}

func (u *UserBuf) Uiowrite(src []byte) (int, error) {
	n := len(src)
	if n > u.len {
		n = u.len
	}
	if n == 0 {
		return 0, nil
	}
	if err := u.as.CopyOut(u.va, src[:n]); err != nil {
		return 0, err
	}
	u.va += uintptr(n)
	u.len -= n
	return n, nil
}

func (u *UserBuf) Remain() int   { return u.len }
func (u *UserBuf) Totalsz() int  { return u.total }

// IOVec is one entry of a readv/writev iovec array, already resolved
// from user memory into a (va, length) pair.
type IOVec struct {
	VA  uintptr
	Len int
}

// UserVec is a scatter-gather list over several user ranges (readv,
// writev), grounded on useriovec_t's _tx loop.
type UserVec struct {
	as   *vm.AddressSpace
	iovs []IOVec
	total int
}

// NewUserVec builds a UserVec over iovs (already decoded from the
// user-supplied struct iovec array by the syscall layer).
func NewUserVec(as *vm.AddressSpace, iovs []IOVec) *UserVec {
	total := 0
	cp := make([]IOVec, len(iovs))
	copy(cp, iovs)
	for _, v := range cp {
		total += v.Len
	}
	return &UserVec{as: as, iovs: cp, total: total}
}

func (v *UserVec) Remain() int {
	n := 0
	for _, iov := range v.iovs {
		n += iov.Len
	}
	return n
}

func (v *UserVec) Totalsz() int { return v.total }

func (v *UserVec) tx(buf []byte, toUser bool) (int, error) {
	did := 0
	for len(buf) > 0 && len(v.iovs) > 0 {
		cur := &v.iovs[0]
		n := len(buf)
		if n > cur.Len {
			n = cur.Len
		}
		var err error
		if toUser {
			err = v.as.CopyOut(cur.VA, buf[:n])
		} else {
			err = v.as.CopyIn(buf[:n], cur.VA)
		}
		if err != nil {
			return did, err
		}
		cur.VA += uintptr(n)
		cur.Len -= n
		if cur.Len == 0 {
			v.iovs = v.iovs[1:]
		}
		buf = buf[n:]
		did += n
	}
	return did, nil
}

func (v *UserVec) Uioread(dst []byte) (int, error)  { return v.tx(dst, false) }
func (v *UserVec) Uiowrite(src []byte) (int, error) { return v.tx(src, true) }

// FakeBuf adapts an in-kernel byte slice to the I interface, for
// transfers that never actually touch user memory: reading an ELF
// header off disk, the sendfile bounce buffer, the reference FAT32
// driver's in-memory test fixtures.
type FakeBuf struct {
	buf []byte
}

// NewFakeBuf wraps buf for reading (Uiowrite fills it) or writing
// (Uioread drains it), matching fakeubuf_t.fake_init's dual use.
func NewFakeBuf(buf []byte) *FakeBuf { return &FakeBuf{buf: buf} }

func (f *FakeBuf) tx(b []byte, toBuf bool) (int, error) {
	var n int
	if toBuf {
		n = copy(f.buf, b)
	} else {
		n = copy(b, f.buf)
	}
	f.buf = f.buf[n:]
	return n, nil
}

func (f *FakeBuf) Uioread(dst []byte) (int, error)  { return f.tx(dst, false) }
func (f *FakeBuf) Uiowrite(src []byte) (int, error) { return f.tx(src, true) }
func (f *FakeBuf) Remain() int                      { return len(f.buf) }
func (f *FakeBuf) Totalsz() int                     { return len(f.buf) }
