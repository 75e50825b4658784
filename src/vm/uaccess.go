package vm

import (
	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
	"rvkernel/src/ustr"
)

// faultFn adapts AddressSpace.Fault to the pgtbl.FaultFn signature
// TranslateVAWithFault expects.
func (as *AddressSpace) faultFn(write bool) pgtbl.FaultFn {
	return func(va uintptr) error { return as.Fault(va, write) }
}

// translate resolves va to a physical address, materializing the page
// via Fault if it is not yet mapped.
func (as *AddressSpace) translate(va uintptr, write bool) (mem.Pa_t, error) {
	return as.Table.TranslateVAWithFault(va, as.faultFn(write))
}

// CopyIn copies len(dst) bytes from user address uva into dst, faulting
// in pages as needed. Adapted from biscuit's vm/as.go User2k_inner.
func (as *AddressSpace) CopyIn(dst []byte, uva uintptr) error {
	off := 0
	for off < len(dst) {
		pa, err := as.translate(uva+uintptr(off), false)
		if err != nil {
			return err
		}
		pageOff := int(pa & (mem.PGSIZE - 1))
		pg := as.alloc.PageAt(pa - mem.Pa_t(pageOff))
		n := copy(dst[off:], pg[pageOff:])
		off += n
	}
	return nil
}

// CopyOut copies src into user address uva, faulting in pages as
// needed. Adapted from biscuit's vm/as.go K2user_inner.
func (as *AddressSpace) CopyOut(uva uintptr, src []byte) error {
	off := 0
	for off < len(src) {
		pa, err := as.translate(uva+uintptr(off), true)
		if err != nil {
			return err
		}
		pageOff := int(pa & (mem.PGSIZE - 1))
		pg := as.alloc.PageAt(pa - mem.Pa_t(pageOff))
		n := copy(pg[pageOff:], src[off:])
		off += n
	}
	return nil
}

// CopyInString copies a NUL-terminated string from user address uva, up
// to lenmax bytes. Adapted from biscuit's vm/as.go Userstr.
func (as *AddressSpace) CopyInString(uva uintptr, lenmax int) (ustr.Ustr, error) {
	if lenmax < 0 {
		return nil, nil
	}
	s := ustr.MkUstr()
	var buf [mem.PGSIZE]byte
	off := 0
	for {
		pa, err := as.translate(uva+uintptr(off), false)
		if err != nil {
			return s, err
		}
		pageOff := int(pa & (mem.PGSIZE - 1))
		pg := as.alloc.PageAt(pa - mem.Pa_t(pageOff))
		n := copy(buf[:], pg[pageOff:])
		for j := 0; j < n; j++ {
			if buf[j] == 0 {
				s = append(s, buf[:j]...)
				return s, nil
			}
		}
		s = append(s, buf[:n]...)
		off += n
		if len(s) >= lenmax {
			return nil, defs.ENAMETOOLONG
		}
	}
}

// ReadN reads n (<= 8) bytes from user address uva as a little-endian
// integer. Adapted from biscuit's vm/as.go Userreadn.
func (as *AddressSpace) ReadN(uva uintptr, n int) (int, error) {
	diag.Assertf(n <= 8, "vm: ReadN of %d bytes exceeds word size", n)
	var buf [8]byte
	if err := as.CopyIn(buf[:n], uva); err != nil {
		return 0, err
	}
	var v int
	for i := 0; i < n; i++ {
		v |= int(buf[i]) << (8 * uint(i))
	}
	return v, nil
}

// WriteN writes the low n (<= 8) bytes of val to user address uva.
// Adapted from biscuit's vm/as.go Userwriten.
func (as *AddressSpace) WriteN(uva uintptr, n int, val int) error {
	diag.Assertf(n <= 8, "vm: WriteN of %d bytes exceeds word size", n)
	var buf [8]byte
	for i := 0; i < n; i++ {
		buf[i] = byte(val >> (8 * uint(i)))
	}
	return as.CopyOut(uva, buf[:n])
}
