// Package bpath canonicalizes absolute paths built from a working
// directory and a user-supplied path component (fd.Cwd_t.Canonicalpath
// calls through to Canonicalize with exactly such a path). The package
// itself was not recoverable from the retrieval pack (biscuit's bpath
// directory came through as an empty stub), so this is an original
// implementation written to satisfy that call site's contract: resolve
// "." and ".." components and collapse repeated/trailing slashes against
// an already-absolute path, the way every Unix path resolver does.
package bpath

import "rvkernel/src/ustr"

// Canonicalize resolves "." and ".." components in an absolute path and
// returns the normalized form, always starting with "/". Canonicalize
// never touches the filesystem — it is purely lexical, matching the
// lock-free use sites in fd.Cwd_t (no blocking I/O while a path is being
// built for an open/stat call).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	comps := p.Split()
	stack := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range stack {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

// Dir returns all but the last component of an already-canonical path.
func Dir(p ustr.Ustr) ustr.Ustr {
	comps := p.Split()
	if len(comps) <= 1 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range comps[:len(comps)-1] {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	if len(ret) == 0 {
		return ustr.MkUstrRoot()
	}
	return ret
}

// Base returns the last component of a path.
func Base(p ustr.Ustr) ustr.Ustr {
	comps := p.Split()
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return comps[len(comps)-1]
}
