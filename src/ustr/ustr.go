// Package ustr implements the immutable byte-slice path/string type the
// kernel uses everywhere a userspace path or filename is held, adapted
// directly from biscuit's ustr/ustr.go.
package ustr

// Ustr represents a path or filename as raw bytes, avoiding UTF-8
// validation concerns for names copied straight out of user memory.
type Ustr []uint8

// Isdot reports whether the string equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr { return Ustr{} }

// MkUstrDot returns a Ustr representing ".".
func MkUstrDot() Ustr { return Ustr(".") }

// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr, truncating
// at the first NUL byte (the usual shape of a string just copied in from
// user memory).
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the current Ustr and returns the result.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and the string p to the current Ustr.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// Split breaks the path at '/' into non-empty components.
func (us Ustr) Split() []Ustr {
	var parts []Ustr
	start := -1
	for i, c := range us {
		if c == '/' {
			if start >= 0 {
				parts = append(parts, us[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		parts = append(parts, us[start:])
	}
	return parts
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}
