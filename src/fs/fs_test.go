package fs

import (
	"testing"

	"rvkernel/src/defs"
	"rvkernel/src/fat32"
	"rvkernel/src/task"
	"rvkernel/src/ustr"
	"rvkernel/src/uio"
	"rvkernel/src/virtio"
)

func newTestVFS(t *testing.T) *VFS {
	t.Helper()
	disk := virtio.NewMemDisk(64)
	fatfs := fat32.New(disk)
	return New(fatfs)
}

func TestOpenResolvesRegisteredDeviceBeforeFAT(t *testing.T) {
	v := newTestVFS(t)
	v.RegisterDevice("/dev/null", NewDevNull)

	f, errno := v.Open(ustr.Ustr("/dev/null"), true, true, false, false, false)
	if errno != 0 {
		t.Fatalf("Open(/dev/null): errno %d", errno)
	}
	if !f.Readable() || !f.Writable() {
		t.Fatalf("/dev/null should be readable and writable")
	}

	dst := make([]byte, 8)
	fb := uio.NewFakeBuf(dst)
	n, rerr := f.Read(fb, &task.Task{Tid: 1})
	if rerr != 0 || n != 0 {
		t.Fatalf("reading /dev/null: got (%d,%d), want (0,0) for EOF", n, rerr)
	}
}

func TestOpenFallsBackToFATWhenNoDeviceRegistered(t *testing.T) {
	v := newTestVFS(t)
	v.Populate("test-boot-id")

	f, errno := v.Open(ustr.Ustr("/proc/sys/kernel/random/boot_id"), true, false, false, false, false)
	if errno != 0 {
		t.Fatalf("Open(/proc/.../boot_id): errno %d", errno)
	}
	dst := make([]byte, 64)
	fb := uio.NewFakeBuf(dst)
	n, rerr := f.Read(fb, &task.Task{Tid: 1})
	if rerr != 0 {
		t.Fatalf("read: errno %d", rerr)
	}
	if string(dst[:n]) != "test-boot-id\n" {
		t.Fatalf("boot_id contents = %q, want %q", dst[:n], "test-boot-id\n")
	}
}

func TestOpenMissingPathReturnsENOENT(t *testing.T) {
	v := newTestVFS(t)
	v.Populate("x")

	_, errno := v.Open(ustr.Ustr("/nope"), true, false, false, false, false)
	if errno != defs.ENOENT {
		t.Fatalf("Open(/nope): errno %d, want ENOENT", errno)
	}
}
