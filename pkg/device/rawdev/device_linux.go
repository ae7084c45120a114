//go:build linux

package rawdev

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ilog2PowerOfTwo mirrors pkg/prober's ilog2 bit-twiddling helper; duplicated here in
// the smallest form needed (power-of-two sector sizes only) to avoid
// a cross-package dependency from the platform shim.
func ilog2PowerOfTwo(x uint32) uint8 {
	var n uint8
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

type linuxHandle struct {
	fd int
}

func (h *linuxHandle) ReadAt(buf []byte, off int64) error {
	n, err := unix.Pread(h.fd, buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read: got %d want %d bytes", n, len(buf))
	}
	return nil
}

func (h *linuxHandle) WriteAt(buf []byte, off int64) error {
	n, err := unix.Pwrite(h.fd, buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write: got %d want %d bytes", n, len(buf))
	}
	return nil
}

func (h *linuxHandle) Barrier() error {
	if err := unix.Fsync(h.fd); err != nil {
		return err
	}
	return unix.Fadvise(h.fd, 0, 0, unix.FADV_DONTNEED)
}

func (h *linuxHandle) Close() error {
	return unix.Close(h.fd)
}

// openPlatform is a variable, not a plain function, so tests can
// substitute a fake without touching a real block device.
var openPlatform = func(filename string) (platformHandle, uint64, uint8, error) {
	fd, err := unix.Open(filename, unix.O_RDWR|unix.O_DIRECT, 0)
	if err != nil {
		return nil, 0, 0, unsupported("create_block_device", fmt.Sprintf("open %q: %v", filename, err))
	}

	sizeByte, err := blkGetSize64(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, 0, 0, unsupported("create_block_device", fmt.Sprintf("query size of %q: %v", filename, err))
	}

	sectorSize, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil {
		_ = unix.Close(fd)
		return nil, 0, 0, unsupported("create_block_device", fmt.Sprintf("query sector size of %q: %v", filename, err))
	}

	order := ilog2PowerOfTwo(uint32(sectorSize))
	return &linuxHandle{fd: fd}, sizeByte, order, nil
}

// blkGetSize64 issues the BLKGETSIZE64 ioctl, which x/sys/unix does
// not wrap with a typed getter since it returns a 64-bit value.
func blkGetSize64(fd int) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

// usbdevfsReset is USBDEVFS_RESET from <linux/usbdevice_fs.h>
// (_IO('U', 20)); x/sys/unix does not expose USB-device-filesystem
// ioctls, so the numeric value is reproduced directly.
const usbdevfsReset = 0x5514

func ioctlUSBReset(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(usbdevfsReset), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
