//go:build linux

package rawdev

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LinuxUsbTopology walks sysfs to find the USB device backing a block
// device and to read/reset it. It is the production UsbTopology for
// ResetProgrammaticUSB and ResetManualUSB on Linux, playing the role
// the original source delegates to libudev (map_dev_to_usb_dev,
// map_block_to_usb_dev) — done here via direct sysfs traversal, since
// no udev binding exists in this module's dependency set and
// SPEC_FULL.md's ambient stack carries only what the examples
// already import.
type LinuxUsbTopology struct{}

// ParentUSBDevicePath resolves the sysfs directory of the USB device
// node (not a USB interface) backing blockDevicePath, by walking from
// /sys/class/block/<name>/device up through parent directories until
// one containing an "idVendor" file — the marker of a USB device
// node — is found.
func (LinuxUsbTopology) ParentUSBDevicePath(blockDevicePath string) (string, error) {
	name := filepath.Base(blockDevicePath)
	devLink := filepath.Join("/sys/class/block", name, "device")
	real, err := filepath.EvalSymlinks(devLink)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", devLink, err)
	}

	dir := real
	for i := 0; i < 16 && dir != "/" && dir != "."; i++ {
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, nil
		}
		dir = filepath.Dir(dir)
	}
	return "", fmt.Errorf("no usb device node found above %s", real)
}

// ResetUSBDevice opens the usbfs node for the device at usbPath
// (derived from its busnum/devnum attribute files) and issues
// USBDEVFS_RESET.
func (LinuxUsbTopology) ResetUSBDevice(usbPath string) error {
	busnum, err := readSysfsInt(filepath.Join(usbPath, "busnum"))
	if err != nil {
		return fmt.Errorf("read busnum: %w", err)
	}
	devnum, err := readSysfsInt(filepath.Join(usbPath, "devnum"))
	if err != nil {
		return fmt.Errorf("read devnum: %w", err)
	}

	usbfsNode := fmt.Sprintf("/dev/bus/usb/%03d/%03d", busnum, devnum)
	f, err := os.OpenFile(usbfsNode, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", usbfsNode, err)
	}
	defer f.Close()

	return ioctlUSBReset(int(f.Fd()))
}

// StableID returns the USB device's serial number when present,
// falling back to a vendor:product:devpath composite otherwise.
func (t LinuxUsbTopology) StableID(blockDevicePath string) (string, error) {
	usbPath, err := t.ParentUSBDevicePath(blockDevicePath)
	if err != nil {
		return "", err
	}
	if serial, err := readSysfsString(filepath.Join(usbPath, "serial")); err == nil && serial != "" {
		return serial, nil
	}
	vendor, _ := readSysfsString(filepath.Join(usbPath, "idVendor"))
	product, _ := readSysfsString(filepath.Join(usbPath, "idProduct"))
	return fmt.Sprintf("%s:%s:%s", vendor, product, filepath.Base(usbPath)), nil
}

func readSysfsString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readSysfsInt(path string) (int, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// PollingDeviceEventWaiter implements DeviceEventWaiter by polling
// sysfs rather than subscribing to a netlink uevent stream — the
// original relies on libudev's monitor for this, which has no binding
// in this module's dependency set. PollInterval defaults to 200ms
// when zero.
type PollingDeviceEventWaiter struct {
	Topology     LinuxUsbTopology
	PollInterval time.Duration
}

func (w PollingDeviceEventWaiter) interval() time.Duration {
	if w.PollInterval <= 0 {
		return 200 * time.Millisecond
	}
	return w.PollInterval
}

// WaitForRemove blocks, uncancellably, until no USB device in sysfs
// reports stableID as its serial.
func (w PollingDeviceEventWaiter) WaitForRemove(stableID string) error {
	for w.findBlockDeviceBySerial(stableID) != "" {
		time.Sleep(w.interval())
	}
	return nil
}

// WaitForAdd blocks, uncancellably, until a block device whose parent
// USB device reports stableID as its serial appears, returning its
// path under /dev.
func (w PollingDeviceEventWaiter) WaitForAdd(stableID string) (string, error) {
	for {
		if name := w.findBlockDeviceBySerial(stableID); name != "" {
			return filepath.Join("/dev", name), nil
		}
		time.Sleep(w.interval())
	}
}

func (w PollingDeviceEventWaiter) findBlockDeviceBySerial(stableID string) string {
	entries, err := os.ReadDir("/sys/class/block")
	if err != nil {
		return ""
	}
	for _, e := range entries {
		id, err := w.Topology.StableID(filepath.Join("/dev", e.Name()))
		if err == nil && id == stableID {
			return e.Name()
		}
	}
	return ""
}
