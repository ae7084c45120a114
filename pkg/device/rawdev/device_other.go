//go:build !linux

package rawdev

import "fmt"

// openPlatform has no implementation outside Linux: direct block-device
// I/O and the ioctls queried here (BLKGETSIZE64, BLKSSZGET) are
// Linux-specific, matching the per-platform split the original source
// keeps between src/platform/linux and src/platform/darwin. A macOS
// or other-platform raw adapter would live in its own build-tagged
// file following this same shape; none is implemented here.
var openPlatform = func(filename string) (platformHandle, uint64, uint8, error) {
	return nil, 0, 0, unsupported("create_block_device", fmt.Sprintf("no raw block-device support on this platform (filename %q)", filename))
}
