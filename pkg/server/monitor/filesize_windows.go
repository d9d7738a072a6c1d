//go:build windows

package monitor

import (
	"io/fs"
	"syscall"
	"unsafe"
)

var (
	kernel32          = syscall.NewLazyDLL("kernel32.dll")
	getCompressedSize = kernel32.NewProc("GetCompressedFileSizeW")
)

// allocatedSize returns the bytes allocated on disk, falling back to the logical size
func allocatedSize(path string, info fs.FileInfo) int64 {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return info.Size()
	}

	var high uint32
	low, _, _ := getCompressedSize.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&high)),
	)
	// INVALID_FILE_SIZE
	if low == 0xFFFFFFFF {
		return info.Size()
	}
	return int64(high)<<32 + int64(low)
}
