// Package blobsniff validates that REG_PHOTO payloads are actually image
// data before they hit disk.
package blobsniff

import "bytes"

var signatures = [][]byte{
	{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, // PNG
	{0xFF, 0xD8, 0xFF},                            // JPEG
	[]byte("GIF87a"),
	[]byte("GIF89a"),
}

// LooksLikeImage reports whether data starts with a recognized PNG, JPEG,
// or GIF magic number.
func LooksLikeImage(data []byte) bool {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	return false
}
