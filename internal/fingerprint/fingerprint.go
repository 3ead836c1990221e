// Package fingerprint computes the content-addressed identifier used to
// detect whether a freshly generated artifact differs from the one already
// on disk.
package fingerprint

import (
	"fmt"
	"hash/crc32"
)

// CRC32 returns the IEEE CRC-32 of bytes, matching zlib/gzip.
func CRC32(bytes []byte) uint32 {
	return crc32.ChecksumIEEE(bytes)
}

// Format renders a CRC-32 value as an 8-character lowercase hex string, the
// only form the rest of the system ever sees.
func Format(sum uint32) string {
	return fmt.Sprintf("%08x", sum)
}

// Of is a convenience wrapper combining CRC32 and Format.
func Of(bytes []byte) string {
	return Format(CRC32(bytes))
}
