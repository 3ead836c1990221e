package fingerprint

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32MatchesIEEE(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, crc32.ChecksumIEEE(data), CRC32(data))
}

func TestFormatIsEightLowercaseHexChars(t *testing.T) {
	got := Format(0xABCDEF12)
	assert.Len(t, got, 8)
	assert.Equal(t, "abcdef12", got)
}

func TestOfIsStable(t *testing.T) {
	data := []byte("calendar image bytes")
	assert.Equal(t, Of(data), Of(data))
	assert.Len(t, Of(data), 8)
}

func TestOfDiffersOnDifferentInput(t *testing.T) {
	assert.NotEqual(t, Of([]byte("a")), Of([]byte("b")))
}
