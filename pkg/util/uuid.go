package util

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewCallID returns a short random identifier for correlating log lines
func NewCallID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// Md5ThenHex is a quick hasher
func Md5ThenHex(value []byte) string {
	sum := md5.Sum(value)
	return hex.EncodeToString(sum[:])
}

// PixelDigest hashes packed pixels in big-endian order, so equal images give
// equal digests on every platform.
func PixelDigest(pix []uint32) string {
	hasher := md5.New()
	var b [4]byte
	for _, p := range pix {
		binary.BigEndian.PutUint32(b[:], p)
		hasher.Write(b[:])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// ContentUUID derives a stable name-based UUID from data
func ContentUUID(data []byte) string {
	return uuid.NewMD5(uuid.NameSpaceOID, data).String()
}
