package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// CalculateDataMD5 returns the hex MD5 of the given bytes.
func CalculateDataMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// FileIdentityKey derives a stable identity for a locally selected file
// from its name, size and modification time. Callers disambiguate
// collisions by suffixing the selection index.
func FileIdentityKey(name string, size int64, modTime time.Time) string {
	return CalculateDataMD5(fmt.Appendf(nil, "%s|%d|%d", name, size, modTime.UnixNano()))
}
