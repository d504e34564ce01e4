package utils

import (
	farm "github.com/dgryski/go-farm"
)

// Checksum fingerprints a record body. The value is stored next to the body
// in the log so a record torn by a crash mid-append can be told apart from a
// complete one.
func Checksum(parts ...[]byte) uint32 {
	if len(parts) == 1 {
		return farm.Fingerprint32(parts[0])
	}
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return farm.Fingerprint32(buf)
}

// VerifyChecksum reports whether sum matches the fingerprint of parts
func VerifyChecksum(sum uint32, parts ...[]byte) bool {
	return Checksum(parts...) == sum
}
