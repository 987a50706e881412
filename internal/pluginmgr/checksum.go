package pluginmgr

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// DigestSize is the digest width in bytes (128 bits).
const DigestSize = 16

// Digest is a 128-bit BLAKE3 content digest.
type Digest [DigestSize]byte

// String renders the digest as fixed-width lowercase hex, leading zeros kept.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// DigestOf hashes an in-memory byte slice.
func DigestOf(data []byte) Digest {
	h := blake3.New(DigestSize, nil)
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// DigestFile hashes the content of the file at path without loading it whole.
func DigestFile(path string) (Digest, error) {
	var d Digest
	f, err := os.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()

	h := blake3.New(DigestSize, nil)
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return d, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}
