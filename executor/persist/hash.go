package persist

import (
	"crypto/md5"
)

// hashChunk bounds how much of a large range is handed to the digest at once.
const hashChunk = 64 << 20

// Hash is the integrity digest of a partition file: MD5 over the header
// (with lock word and hash zeroed, see io.HeaderView.HashableCopy) followed
// by the row bytes.
func Hash(parts ...[]byte) (sum [16]byte) {
	h := md5.New()
	for _, p := range parts {
		for off := 0; off < len(p); off += hashChunk {
			end := off + hashChunk
			if end > len(p) {
				end = len(p)
			}
			h.Write(p[off:end])
		}
	}
	copy(sum[:], h.Sum(nil))
	return sum
}
