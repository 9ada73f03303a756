package util

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"io/ioutil"
)

// A HashWriter wraps an io.Writer and computes the MD5 checksum and total
// size of every byte written through it. It lets file content be saved,
// checksummed, and measured in a single pass.
type HashWriter struct {
	w   io.Writer
	md5 hash.Hash
	n   int64
}

// NewHashWriter returns a HashWriter wrapping w. Pass ioutil.Discard to only
// compute the checksum of a stream.
func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{w: w, md5: md5.New()}
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.md5.Write(p[:n])
		hw.n += int64(n)
	}
	return n, err
}

// SumMD5 returns the hex encoded MD5 checksum of the bytes written so far.
func (hw *HashWriter) SumMD5() string {
	return hex.EncodeToString(hw.md5.Sum(nil))
}

// Size returns the number of bytes written so far.
func (hw *HashWriter) Size() int64 {
	return hw.n
}

// VerifyStream checksums the given reader and compares the result against
// the provided hex encoded MD5 checksum. An empty goal always matches.
// The reader is not closed when finished.
func VerifyStream(r io.Reader, goal string) (bool, error) {
	if goal == "" {
		return true, nil
	}
	hw := NewHashWriter(ioutil.Discard)
	_, err := io.Copy(hw, r)
	if err != nil {
		return false, err
	}
	return hw.SumMD5() == goal, nil
}
