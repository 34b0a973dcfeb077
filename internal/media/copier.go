package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// DefaultChunkSize is the read size used while streaming a file into a Store.
const DefaultChunkSize = 1024 * 1024

// Copier streams local files into a Store in fixed-size chunks, hashing as it goes.
type Copier struct {
	chunkSize int64
}

// NewCopier creates a copier with the given chunk size.
func NewCopier(chunkSize int64) *Copier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Copier{chunkSize: chunkSize}
}

// CopyResult describes a completed copy.
type CopyResult struct {
	Size int64
	MD5  string
}

// CopyFile copies srcPath to relPath in store.
func (c *Copier) CopyFile(ctx context.Context, store Store, srcPath, relPath string) (*CopyResult, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	cr := &chunkReader{r: f, buf: make([]byte, c.chunkSize), hash: md5.New()}
	if err := store.Put(ctx, relPath, cr, info.Size()); err != nil {
		return nil, err
	}
	if cr.err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", srcPath, cr.err)
	}

	return &CopyResult{Size: cr.total, MD5: hex.EncodeToString(cr.hash.Sum(nil))}, nil
}

// chunkReader refills a fixed buffer from r one chunk at a time and hashes each chunk.
type chunkReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	hash    hash.Hash
	total   int64
	err     error
	eof     bool
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if len(cr.pending) == 0 {
		if cr.eof {
			return 0, io.EOF
		}
		n, err := io.ReadFull(cr.r, cr.buf)
		if n > 0 {
			chunk := cr.buf[:n]
			cr.hash.Write(chunk)
			cr.total += int64(n)
			cr.pending = chunk
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			cr.eof = true
		} else if err != nil {
			cr.err = err
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
	}

	n := copy(p, cr.pending)
	cr.pending = cr.pending[n:]
	return n, nil
}

// VerifyChecksum reports whether a copied file matches koko's recorded checksum.
func VerifyChecksum(result *CopyResult, expected string) bool {
	return result != nil && result.MD5 == expected
}
