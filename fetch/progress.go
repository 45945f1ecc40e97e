package fetch

import "io"

// ProgressFunc receives the number of bytes read so far and the expected
// total. total is zero when the size is unknown.
type ProgressFunc func(transferred, total int64)

// ProgressReader reports progress to fn as bytes flow through it.
type ProgressReader struct {
	r           io.ReadCloser
	total       int64
	transferred int64
	fn          ProgressFunc
}

// NewProgressReader wraps r. A negative total is reported as zero.
func NewProgressReader(r io.ReadCloser, total int64, fn ProgressFunc) *ProgressReader {
	if total < 0 {
		total = 0
	}
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.transferred += int64(n)
		if p.fn != nil {
			p.fn(p.transferred, p.total)
		}
	}
	return n, err
}

func (p *ProgressReader) Close() error {
	return p.r.Close()
}

// Transferred returns the number of bytes read so far.
func (p *ProgressReader) Transferred() int64 {
	return p.transferred
}
