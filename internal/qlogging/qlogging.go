// Package qlogging wires the optional SSLKEYLOGFILE and QLOGDIR outputs of
// spec.md section 6's Environment paragraph.
package qlogging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// KeyLogWriter opens the NSS key log file named by SSLKEYLOGFILE, or returns
// a nil writer, a no-op close func and a nil error when the variable is unset.
func KeyLogWriter() (io.Writer, func() error, error) {
	path := os.Getenv("SSLKEYLOGFILE")
	if path == "" {
		return nil, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("qlogging: open SSLKEYLOGFILE: %w", err)
	}
	return f, f.Close, nil
}

// QLogFile is one .sqlog.zst file, named YYMMDDTHHMMSS-<scid>-<role>.sqlog.zst
// per spec.md section 6, zstd-compressed with a single encoder worker. Go
// has no destructors, so callers must call Close explicitly when the
// connection that owns it finishes -- the functional equivalent of the
// source's "auto-finish on drop".
type QLogFile struct {
	f   *os.File
	enc *zstd.Encoder
}

// NewQLogFile opens a new qlog file under dir for scid/role at createdAt, or
// returns (nil, nil) if dir is empty (QLOGDIR unset).
func NewQLogFile(dir, scid, role string, createdAt time.Time) (*QLogFile, error) {
	if dir == "" {
		return nil, nil
	}
	name := fmt.Sprintf("%s-%s-%s.sqlog.zst", createdAt.Format("060102T150405"), scid, role)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("qlogging: create %s: %w", name, err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("qlogging: new zstd encoder: %w", err)
	}
	return &QLogFile{f: f, enc: enc}, nil
}

func (q *QLogFile) Write(p []byte) (int, error) { return q.enc.Write(p) }

// Close finishes the zstd stream and closes the underlying file. It must be
// called exactly once, when the owning connection reaches Closed.
func (q *QLogFile) Close() error {
	if q == nil {
		return nil
	}
	if err := q.enc.Close(); err != nil {
		q.f.Close()
		return fmt.Errorf("qlogging: finish zstd stream: %w", err)
	}
	return q.f.Close()
}
