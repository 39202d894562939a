package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends zstd-compressed JSON lines. Two rotation policies:
// long-running daemon streams roll to a new file each UTC hour, while
// episode streams are bounded by the episode itself and keep a single file,
// so offline cross-verification never has to stitch one episode back
// together across a rotation boundary.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	hourly  bool

	mu    sync.Mutex
	stamp string
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
}

// NewJSONLZstdWriter returns an hourly-rotating writer for daemon streams.
func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		hourly:  true,
	}
}

// NewEpisodeJSONLWriter returns a writer that keeps one file for its whole
// lifetime, stamped with the time of the first write.
func NewEpisodeJSONLWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hourly {
		hour := time.Now().UTC().Format("2006-01-02-15")
		if hour != w.stamp {
			if err := w.rotateLocked(hour); err != nil {
				return err
			}
		}
	} else if w.w == nil {
		if err := w.rotateLocked(time.Now().UTC().Format("20060102-150405")); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(stamp string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathFor(stamp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.stamp = stamp
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathFor(stamp string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, stamp))
}
