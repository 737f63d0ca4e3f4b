package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"griddiffuse.dev/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed segment files. A new
// segment starts whenever the key passed to Write crosses a multiple of
// segmentSize; each file is named after the first key of its segment.
type JSONLZstdWriter struct {
	baseDir     string
	prefix      string
	segmentSize uint64

	mu     sync.Mutex
	curSeg uint64
	open   bool
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, segmentSize int) *JSONLZstdWriter {
	if segmentSize <= 0 {
		segmentSize = 1000
	}
	return &JSONLZstdWriter{
		baseDir:     baseDir,
		prefix:      prefix,
		segmentSize: uint64(segmentSize),
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(key uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := key / w.segmentSize
	if !w.open || seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
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
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the compressor and completes the current
// zstd frame so readers see everything written so far. Later writes go to a
// new frame in the same segment file.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	w.enc.Reset(w.f)
	return nil
}

func (w *JSONLZstdWriter) rotateLocked(seg uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
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
	w.curSeg = seg
	w.open = true
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
	w.open = false
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%08d.jsonl.zst", w.prefix, seg*w.segmentSize))
}

const roundsPrefix = "rounds"

// RoundLogger writes one JSONL entry per round (compressed).
type RoundLogger struct{ w *JSONLZstdWriter }

func NewRoundLogger(dir string, segmentRounds int) *RoundLogger {
	return &RoundLogger{w: NewJSONLZstdWriter(dir, roundsPrefix, segmentRounds)}
}

func (l *RoundLogger) WriteRound(v world.RoundLogEntry) error { return l.w.Write(v.Round, v) }
func (l *RoundLogger) Flush() error                           { return l.w.Flush() }
func (l *RoundLogger) Close() error                           { return l.w.Close() }

// ListRoundFiles returns the round log segments in dir, oldest first.
func ListRoundFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, roundsPrefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadRounds calls fn for every entry in dir's round log, in file order.
// Returning an error from fn stops the scan and is passed through.
func ReadRounds(dir string, fn func(world.RoundLogEntry) error) error {
	files, err := ListRoundFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no round log files in %s", dir)
	}
	for _, path := range files {
		if err := readRoundFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readRoundFile(path string, fn func(world.RoundLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	for sc.Scan() {
		var entry world.RoundLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return sc.Err()
}
