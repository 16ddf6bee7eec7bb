package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/salesdb/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// DayRow is one sale event in Parquet format.
type DayRow struct {
	DayID       int32   `parquet:"day_id"`
	Product     string  `parquet:"product,dict,zstd"`
	Quantity    int32   `parquet:"quantity"`
	Price       float64 `parquet:"price"`
	TimestampMs int64   `parquet:"timestamp_ms"`
}

// Name returns the archive file name of a day.
func Name(dayID int) string {
	return fmt.Sprintf("day_%d.parquet", dayID)
}

// Path returns the archive path of a day inside dir.
func Path(dir string, dayID int) string {
	return filepath.Join(dir, Name(dayID))
}

// Rows flattens a day into rows ordered by product name, then event order.
func Rows(dayID int, day types.Day) []DayRow {
	names := make([]string, 0, len(day))
	for name := range day {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]DayRow, 0, day.EventCount())
	for _, name := range names {
		for _, ev := range day[name] {
			rows = append(rows, DayRow{
				DayID:       int32(dayID),
				Product:     name,
				Quantity:    ev.Quantity,
				Price:       ev.Price,
				TimestampMs: ev.Timestamp,
			})
		}
	}
	return rows
}

// Writer writes day rows to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[DayRow]
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer at path.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	return &Writer{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[DayRow](f, parquet.Compression(codec(opts.Compression))),
	}, nil
}

// Write appends rows.
func (w *Writer) Write(rows []DayRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// WriteDay archives a whole day into dir and returns the file path.
func WriteDay(dir string, dayID int, day types.Day, opts Options) (string, error) {
	path := Path(dir, dayID)
	w, err := NewWriter(path, opts)
	if err != nil {
		return "", err
	}
	if err := w.Write(Rows(dayID, day)); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
