package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/salesdb/internal/storage/types"
)

// Reader reads day rows from a Parquet file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[DayRow]
}

// NewReader opens a Parquet archive.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	return &Reader{
		file:   f,
		reader: parquet.NewGenericReader[DayRow](pf),
	}, nil
}

// ReadAll reads every row of the file.
func (r *Reader) ReadAll() ([]DayRow, error) {
	rows := make([]DayRow, r.reader.NumRows())
	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadDay loads an archived day back into its in-memory form.
func ReadDay(dir string, dayID int) (types.Day, error) {
	r, err := NewReader(Path(dir, dayID))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read archive day %d: %w", dayID, err)
	}

	day := make(types.Day)
	for _, row := range rows {
		if int(row.DayID) != dayID {
			return nil, fmt.Errorf("archive %s holds day %d", Name(dayID), row.DayID)
		}
		day[row.Product] = append(day[row.Product], types.Event{
			Quantity:  row.Quantity,
			Price:     row.Price,
			Timestamp: row.TimestampMs,
		})
	}
	return day, nil
}
