// Package dayfile reads and writes the per-day event files of closed days.
//
// File layout (binary, big-endian):
//   - Day ID (4 bytes)
//   - Product count (4 bytes)
//   - Per product:
//   - Name length (2 bytes) + Name
//   - Event count (4 bytes)
//   - Per event: Quantity (4 bytes), Price (8 bytes, float64), Timestamp (8 bytes)
package dayfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/salesdb/internal/storage/types"
)

const (
	prefix = "day_"
	ext    = ".bin"
)

// Name returns the file name for a day ID.
func Name(dayID int) string {
	return prefix + strconv.Itoa(dayID) + ext
}

// Path returns the full path of a day file.
func Path(dir string, dayID int) string {
	return filepath.Join(dir, Name(dayID))
}

// ParseName extracts the day ID from a file name.
func ParseName(name string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return 0, false
	}
	id, err := strconv.Atoi(name[len(prefix) : len(name)-len(ext)])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// Write persists a day. The file is written to a temporary name and renamed
// into place so a reader never observes a partial file.
func Write(dir string, dayID int, day types.Day) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	final := Path(dir, dayID)
	tmp, err := os.CreateTemp(dir, Name(dayID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(w, dayID, day); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Read loads a day file. A missing file is reported with an error
// satisfying errors.Is(err, os.ErrNotExist).
func Read(dir string, dayID int) (types.Day, error) {
	f, err := os.Open(Path(dir, dayID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	id, day, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", Name(dayID), err)
	}
	if id != dayID {
		return nil, fmt.Errorf("decode %s: file holds day %d", Name(dayID), id)
	}
	return day, nil
}

// Remove deletes a day file. A missing file is not an error.
func Remove(dir string, dayID int) error {
	err := os.Remove(Path(dir, dayID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Encode writes a day in file format. Products are written in lexical order.
func Encode(w io.Writer, dayID int, day types.Day) error {
	names := make([]string, 0, len(day))
	for name := range day {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint32(buf, uint32(dayID))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(names)))

	for _, name := range names {
		if len(name) > math.MaxUint16 {
			return fmt.Errorf("product name of %d bytes too long", len(name))
		}
		series := day[name]
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(series)))
		for _, e := range series {
			buf = binary.BigEndian.AppendUint32(buf, uint32(e.Quantity))
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(e.Price))
			buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp))
		}
		if len(buf) >= 32*1024 {
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			buf = buf[:0]
		}
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Decode reads a day in file format.
func Decode(r io.Reader) (int, types.Day, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("header: %w", err)
	}
	dayID := int(int32(binary.BigEndian.Uint32(hdr[0:4])))
	products := int(binary.BigEndian.Uint32(hdr[4:8]))

	day := make(types.Day, min(products, 1024))
	var scratch [20]byte

	for i := 0; i < products; i++ {
		if _, err := io.ReadFull(r, scratch[:2]); err != nil {
			return 0, nil, fmt.Errorf("product %d name length: %w", i, err)
		}
		name := make([]byte, binary.BigEndian.Uint16(scratch[:2]))
		if _, err := io.ReadFull(r, name); err != nil {
			return 0, nil, fmt.Errorf("product %d name: %w", i, err)
		}

		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return 0, nil, fmt.Errorf("product %q event count: %w", name, err)
		}
		count := int(binary.BigEndian.Uint32(scratch[:4]))

		series := make(types.Series, 0, min(count, 4096))
		for j := 0; j < count; j++ {
			if _, err := io.ReadFull(r, scratch[:20]); err != nil {
				return 0, nil, fmt.Errorf("product %q event %d: %w", name, j, err)
			}
			series = append(series, types.Event{
				Quantity:  int32(binary.BigEndian.Uint32(scratch[0:4])),
				Price:     math.Float64frombits(binary.BigEndian.Uint64(scratch[4:12])),
				Timestamp: int64(binary.BigEndian.Uint64(scratch[12:20])),
			})
		}
		day[string(name)] = series
	}

	return dayID, day, nil
}
