package sink

import (
	"bytes"
	"encoding/csv"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

// RowBuffer holds the CSV representation of a session in memory.
// The header is written on creation, rows are serialized on Append.
type RowBuffer struct {
	buf    bytes.Buffer
	w      *csv.Writer
	record []string
	rows   int
}

func NewRowBuffer() *RowBuffer {
	ret := &RowBuffer{record: make([]string, 0, model.NumColumns())}
	ret.w = csv.NewWriter(&ret.buf)
	ret.writeHeader()
	return ret
}

func (b *RowBuffer) writeHeader() {
	//nolint:errcheck // writes to bytes.Buffer don't fail
	b.w.Write(model.Columns())
	b.w.Flush()
}

func (b *RowBuffer) Append(s *model.Sample) error {
	b.record = s.AppendRecord(b.record[:0])
	if err := b.w.Write(b.record); err != nil {
		return err
	}
	b.w.Flush()
	if err := b.w.Error(); err != nil {
		return err
	}
	b.rows++
	return nil
}

// Len returns the number of data rows (without header).
func (b *RowBuffer) Len() int {
	return b.rows
}

// Bytes returns header and rows. The slice is only valid until the next
// call to Append or Reset.
func (b *RowBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Reset drops all rows and keeps the allocated memory.
func (b *RowBuffer) Reset() {
	b.buf.Reset()
	b.rows = 0
	b.writeHeader()
}
