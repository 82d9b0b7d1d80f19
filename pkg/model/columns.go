package model

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/samber/lo"
)

type column struct {
	name  string
	index int
	kind  reflect.Kind
}

// computed once, the struct layout never changes at runtime
var sampleColumns = buildColumns(reflect.TypeOf(Sample{}))

func buildColumns(t reflect.Type) []column {
	ret := make([]column, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, ok := f.Tag.Lookup("csv")
		if !ok || name == "-" {
			continue
		}
		ret = append(ret, column{name: name, index: i, kind: f.Type.Kind()})
	}
	return ret
}

// Columns returns the header of a session file.
func Columns() []string {
	return lo.Map(sampleColumns, func(c column, _ int) string { return c.name })
}

func NumColumns() int {
	return len(sampleColumns)
}

// AppendRecord appends the textual values of s in column order to dst.
func (s *Sample) AppendRecord(dst []string) []string {
	v := reflect.ValueOf(s).Elem()
	for _, c := range sampleColumns {
		f := v.Field(c.index)
		switch c.kind {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			dst = append(dst, strconv.FormatInt(f.Int(), 10))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst = append(dst, strconv.FormatUint(f.Uint(), 10))
		case reflect.Float32:
			dst = append(dst, strconv.FormatFloat(f.Float(), 'g', -1, 32))
		default:
			dst = append(dst, fmt.Sprint(f.Interface()))
		}
	}
	return dst
}

func (s *Sample) Record() []string {
	return s.AppendRecord(make([]string, 0, len(sampleColumns)))
}

// ParseRecord is the inverse of Record. The header is used to locate the
// values, so files with reordered or missing columns can still be read.
// Missing columns keep their zero value, unknown columns are ignored.
func ParseRecord(header, record []string) (*Sample, error) {
	if len(header) != len(record) {
		return nil, fmt.Errorf("record has %d fields, header has %d",
			len(record), len(header))
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	ret := &Sample{}
	v := reflect.ValueOf(ret).Elem()
	for _, c := range sampleColumns {
		i, ok := pos[c.name]
		if !ok {
			continue
		}
		f := v.Field(c.index)
		raw := record[i]
		switch c.kind {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val, err := strconv.ParseInt(raw, 10, f.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
			f.SetInt(val)
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			val, err := strconv.ParseUint(raw, 10, f.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
			f.SetUint(val)
		case reflect.Float32:
			val, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
			f.SetFloat(val)
		default:
			return nil, fmt.Errorf("column %s: unsupported kind %s", c.name, c.kind)
		}
	}
	return ret, nil
}
