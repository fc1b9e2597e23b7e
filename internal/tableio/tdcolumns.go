package tableio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/tabsdata/tdworker/internal/syscol"
)

// tdcolumns is this port's stand-in for the Parquet/Arrow container the
// corpus has no library for: a length-prefixed sequence of named, typed
// column blocks, gzip-compressed. There is no external format library in
// the retrieved examples to ground an alternative encoding on (see
// DESIGN.md).
const tdcolumnsMagic = "TDC1"

// EncodeFrame writes frame to w in tdcolumns format.
func EncodeFrame(w io.Writer, frame *syscol.Frame) error {
	gz := gzip.NewWriter(w)
	bw := bufio.NewWriter(gz)

	if _, err := bw.WriteString(tdcolumnsMagic); err != nil {
		return err
	}
	if err := writeUint32(bw, uint32(frame.RowCount)); err != nil {
		return err
	}
	if err := writeUint32(bw, uint32(len(frame.Columns))); err != nil {
		return err
	}
	for _, col := range frame.Columns {
		if err := writeColumn(bw, col, frame.RowCount); err != nil {
			return fmt.Errorf("tableio: encode column %q: %w", col.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return gz.Close()
}

// DecodeFrame reads a tdcolumns-encoded frame from r.
func DecodeFrame(r io.Reader) (*syscol.Frame, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("tableio: open gzip stream: %w", err)
	}
	defer gz.Close()
	br := bufio.NewReader(gz)

	magic := make([]byte, len(tdcolumnsMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("tableio: read magic: %w", err)
	}
	if string(magic) != tdcolumnsMagic {
		return nil, fmt.Errorf("tableio: unrecognized container magic %q", magic)
	}
	rowCount, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	numCols, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	frame := &syscol.Frame{RowCount: int(rowCount)}
	for i := uint32(0); i < numCols; i++ {
		col, err := readColumn(br, int(rowCount))
		if err != nil {
			return nil, fmt.Errorf("tableio: decode column %d: %w", i, err)
		}
		frame.Columns = append(frame.Columns, col)
	}
	return frame, nil
}

func writeColumn(w io.Writer, col syscol.Column, rowCount int) error {
	if err := writeString(w, col.Name); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(col.Type)); err != nil {
		return err
	}
	for i := 0; i < rowCount; i++ {
		var v any
		if i < len(col.Values) {
			v = col.Values[i]
		}
		if err := writeValue(w, col.Type, v); err != nil {
			return err
		}
	}
	return nil
}

func readColumn(r io.Reader, rowCount int) (syscol.Column, error) {
	name, err := readString(r)
	if err != nil {
		return syscol.Column{}, err
	}
	typeCode, err := readUint32(r)
	if err != nil {
		return syscol.Column{}, err
	}
	dtype := syscol.DType(typeCode)
	values := make([]any, rowCount)
	for i := 0; i < rowCount; i++ {
		v, err := readValue(r, dtype)
		if err != nil {
			return syscol.Column{}, err
		}
		values[i] = v
	}
	return syscol.Column{Name: name, Type: dtype, Values: values}, nil
}

func writeValue(w io.Writer, dtype syscol.DType, v any) error {
	switch dtype {
	case syscol.TypeString:
		s, _ := v.(string)
		return writeString(w, s)
	case syscol.TypeInt32:
		n, _ := v.(int32)
		return binary.Write(w, binary.BigEndian, n)
	case syscol.TypeInt64:
		n, _ := v.(int64)
		return binary.Write(w, binary.BigEndian, n)
	case syscol.TypeFloat64:
		f, _ := v.(float64)
		return binary.Write(w, binary.BigEndian, f)
	case syscol.TypeBool:
		b, _ := v.(bool)
		var raw byte
		if b {
			raw = 1
		}
		return binary.Write(w, binary.BigEndian, raw)
	case syscol.TypeTimestamp:
		t, _ := v.(time.Time)
		return binary.Write(w, binary.BigEndian, t.UnixNano())
	default:
		return fmt.Errorf("tableio: unsupported column type %d", dtype)
	}
}

func readValue(r io.Reader, dtype syscol.DType) (any, error) {
	switch dtype {
	case syscol.TypeString:
		return readString(r)
	case syscol.TypeInt32:
		var n int32
		err := binary.Read(r, binary.BigEndian, &n)
		return n, err
	case syscol.TypeInt64:
		var n int64
		err := binary.Read(r, binary.BigEndian, &n)
		return n, err
	case syscol.TypeFloat64:
		var f float64
		err := binary.Read(r, binary.BigEndian, &f)
		return f, err
	case syscol.TypeBool:
		var raw byte
		err := binary.Read(r, binary.BigEndian, &raw)
		return raw != 0, err
	case syscol.TypeTimestamp:
		var n int64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		return time.Unix(0, n).UTC(), nil
	default:
		return nil, fmt.Errorf("tableio: unsupported column type %d", dtype)
	}
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
