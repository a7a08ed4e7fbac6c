package stream

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/appsworld/dce-macho/types"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestFixedWidthReads(t *testing.T) {
	tests := []struct {
		name string
		bo   binary.ByteOrder
		want uint32
		w64  uint64
	}{
		{"little", binary.LittleEndian, 0x04030201, 0x0c0b0a0908070605},
		{"big", binary.BigEndian, 0x01020304, 0x05060708090a0b0c},
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(data, tt.bo)
			v, err := s.Uint32()
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.want {
				t.Errorf("Uint32() = %#x; want %#x", v, tt.want)
			}
			v64, err := s.Uint64()
			if err != nil {
				t.Fatal(err)
			}
			if v64 != tt.w64 {
				t.Errorf("Uint64() = %#x; want %#x", v64, tt.w64)
			}
			if !s.EOF() || !s.Good() {
				t.Errorf("EOF() = %v, Good() = %v; want true, true", s.EOF(), s.Good())
			}
			if s.Err() != nil {
				t.Errorf("Err() = %v; want nil after an exact read", s.Err())
			}
		})
	}
}

func TestOverrunIsSticky(t *testing.T) {
	s := New([]byte{1, 2, 3, 4, 5, 6}, binary.LittleEndian)
	if _, err := s.Uint32(); err != nil {
		t.Fatal(err)
	}
	v, err := s.Uint32()
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("Uint32() error = %v; want ErrEOF", err)
	}
	if v != 0 {
		t.Errorf("Uint32() = %#x after overrun; want 0", v)
	}
	if s.Offset() != 4 {
		t.Errorf("Offset() = %d; overrun must not move the cursor", s.Offset())
	}
	// two bytes are still there but the stream stays failed
	if _, err := s.Uint16(); !errors.Is(err, ErrEOF) {
		t.Errorf("Uint16() after overrun error = %v; want ErrEOF", err)
	}
	if !s.Good() {
		t.Error("Good() = false; EOF must not flag malformed input")
	}
	if !s.EOF() {
		t.Error("EOF() = false after overrun")
	}
}

func TestFailIsSticky(t *testing.T) {
	s := New(make([]byte, 16), binary.LittleEndian)
	first := errors.New("bad size")
	s.Fail(first)
	s.Fail(errors.New("second"))
	if s.Good() {
		t.Fatal("Good() = true after Fail")
	}
	err := s.Err()
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Err() = %v; want ErrInvalid", err)
	}
	if !errors.Is(err, first) {
		t.Errorf("Err() = %v; want the first cause kept", err)
	}
	if _, err := s.Uint64(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Uint64() error = %v; want ErrInvalid", err)
	}
	if s.Offset() != 0 {
		t.Errorf("Offset() = %d; want 0", s.Offset())
	}
}

func TestAddr(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff, 1, 0, 0, 0, 0, 0, 0, 0}

	s := New(data, binary.LittleEndian)
	v, err := s.Addr(types.Width32)
	if err != nil || v != 0xffffffff {
		t.Errorf("Addr(Width32) = %#x, %v; want 0xffffffff zero-extended", v, err)
	}
	v, err = s.Addr(types.Width64)
	if err != nil || v != 1 {
		t.Errorf("Addr(Width64) = %#x, %v; want 1", v, err)
	}

	s = New(data, binary.LittleEndian)
	if _, err := s.Addr(types.WidthUnknown); !errors.Is(err, ErrInvalid) {
		t.Errorf("Addr(WidthUnknown) error = %v; want ErrInvalid", err)
	}
	if s.Offset() != 0 {
		t.Errorf("Offset() = %d; unknown width must not consume", s.Offset())
	}
}

func TestReadAllOrNothing(t *testing.T) {
	s := New([]byte("abc"), nil)
	p := []byte("xxxx")
	if err := s.Read(p); !errors.Is(err, ErrEOF) {
		t.Fatalf("Read() error = %v; want ErrEOF", err)
	}
	if string(p) != "xxxx" {
		t.Errorf("Read() wrote %q on overrun", p)
	}
}

func TestBytesIsPrivate(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	s := New(data, nil)
	b, err := s.Bytes(4)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	if b[0] != 1 {
		t.Error("Bytes() aliases the source")
	}
}

func TestPeek(t *testing.T) {
	s := New([]byte{1, 0, 0, 0, 2, 0, 0, 0}, binary.LittleEndian)
	var p [4]byte
	if err := s.Peek(p[:]); err != nil {
		t.Fatal(err)
	}
	if s.Offset() != 0 {
		t.Errorf("Peek moved the cursor to %d", s.Offset())
	}
	if v, _ := s.Uint32(); v != 1 {
		t.Errorf("Uint32() after Peek = %d; want 1", v)
	}
}

func TestUleb128(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
		n    int64
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xe5, 0x8e, 0x26, 0xff}, 624485, 3},
	}
	for _, tt := range tests {
		s := New(tt.in, nil)
		got, err := s.Uleb128()
		if err != nil {
			t.Fatalf("Uleb128(% x) error = %v", tt.in, err)
		}
		if got != tt.want || s.Offset() != tt.n {
			t.Errorf("Uleb128(% x) = %d at %d; want %d at %d", tt.in, got, s.Offset(), tt.want, tt.n)
		}
	}

	s := New([]byte{0x80, 0x80}, nil)
	if _, err := s.Uleb128(); !errors.Is(err, ErrEOF) {
		t.Errorf("truncated Uleb128 error = %v; want ErrEOF", err)
	}
	if s.Offset() != 0 {
		t.Errorf("truncated Uleb128 moved the cursor to %d", s.Offset())
	}

	s = New(bytes.Repeat([]byte{0xff}, 11), nil)
	if _, err := s.Uleb128(); !errors.Is(err, ErrInvalid) {
		t.Errorf("oversized Uleb128 error = %v; want ErrInvalid", err)
	}
}

func TestCString(t *testing.T) {
	s := New([]byte("__TEXT\x00__DATA"), nil)
	str, err := s.CString()
	if err != nil || str != "__TEXT" {
		t.Fatalf("CString() = %q, %v; want __TEXT", str, err)
	}
	if _, err := s.CString(); !errors.Is(err, ErrEOF) {
		t.Errorf("unterminated CString error = %v; want ErrEOF", err)
	}
	if s.Offset() != 7 {
		t.Errorf("Offset() = %d; want 7", s.Offset())
	}
}

func TestViewIsIndependent(t *testing.T) {
	s := New(make([]byte, 16), binary.LittleEndian)
	s.Skip(4)
	v, err := s.View(8)
	if err != nil {
		t.Fatal(err)
	}
	if v.Offset() != 4 || v.Len() != 8 || v.Remaining() != 8 {
		t.Errorf("View = off %d len %d rem %d; want 4 8 8", v.Offset(), v.Len(), v.Remaining())
	}
	v.Uint64()
	if _, err := v.Uint32(); !errors.Is(err, ErrEOF) {
		t.Errorf("read past view end error = %v; want ErrEOF", err)
	}
	v.Fail(errors.New("boom"))
	if s.Offset() != 4 || !s.Good() || s.EOF() {
		t.Errorf("outer stream changed: off %d good %v eof %v", s.Offset(), s.Good(), s.EOF())
	}
	if _, err := s.View(13); !errors.Is(err, ErrEOF) {
		t.Errorf("View(13) error = %v; want ErrEOF", err)
	}
}

func TestAtRetry(t *testing.T) {
	s := New([]byte{1, 0, 0, 0, 2, 0, 0, 0}, binary.LittleEndian)
	s.Fail(errors.New("bad"))
	r, err := s.At(4)
	if err != nil {
		t.Fatal(err)
	}
	v, err := r.Uint32()
	if err != nil || v != 2 {
		t.Errorf("At(4).Uint32() = %d, %v; want 2", v, err)
	}
	if s.Good() {
		t.Error("At must not reset sticky state on the original")
	}
	if _, err := s.At(9); err == nil {
		t.Error("At(9) on an 8 byte stream succeeded")
	}
}

func TestReadStruct(t *testing.T) {
	type pair struct {
		A uint32
		B uint16
	}
	s := New([]byte{0, 0, 0, 1, 0, 2}, binary.BigEndian)
	var got pair
	if err := s.ReadStruct(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(pair{1, 2}, got); diff != "" {
		t.Errorf("ReadStruct() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewFromReaderAt(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0xcf, 0xfa, 0xed, 0xfe, 0})
	s, err := NewFromReaderAt(r, 2, 4, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Uint32(); v != 0xfeedfacf {
		t.Errorf("Uint32() = %#x; want 0xfeedfacf", v)
	}
	if _, err := NewFromReaderAt(r, 4, 8, nil); !errors.Is(err, ErrEOF) {
		t.Errorf("short region error = %v; want ErrEOF", err)
	}
}

// readerAt hides the length of the wrapped reader.
type readerAt struct{ r io.ReaderAt }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) { return r.r.ReadAt(p, off) }

func TestReadRegion(t *testing.T) {
	src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	tests := []struct {
		name      string
		r         io.ReaderAt
		off, size int64
		want      []byte
		err       error
	}{
		{"sized", src, 2, 4, []byte{3, 4, 5, 6}, nil},
		{"unsized", readerAt{src}, 2, 4, []byte{3, 4, 5, 6}, nil},
		{"to the end", readerAt{src}, 4, 4, []byte{5, 6, 7, 8}, nil},
		{"sized past end", src, 4, 1 << 42, nil, ErrEOF},
		{"unsized past end", readerAt{src}, 4, 1 << 42, nil, ErrEOF},
		{"empty", src, 8, 0, []byte{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadRegion(tt.r, tt.off, tt.size)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("ReadRegion() error = %v; want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadRegion() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReadRegion() = %x; want %x", got, tt.want)
			}
		})
	}

	if _, err := ReadRegion(src, math.MaxInt64, 2); err == nil || errors.Is(err, ErrEOF) {
		t.Errorf("wrapping region error = %v; want an invalid region", err)
	}
}
