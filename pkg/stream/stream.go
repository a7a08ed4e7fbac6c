// Package stream implements a bounds-checked, endian-aware cursor over an
// immutable byte span.
//
// A Stream never reads outside [start, end). An overrun does not move the
// cursor; it sets a sticky EOF condition instead. Malformed input is flagged
// with Fail and is sticky as well. Once either condition is set every further
// read is a no-op that returns the zero value and the sticky error.
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math"

	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

var (
	// ErrEOF is returned when a read would cross the end of the stream.
	ErrEOF = errors.New("stream: unexpected end of data")
	// ErrInvalid is matched by every error set through Fail.
	ErrInvalid = errors.New("stream: invalid data")
)

// InvalidError records where a stream was flagged as malformed.
type InvalidError struct {
	Off int64
	Err error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("stream: invalid data at offset %#x: %v", e.Off, e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

func (e *InvalidError) Is(target error) bool { return target == ErrInvalid }

// Stream is a cursor over a shared byte span. The bytes are never written.
type Stream struct {
	data  []byte
	start int
	end   int
	off   int
	bo    binary.ByteOrder

	eof bool
	err error
}

// New returns a stream over all of data. A nil byte order means little endian.
func New(data []byte, bo binary.ByteOrder) *Stream {
	if bo == nil {
		bo = binary.LittleEndian
	}
	return &Stream{data: data, end: len(data), bo: bo}
}

// NewFromReaderAt copies size bytes at off from r into a private buffer and
// returns a stream over them.
func NewFromReaderAt(r io.ReaderAt, off, size int64, bo binary.ByteOrder) (*Stream, error) {
	buf, err := ReadRegion(r, off, size)
	if err != nil {
		return nil, err
	}
	return New(buf, bo), nil
}

// ReadRegion copies size bytes at off from r. When the length of r is known
// the region is checked against it before anything is allocated; otherwise
// the buffer grows with the bytes actually read. A region that runs past the
// end of r fails with ErrEOF.
func ReadRegion(r io.ReaderAt, off, size int64) ([]byte, error) {
	if off < 0 || size < 0 || off > math.MaxInt64-size {
		return nil, errors.Errorf("stream: invalid region offset=%#x size=%#x", off, size)
	}
	if n, ok := sourceSize(r); ok {
		if off+size > n {
			return nil, errors.Wrapf(ErrEOF, "read %d bytes at %#x (source holds %d)", size, off, n)
		}
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, off); err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "failed to read %d bytes at %#x", size, off)
		}
		return buf, nil
	}
	buf, err := io.ReadAll(io.NewSectionReader(r, off, size))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %d bytes at %#x", size, off)
	}
	if int64(len(buf)) < size {
		return nil, errors.Wrapf(ErrEOF, "read %d bytes at %#x (got %d)", size, off, len(buf))
	}
	return buf, nil
}

func sourceSize(r io.ReaderAt) (int64, bool) {
	switch v := r.(type) {
	case interface{ Size() int64 }:
		return v.Size(), true
	case interface{ Stat() (fs.FileInfo, error) }:
		if fi, err := v.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.Size(), true
		}
	}
	return 0, false
}

func (s *Stream) SetByteOrder(bo binary.ByteOrder) { s.bo = bo }
func (s *Stream) ByteOrder() binary.ByteOrder     { return s.bo }

// Offset returns the cursor position relative to the start of the underlying span.
func (s *Stream) Offset() int64 { return int64(s.off) }

// Start returns the lower bound of the stream.
func (s *Stream) Start() int64 { return int64(s.start) }

// End returns the upper bound of the stream.
func (s *Stream) End() int64 { return int64(s.end) }

// Len returns the size of the bounded region.
func (s *Stream) Len() int { return s.end - s.start }

// Remaining returns the number of bytes between the cursor and the end.
func (s *Stream) Remaining() int { return s.end - s.off }

// Good reports whether no malformed-input condition has been flagged.
// Running out of data does not clear Good.
func (s *Stream) Good() bool { return s.err == nil }

// EOF reports whether the cursor is at the end or a read overran it.
func (s *Stream) EOF() bool { return s.eof || s.off >= s.end }

// Err returns the sticky error, if any.
func (s *Stream) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.eof {
		return ErrEOF
	}
	return nil
}

// Fail flags the stream as malformed. Only the first failure is kept.
func (s *Stream) Fail(err error) error {
	if s.err == nil {
		if err == nil {
			err = ErrInvalid
		}
		s.err = &InvalidError{Off: int64(s.off), Err: err}
	}
	return s.err
}

// Failf is Fail with a formatted cause.
func (s *Stream) Failf(format string, args ...interface{}) error {
	return s.Fail(errors.Errorf(format, args...))
}

func (s *Stream) overrun(n int) error {
	s.eof = true
	return errors.Wrapf(ErrEOF, "need %d bytes at %#x, %d left", n, s.off, s.end-s.off)
}

func (s *Stream) take(n int) ([]byte, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n > s.end-s.off {
		return nil, s.overrun(n)
	}
	b := s.data[s.off : s.off+n]
	s.off += n
	return b, nil
}

func (s *Stream) Uint8() (uint8, error) {
	b, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) Uint16() (uint16, error) {
	b, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return s.bo.Uint16(b), nil
}

func (s *Stream) Uint32() (uint32, error) {
	b, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return s.bo.Uint32(b), nil
}

func (s *Stream) Uint64() (uint64, error) {
	b, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return s.bo.Uint64(b), nil
}

// Addr reads a width-dependent field: 4 bytes zero-extended or 8 bytes.
// An unknown width marks the stream invalid before anything is consumed.
func (s *Stream) Addr(w types.AddrWidth) (uint64, error) {
	switch w {
	case types.Width32:
		v, err := s.Uint32()
		return uint64(v), err
	case types.Width64:
		return s.Uint64()
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, s.Failf("unknown address width %d", w)
}

// Read fills p completely or not at all.
func (s *Stream) Read(p []byte) error {
	b, err := s.take(len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// Bytes returns a private copy of the next n bytes.
func (s *Stream) Bytes(n int) ([]byte, error) {
	b, err := s.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Skip advances the cursor by n bytes.
func (s *Stream) Skip(n int) error {
	_, err := s.take(n)
	return err
}

// Peek fills p without moving the cursor.
func (s *Stream) Peek(p []byte) error {
	if err := s.Err(); err != nil {
		return err
	}
	if len(p) > s.end-s.off {
		return s.overrun(len(p))
	}
	copy(p, s.data[s.off:])
	return nil
}

// ReadStruct decodes a fixed-size value with encoding/binary in the stream's
// byte order.
func (s *Stream) ReadStruct(v interface{}) error {
	n := binary.Size(v)
	if n < 0 {
		if err := s.Err(); err != nil {
			return err
		}
		return s.Failf("cannot decode %T", v)
	}
	b, err := s.take(n)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), s.bo, v)
}

// Uleb128 reads an unsigned LEB128 value.
func (s *Stream) Uleb128() (uint64, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}
	var result uint64
	var shift uint
	for i := s.off; i < s.end; i++ {
		b := s.data[i]
		if shift >= 64 || (shift == 63 && b&0x7e != 0) {
			return 0, s.Failf("uleb128 too big")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			s.off = i + 1
			return result, nil
		}
		shift += 7
	}
	return 0, s.overrun(s.end - s.off + 1)
}

// CString reads a NUL-terminated string and consumes the terminator.
func (s *Stream) CString() (string, error) {
	if err := s.Err(); err != nil {
		return "", err
	}
	i := bytes.IndexByte(s.data[s.off:s.end], 0)
	if i < 0 {
		return "", s.overrun(s.end - s.off + 1)
	}
	str := string(s.data[s.off : s.off+i])
	s.off += i + 1
	return str, nil
}

// View returns an independent stream bounded to the next n bytes. The outer
// cursor does not move and state set on the view never leaks back.
func (s *Stream) View(n int) (*Stream, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n > s.end-s.off {
		return nil, errors.Wrapf(ErrEOF, "view of %d bytes at %#x, %d left", n, s.off, s.end-s.off)
	}
	return &Stream{data: s.data, start: s.off, end: s.off + n, off: s.off, bo: s.bo}, nil
}

// At returns a fresh stream with the same bounds positioned at off. It is
// how a caller retries at another offset; sticky state is never reset.
func (s *Stream) At(off int64) (*Stream, error) {
	if off < int64(s.start) || off > int64(s.end) {
		return nil, errors.Wrapf(ErrEOF, "offset %#x outside [%#x, %#x)", off, s.start, s.end)
	}
	return &Stream{data: s.data, start: s.start, end: s.end, off: int(off), bo: s.bo}, nil
}
