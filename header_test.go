// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"encoding/binary"
	"testing"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestHeaderRead(t *testing.T) {
	tests := []struct {
		name  string
		bo    binary.ByteOrder
		width types.AddrWidth
		size  int
	}{
		{"64-bit little endian", binary.LittleEndian, types.Width64, types.FileHeaderSize64},
		{"64-bit big endian", binary.BigEndian, types.Width64, types.FileHeaderSize64},
		{"32-bit little endian", binary.LittleEndian, types.Width32, types.FileHeaderSize32},
		{"32-bit big endian", binary.BigEndian, types.Width32, types.FileHeaderSize32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stream.New(header(tt.bo, tt.width, 3, 0x100), nil)
			var h Header
			if err := h.Read(s); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if h.Width() != tt.width || h.Is64Bits() != (tt.width == types.Width64) || h.Is32Bits() != (tt.width == types.Width32) {
				t.Errorf("Width() = %s; want %s", h.Width(), tt.width)
			}
			if h.ByteOrder() != tt.bo {
				t.Errorf("ByteOrder() = %v; want %v", h.ByteOrder(), tt.bo)
			}
			if s.ByteOrder() != tt.bo {
				t.Errorf("stream byte order = %v; want %v", s.ByteOrder(), tt.bo)
			}
			if h.Size() != tt.size || s.Offset() != int64(tt.size) {
				t.Errorf("Size() = %d, cursor = %d; want %d", h.Size(), s.Offset(), tt.size)
			}
			want := types.FileHeader{
				Magic:        types.Magic32,
				CPU:          types.CPUArm64,
				Type:         types.MH_DYLIB,
				NCommands:    3,
				SizeCommands: 0x100,
				Flags:        types.PIE,
			}
			if tt.width == types.Width64 {
				want.Magic = types.Magic64
			}
			if diff := cmp.Diff(want, h.FileHeader()); diff != "" {
				t.Errorf("FileHeader() mismatch (-want +got):\n%s", diff)
			}
			if !h.Flags().PIE() {
				t.Errorf("Flags() = %s; want PIE", h.Flags())
			}
		})
	}
}

func TestHeaderReadErrors(t *testing.T) {
	fat := make([]byte, 32)
	binary.BigEndian.PutUint32(fat, types.MagicFat.Int())

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, stream.ErrEOF},
		{"short magic", []byte{0xcf, 0xfa}, stream.ErrEOF},
		{"unknown magic", []byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"), ErrUnknownMagic},
		{"fat", fat, ErrUnknownMagic},
		{"truncated 64-bit", header(binary.LittleEndian, types.Width64, 1, 8)[:28], stream.ErrEOF},
		{"truncated 32-bit", header(binary.LittleEndian, types.Width32, 1, 8)[:27], stream.ErrEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := new(Header)
			err := h.Read(stream.New(tt.data, nil))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Read() error = %v; want %v", err, tt.want)
			}
			if diff := cmp.Diff(types.FileHeader{}, h.FileHeader()); diff != "" || h.Width() != types.WidthUnknown {
				t.Errorf("failed Read modified the header:\n%s", diff)
			}
		})
	}
}

func TestHeaderReadOnFailedStream(t *testing.T) {
	s := stream.New(header(binary.LittleEndian, types.Width64, 0, 0), nil)
	s.Fail(errors.New("earlier failure"))
	if _, err := ReadHeader(s); !errors.Is(err, stream.ErrInvalid) {
		t.Errorf("ReadHeader() error = %v; want ErrInvalid", err)
	}
	if s.Offset() != 0 {
		t.Errorf("cursor moved to %d", s.Offset())
	}
}
