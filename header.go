// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"encoding/binary"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

var (
	ErrUnknownMagic = errors.New("unknown mach-o magic")
	ErrUnknownWidth = errors.New("unknown address width")
)

// A Header is a decoded Mach-O file header. The zero value is not a valid
// header; obtain one with Read or ReadHeader.
type Header struct {
	hdr   types.FileHeader
	bo    binary.ByteOrder
	width types.AddrWidth
}

// ReadHeader decodes a header at the stream's cursor.
func ReadHeader(s *stream.Stream) (*Header, error) {
	h := new(Header)
	if err := h.Read(s); err != nil {
		return nil, err
	}
	return h, nil
}

// Read decodes the header at the stream's cursor and switches the stream to
// the byte order implied by the magic. On failure h is left untouched.
func (h *Header) Read(s *stream.Stream) error {
	if err := precondition(s); err != nil {
		return err
	}

	// Magic32 and Magic64 differ only in the bottom bit.
	var ident [4]byte
	if err := s.Peek(ident[:]); err != nil {
		return errors.Wrap(err, "failed to read magic")
	}
	be := binary.BigEndian.Uint32(ident[:])
	le := binary.LittleEndian.Uint32(ident[:])

	var hdr types.FileHeader
	var bo binary.ByteOrder
	switch types.Magic32.Int() &^ 1 {
	case be &^ 1:
		bo = binary.BigEndian
		hdr.Magic = types.Magic(be)
	case le &^ 1:
		bo = binary.LittleEndian
		hdr.Magic = types.Magic(le)
	default:
		if be == types.MagicFat.Int() {
			return s.Fail(errors.Wrap(ErrUnknownMagic, "universal (fat) header"))
		}
		return s.Fail(errors.Wrapf(ErrUnknownMagic, "%#08x", be))
	}
	s.SetByteOrder(bo)
	if err := s.Skip(4); err != nil {
		return err
	}

	fields := []*uint32{
		(*uint32)(&hdr.CPU),
		(*uint32)(&hdr.SubCPU),
		(*uint32)(&hdr.Type),
		&hdr.NCommands,
		&hdr.SizeCommands,
		(*uint32)(&hdr.Flags),
	}
	if hdr.Magic == types.Magic64 {
		fields = append(fields, &hdr.Reserved)
	}
	for _, f := range fields {
		v, err := s.Uint32()
		if err != nil {
			return errors.Wrap(err, "failed to read header")
		}
		*f = v
	}

	*h = Header{hdr: hdr, bo: bo, width: hdr.Magic.Width()}
	return nil
}

func (h *Header) Magic() types.Magic           { return h.hdr.Magic }
func (h *Header) CPU() types.CPU               { return h.hdr.CPU }
func (h *Header) SubCPU() types.CPUSubtype     { return h.hdr.SubCPU }
func (h *Header) Type() types.HeaderFileType   { return h.hdr.Type }
func (h *Header) CommandCount() uint32         { return h.hdr.NCommands }
func (h *Header) CommandsSize() uint32         { return h.hdr.SizeCommands }
func (h *Header) Flags() types.HeaderFlag      { return h.hdr.Flags }
func (h *Header) Reserved() uint32             { return h.hdr.Reserved }
func (h *Header) ByteOrder() binary.ByteOrder  { return h.bo }
func (h *Header) FileHeader() types.FileHeader { return h.hdr }
func (h *Header) Width() types.AddrWidth       { return h.width }
func (h *Header) Is32Bits() bool               { return h.width == types.Width32 }
func (h *Header) Is64Bits() bool               { return h.width == types.Width64 }

// Size returns the on-disk size of the header, which is where the first
// load command starts.
func (h *Header) Size() int { return h.hdr.Magic.HeaderSize() }

func (h *Header) String() string { return h.hdr.String() }

// precondition is the entry check shared by every decoder: the stream must
// not be flagged and must have bytes left.
func precondition(s *stream.Stream) error {
	if err := s.Err(); err != nil {
		return err
	}
	if s.EOF() {
		return errors.Wrapf(stream.ErrEOF, "no data at %#x", s.Offset())
	}
	return nil
}
