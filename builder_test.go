package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/appsworld/dce-macho/types"
)

// Small encoders for the load commands the tests feed the decoders.

type sectionRec struct {
	name, seg    string
	addr, size   uint64
	offset       uint32
	align, flags uint32
}

type enc struct {
	bo binary.ByteOrder
	w  types.AddrWidth
	b  bytes.Buffer
}

func newEnc(bo binary.ByteOrder, w types.AddrWidth) *enc { return &enc{bo: bo, w: w} }

func (e *enc) u32(vals ...uint32) *enc {
	for _, v := range vals {
		binary.Write(&e.b, e.bo, v)
	}
	return e
}

func (e *enc) u64(vals ...uint64) *enc {
	for _, v := range vals {
		binary.Write(&e.b, e.bo, v)
	}
	return e
}

func (e *enc) addr(vals ...uint64) *enc {
	for _, v := range vals {
		if e.w == types.Width64 {
			e.u64(v)
		} else {
			e.u32(uint32(v))
		}
	}
	return e
}

func (e *enc) name16(s string) *enc {
	var n [16]byte
	copy(n[:], s)
	e.b.Write(n[:])
	return e
}

func (e *enc) bytes() []byte { return append([]byte(nil), e.b.Bytes()...) }

// header encodes a mach_header or mach_header_64.
func header(bo binary.ByteOrder, w types.AddrWidth, ncmds, sizeofcmds uint32) []byte {
	e := newEnc(bo, w)
	magic := types.Magic32
	if w == types.Width64 {
		magic = types.Magic64
	}
	e.u32(uint32(magic), uint32(types.CPUArm64), 0, uint32(types.MH_DYLIB), ncmds, sizeofcmds, uint32(types.PIE))
	if w == types.Width64 {
		e.u32(0)
	}
	return e.bytes()
}

func segmentCmd(bo binary.ByteOrder, w types.AddrWidth, name string, vmaddr, vmsize, fileoff, filesize uint64, prot uint32, sects ...sectionRec) []byte {
	cmd, size := types.LC_SEGMENT, types.SegmentSize32
	if w == types.Width64 {
		cmd, size = types.LC_SEGMENT_64, types.SegmentSize64
	}
	size += len(sects) * types.SectionSize(w)

	e := newEnc(bo, w)
	e.u32(uint32(cmd), uint32(size)).name16(name)
	e.addr(vmaddr, vmsize, fileoff, filesize)
	e.u32(prot, prot, uint32(len(sects)), 0)
	for _, s := range sects {
		e.name16(s.name).name16(s.seg)
		e.addr(s.addr, s.size)
		e.u32(s.offset, s.align, 0, 0, s.flags, 0, 0)
		if w == types.Width64 {
			e.u32(0)
		}
	}
	return e.bytes()
}

// strCmd encodes a command whose first field is an lc_str offset followed by
// extra 32-bit fields and the string, padded to 8 bytes.
func strCmd(bo binary.ByteOrder, cmd types.LoadCmd, str string, extra ...uint32) []byte {
	fixed := 12 + 4*len(extra)
	size := fixed + len(str) + 1
	size = (size + 7) &^ 7
	e := newEnc(bo, types.Width64)
	e.u32(uint32(cmd), uint32(size), uint32(fixed)).u32(extra...)
	e.b.WriteString(str)
	e.b.Write(make([]byte, size-fixed-len(str)))
	return e.bytes()
}

func uuidCmd(bo binary.ByteOrder, id types.UUID) []byte {
	e := newEnc(bo, types.Width64)
	e.u32(uint32(types.LC_UUID), 24)
	e.b.Write(id[:])
	return e.bytes()
}

func linkEditCmd(bo binary.ByteOrder, cmd types.LoadCmd, off, size uint32) []byte {
	return newEnc(bo, types.Width64).u32(uint32(cmd), 16, off, size).bytes()
}

func rawCmd(bo binary.ByteOrder, cmd types.LoadCmd, payload []byte) []byte {
	e := newEnc(bo, types.Width64)
	e.u32(uint32(cmd), uint32(8+len(payload)))
	e.b.Write(payload)
	return e.bytes()
}

// image concatenates a header for cmds with the commands themselves.
func image(bo binary.ByteOrder, w types.AddrWidth, cmds ...[]byte) []byte {
	var body []byte
	for _, c := range cmds {
		body = append(body, c...)
	}
	return append(header(bo, w, uint32(len(cmds)), uint32(len(body))), body...)
}
