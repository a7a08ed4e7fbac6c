package macho

import (
	"fmt"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

// A Section is one section record of a segment. Address and size are held
// as uint64; reserved3 only exists in 64-bit images.
type Section struct {
	name      [16]byte
	seg       [16]byte
	addr      uint64
	size      uint64
	offset    uint32
	align     uint32
	reloff    uint32
	nreloc    uint32
	flags     types.SectionFlag
	reserved1 uint32
	reserved2 uint32
	reserved3 uint32
	width     types.AddrWidth
}

// Read decodes one section record at the stream's cursor. On failure sec is
// left untouched.
func (sec *Section) Read(h *Header, s *stream.Stream) error {
	return sec.read(h.Width(), s)
}

func (sec *Section) read(w types.AddrWidth, s *stream.Stream) error {
	if err := precondition(s); err != nil {
		return err
	}
	size := types.SectionSize(w)
	if size == 0 {
		return s.Fail(errors.Wrapf(ErrUnknownWidth, "%d", w))
	}
	v, err := s.View(size)
	if err != nil {
		return err
	}

	var out Section
	if err := v.Read(out.name[:]); err != nil {
		return err
	}
	if err := v.Read(out.seg[:]); err != nil {
		return err
	}
	if out.addr, err = v.Addr(w); err != nil {
		return err
	}
	if out.size, err = v.Addr(w); err != nil {
		return err
	}
	fields := []*uint32{&out.offset, &out.align, &out.reloff, &out.nreloc, (*uint32)(&out.flags), &out.reserved1, &out.reserved2}
	if w == types.Width64 {
		fields = append(fields, &out.reserved3)
	}
	for _, f := range fields {
		if *f, err = v.Uint32(); err != nil {
			return err
		}
	}
	out.width = w

	*sec = out
	return s.Skip(size)
}

func (sec *Section) Name() [16]byte           { return sec.name }
func (sec *Section) NameString() string       { return cstring(sec.name[:]) }
func (sec *Section) SegmentName() [16]byte    { return sec.seg }
func (sec *Section) SegmentString() string    { return cstring(sec.seg[:]) }
func (sec *Section) Addr() uint64             { return sec.addr }
func (sec *Section) Size() uint64             { return sec.size }
func (sec *Section) Offset() uint32           { return sec.offset }
func (sec *Section) Align() uint32            { return sec.align }
func (sec *Section) Reloff() uint32           { return sec.reloff }
func (sec *Section) Nreloc() uint32           { return sec.nreloc }
func (sec *Section) Flags() types.SectionFlag { return sec.flags }
func (sec *Section) Reserved1() uint32        { return sec.reserved1 }
func (sec *Section) Reserved2() uint32        { return sec.reserved2 }
func (sec *Section) Reserved3() uint32        { return sec.reserved3 }
func (sec *Section) Width() types.AddrWidth   { return sec.width }

// ContainsVMAddr reports whether a falls inside the section.
func (sec *Section) ContainsVMAddr(a uint64) bool {
	return sec.addr <= a && a < sec.addr+sec.size
}

func (sec *Section) String() string {
	secFlags := ""
	if sec.flags.Type() != types.Regular {
		secFlags = fmt.Sprintf("(%s)", sec.flags)
	}
	name := sec.SegmentString() + "." + sec.NameString()
	return fmt.Sprintf("sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x\t\t%s%s%s",
		sec.size, sec.offset, uint64(sec.offset)+sec.size, sec.addr, sec.addr+sec.size,
		name, pad(32-len(name)), secFlags)
}
