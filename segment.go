package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*******************************************************************************
 * LC_SEGMENT, LC_SEGMENT_64
 *******************************************************************************/

// A Segment represents a Mach-O 32-bit or 64-bit load segment command.
// Geometry fields are always held as uint64; 32-bit values are zero-extended.
type Segment struct {
	loadPrefix
	name     [16]byte
	vmaddr   uint64
	vmsize   uint64
	fileoff  uint64
	filesize uint64
	maxprot  types.VmProtection
	initprot types.VmProtection
	nsects   uint32
	flags    types.SegFlag
	width    types.AddrWidth

	sects *sectionTable
}

type sectionTable struct {
	once  sync.Once
	bo    binary.ByteOrder
	width types.AddrWidth
	count uint32
	dat   []byte
	secs  []Section
	err   error
}

// Read decodes a segment command at the stream's cursor using the address
// width resolved by h. On success the cursor moves past the whole command,
// sections included. On failure s is marked and seg keeps its previous state.
func (seg *Segment) Read(h *Header, s *stream.Stream) error {
	p, v, err := beginLoad(s, types.LC_SEGMENT, types.LC_SEGMENT_64)
	if err != nil {
		return err
	}
	var out Segment
	if err := out.decode(h, p, v); err != nil {
		return p.fail(s, err)
	}
	*seg = out
	return p.finish(s)
}

func (seg *Segment) decode(h *Header, p loadPrefix, v *stream.Stream) error {
	cmd, err := v.Uint32()
	if err != nil {
		return err
	}
	size, err := v.Uint32()
	if err != nil {
		return err
	}
	seg.loadPrefix = loadPrefix{cmd: types.LoadCmd(cmd), size: size}

	if err := v.Read(seg.name[:]); err != nil {
		return errors.Wrap(err, "failed to read segment name")
	}
	if v.EOF() {
		return errors.Wrapf(stream.ErrEOF, "segment truncated after name")
	}

	switch w := h.Width(); w {
	case types.Width64, types.Width32:
		for _, f := range []*uint64{&seg.vmaddr, &seg.vmsize, &seg.fileoff, &seg.filesize} {
			if *f, err = v.Addr(w); err != nil {
				return errors.Wrap(err, "failed to read segment geometry")
			}
		}
		seg.width = w
	default:
		return v.Fail(errors.Wrapf(ErrUnknownWidth, "%d", w))
	}

	var prot [3]uint32
	for i := range prot {
		if prot[i], err = v.Uint32(); err != nil {
			return errors.Wrap(err, "failed to read segment protections")
		}
	}
	seg.maxprot = types.VmProtection(prot[0])
	seg.initprot = types.VmProtection(prot[1])
	seg.nsects = prot[2]
	if v.EOF() {
		return errors.Wrapf(stream.ErrEOF, "segment truncated before flags")
	}
	flags, err := v.Uint32()
	if err != nil {
		return errors.Wrap(err, "failed to read segment flags")
	}
	seg.flags = types.SegFlag(flags)

	// Section records follow; keep a private copy and decode them on demand.
	trailing, err := v.Bytes(v.Remaining())
	if err != nil {
		return err
	}
	seg.sects = &sectionTable{
		bo:    v.ByteOrder(),
		width: seg.width,
		count: seg.nsects,
		dat:   trailing,
	}
	return nil
}

func (seg *Segment) Name() [16]byte               { return seg.name }
func (seg *Segment) NameString() string           { return cstring(seg.name[:]) }
func (seg *Segment) VMAddress() uint64            { return seg.vmaddr }
func (seg *Segment) VMSize() uint64               { return seg.vmsize }
func (seg *Segment) FileOffset() uint64           { return seg.fileoff }
func (seg *Segment) FileSize() uint64             { return seg.filesize }
func (seg *Segment) MaxProt() types.VmProtection  { return seg.maxprot }
func (seg *Segment) InitProt() types.VmProtection { return seg.initprot }
func (seg *Segment) SectionsCount() uint32        { return seg.nsects }
func (seg *Segment) Flags() types.SegFlag         { return seg.flags }
func (seg *Segment) Width() types.AddrWidth       { return seg.width }
func (seg *Segment) ContainsVMAddr(a uint64) bool { return seg.vmaddr <= a && a < seg.vmaddr+seg.vmsize }
func (seg *Segment) ContainsOffset(o uint64) bool { return seg.fileoff <= o && o < seg.fileoff+seg.filesize }

// Sections decodes the section records that follow the segment command. The
// result is computed once and shared by every caller.
func (seg *Segment) Sections() ([]Section, error) {
	if seg.sects == nil {
		return nil, nil
	}
	t := seg.sects
	t.once.Do(func() {
		if uint64(t.count)*uint64(types.SectionSize(t.width)) > uint64(len(t.dat)) {
			t.err = errors.Wrapf(stream.ErrEOF, "%d sections need %#x bytes, only %#x follow the segment",
				t.count, uint64(t.count)*uint64(types.SectionSize(t.width)), len(t.dat))
			return
		}
		s := stream.New(t.dat, t.bo)
		secs := make([]Section, 0, t.count)
		for i := uint32(0); i < t.count; i++ {
			var sec Section
			if err := sec.read(t.width, s); err != nil {
				t.err = errors.Wrapf(err, "failed to read section %d of %d", i, t.count)
				return
			}
			secs = append(secs, sec)
		}
		t.secs = secs
	})
	if t.err != nil {
		return nil, t.err
	}
	return append([]Section(nil), t.secs...), nil
}

// Section returns the named section of the segment, or nil.
func (seg *Segment) Section(name string) *Section {
	secs, err := seg.Sections()
	if err != nil {
		return nil
	}
	for i := range secs {
		if secs[i].NameString() == name {
			return &secs[i]
		}
	}
	return nil
}

func (seg *Segment) String() string {
	return fmt.Sprintf("%s: sz=%s off=0x%08x-0x%08x addr=0x%09x-0x%09x %s/%s   %s%s%s",
		seg.cmd,
		humanize.Bytes(seg.filesize),
		seg.fileoff, seg.fileoff+seg.filesize,
		seg.vmaddr, seg.vmaddr+seg.vmsize,
		seg.initprot, seg.maxprot,
		seg.NameString(), pad(20-len(seg.NameString())), seg.flags)
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}

func pad(length int) string {
	if length > 0 {
		return strings.Repeat(" ", length)
	}
	return " "
}
