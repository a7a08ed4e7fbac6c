package macho

// High level access to one decoded image.

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/appsworld/dce-macho/pkg/codesign"
	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/pkg/trie"
	"github.com/appsworld/dce-macho/types"
	"github.com/blacktop/go-dwarf"
	"github.com/pkg/errors"
)

var ErrNoDWARF = errors.New("no dwarf debug information")

const maxInflatedSection = 1 << 32

// FormatError is returned by some operations if the data does
// not have the correct format for an image.
type FormatError struct {
	off int64
	msg string
	val interface{}
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// Unwrap exposes the underlying decode error, when there is one.
func (e *FormatError) Unwrap() error {
	if err, ok := e.val.(error); ok {
		return err
	}
	return nil
}

// ImageConfig locates an image inside a larger byte source.
type ImageConfig struct {
	// Offset is where the image header starts in the source.
	Offset int64
	// Size bounds the image region when non-zero.
	Size int64
	// AbsoluteOffsets means the file offsets recorded in the load commands
	// are relative to the start of the source rather than to Offset, as in
	// a shared cache.
	AbsoluteOffsets bool
	LoadFilter      []types.LoadCmd
	Logger          log.Interface
}

// An Image is a decoded Mach-O header and its load commands, backed by the
// source it was read from for data carving.
type Image struct {
	hdr   *Header
	loads []Load

	r      io.ReaderAt
	cfg    ImageConfig
	log    log.Interface
	closer io.Closer

	funcsOnce sync.Once
	funcs     []types.Function
	funcsErr  error
}

// Open opens the named file using os.Open and decodes the image at its start.
func Open(name string) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	img, err := NewImage(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.closer = f
	return img, nil
}

// Close closes the Image.
// If the Image was created using NewImage directly instead of Open,
// Close has no effect.
func (img *Image) Close() error {
	var err error
	if img.closer != nil {
		err = img.closer.Close()
		img.closer = nil
	}
	return err
}

// NewImage decodes the header and load commands of the image found at
// cfg.Offset in r. The header and command area are copied into a private
// buffer; r is only consulted again when segment or section data is asked for.
func NewImage(r io.ReaderAt, config ...ImageConfig) (*Image, error) {
	img := &Image{r: r, log: log.Log}
	if len(config) > 0 {
		img.cfg = config[0]
		if img.cfg.Logger != nil {
			img.log = img.cfg.Logger
		}
	}
	off := img.cfg.Offset

	var hbuf [types.FileHeaderSize64]byte
	n, err := r.ReadAt(hbuf[:], off)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read header at %#x", off)
	}
	h, err := ReadHeader(stream.New(hbuf[:n], nil))
	if err != nil {
		return nil, &FormatError{off, "invalid header", err}
	}
	img.hdr = h

	size := int64(h.Size()) + int64(h.CommandsSize())
	if img.cfg.Size > 0 && size > img.cfg.Size {
		return nil, &FormatError{off, "load commands overrun image region", fmt.Sprintf("%#x > %#x", size, img.cfg.Size)}
	}
	s, err := stream.NewFromReaderAt(r, off, size, h.ByteOrder())
	if err != nil {
		return nil, &FormatError{off, "failed to read load commands", err}
	}
	if err := s.Skip(h.Size()); err != nil {
		return nil, err
	}

	opts := []DecodeOption{WithLogger(img.log.WithField("image", fmt.Sprintf("%#x", off)))}
	if len(img.cfg.LoadFilter) > 0 {
		opts = append(opts, WithLoadFilter(img.cfg.LoadFilter...))
	}
	loads, err := DecodeCommands(h, s, opts...)
	if err != nil {
		return nil, &FormatError{off + s.Offset(), "failed to decode load commands", err}
	}
	img.loads = loads

	return img, nil
}

func (img *Image) Header() *Header { return img.hdr }

// Loads returns the decoded load commands in file order.
func (img *Image) Loads() []Load { return append([]Load(nil), img.loads...) }

func (img *Image) String() string {
	var b strings.Builder
	b.WriteString(img.hdr.String())
	for i, l := range img.loads {
		if seg, ok := l.(*Segment); ok {
			fmt.Fprintf(&b, "%03d: %s\n", i, seg)
			secs, err := seg.Sections()
			if err != nil {
				fmt.Fprintf(&b, "\t%v\n", err)
				continue
			}
			for j := range secs {
				fmt.Fprintf(&b, "\t%s\n", &secs[j])
			}
			continue
		}
		fmt.Fprintf(&b, "%03d: %s%s%v\n", i, l.Command(), pad(28-len(l.Command().String())), l)
	}
	return b.String()
}

// dataOffset turns a file offset recorded in a load command into an offset
// into the source.
func (img *Image) dataOffset(off uint64) int64 {
	if img.cfg.AbsoluteOffsets {
		return int64(off)
	}
	return img.cfg.Offset + int64(off)
}

func (img *Image) readAt(off, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if off+size < off || off+size > math.MaxInt64 {
		return nil, &FormatError{img.cfg.Offset, "data region wraps", fmt.Sprintf("offset %#x size %#x", off, size)}
	}
	if img.cfg.Size > 0 && !img.cfg.AbsoluteOffsets && off+size > uint64(img.cfg.Size) {
		return nil, &FormatError{img.dataOffset(off), "data outside image region", fmt.Sprintf("size %#x", size)}
	}
	dat, err := stream.ReadRegion(img.r, img.dataOffset(off), int64(size))
	if err != nil {
		return nil, &FormatError{img.dataOffset(off), "data outside source", err}
	}
	return dat, nil
}

// Segments returns all Segments.
func (img *Image) Segments() []*Segment {
	var segs []*Segment
	for _, l := range img.loads {
		if s, ok := l.(*Segment); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

// Segment returns the first Segment with the given name, or nil if no such segment exists.
func (img *Image) Segment(name string) *Segment {
	for _, s := range img.Segments() {
		if s.NameString() == name {
			return s
		}
	}
	return nil
}

// Sections returns the sections of every segment in file order. Segments
// whose section records cannot be decoded are logged and left out.
func (img *Image) Sections() []*Section {
	var all []*Section
	for _, seg := range img.Segments() {
		secs, err := seg.Sections()
		if err != nil {
			img.log.WithError(err).WithField("segment", seg.NameString()).Warn("failed to decode sections")
			continue
		}
		for i := range secs {
			all = append(all, &secs[i])
		}
	}
	return all
}

// Section returns the section with the given name in the given segment,
// or nil if no such section exists.
func (img *Image) Section(segment, section string) *Section {
	if seg := img.Segment(segment); seg != nil {
		return seg.Section(section)
	}
	return nil
}

// FindSegmentForVMAddr returns the segment containing a given virtual memory address.
func (img *Image) FindSegmentForVMAddr(vmAddr uint64) *Segment {
	for _, seg := range img.Segments() {
		if seg.ContainsVMAddr(vmAddr) {
			return seg
		}
	}
	return nil
}

// FindSectionForVMAddr returns the section containing a given virtual memory address.
func (img *Image) FindSectionForVMAddr(vmAddr uint64) *Section {
	for _, sec := range img.Sections() {
		if sec.ContainsVMAddr(vmAddr) {
			return sec
		}
	}
	return nil
}

// GetOffset returns the file offset for a given virtual address
func (img *Image) GetOffset(address uint64) (uint64, error) {
	for _, seg := range img.Segments() {
		if seg.ContainsVMAddr(address) {
			return (address - seg.VMAddress()) + seg.FileOffset(), nil
		}
	}
	return 0, fmt.Errorf("address %#x not within any segments address range", address)
}

// GetVMAddress returns the virtual address for a given file offset
func (img *Image) GetVMAddress(offset uint64) (uint64, error) {
	for _, seg := range img.Segments() {
		if seg.ContainsOffset(offset) {
			return (offset - seg.FileOffset()) + seg.VMAddress(), nil
		}
	}
	return 0, fmt.Errorf("offset %#x not within any segments file offset range", offset)
}

// GetBaseAddress returns the image's preferred load address
func (img *Image) GetBaseAddress() uint64 {
	if seg := img.Segment("__TEXT"); seg != nil {
		return seg.VMAddress()
	}
	return 0
}

// SegmentData returns the file bytes of seg. A zero-fill segment yields an
// empty slice.
func (img *Image) SegmentData(seg *Segment) ([]byte, error) {
	return img.readAt(seg.FileOffset(), seg.FileSize())
}

// SectionData returns the file bytes of sec. Zero-fill sections have none.
func (img *Image) SectionData(sec *Section) ([]byte, error) {
	if sec.Flags().IsZerofill() {
		return []byte{}, nil
	}
	return img.readAt(uint64(sec.Offset()), sec.Size())
}

// UUID returns the UUID load command, or nil if no UUID exists.
func (img *Image) UUID() *UUID {
	for _, l := range img.loads {
		if u, ok := l.(*UUID); ok {
			return u
		}
	}
	return nil
}

// DylibID returns the LC_ID_DYLIB command, or nil if the image is not a dylib.
func (img *Image) DylibID() *Dylib {
	for _, l := range img.loads {
		if d, ok := l.(*Dylib); ok && d.IsID() {
			return d
		}
	}
	return nil
}

// ImportedLibraries returns the paths of all libraries
// referred to by the image that are expected to be
// linked with it at dynamic link time.
func (img *Image) ImportedLibraries() []string {
	var all []string
	for _, l := range img.loads {
		if d, ok := l.(*Dylib); ok && !d.IsID() {
			all = append(all, d.Name())
		}
	}
	return all
}

// Rpaths returns the LC_RPATH paths in order.
func (img *Image) Rpaths() []string {
	var all []string
	for _, l := range img.loads {
		if r, ok := l.(*Rpath); ok {
			all = append(all, r.Path())
		}
	}
	return all
}

// BuildVersion returns the build version load command, or nil if no build version exists.
func (img *Image) BuildVersion() *BuildVersion {
	for _, l := range img.loads {
		if b, ok := l.(*BuildVersion); ok {
			return b
		}
	}
	return nil
}

// SourceVersion returns the source version load command, or nil if no source version exists.
func (img *Image) SourceVersion() *SourceVersion {
	for _, l := range img.loads {
		if s, ok := l.(*SourceVersion); ok {
			return s
		}
	}
	return nil
}

// EntryPoint returns the LC_MAIN command, or nil.
func (img *Image) EntryPoint() *EntryPoint {
	for _, l := range img.loads {
		if e, ok := l.(*EntryPoint); ok {
			return e
		}
	}
	return nil
}

// EntryAddress returns the virtual address execution starts at, taken from
// LC_MAIN or else from the program counter of LC_UNIXTHREAD.
func (img *Image) EntryAddress() (uint64, error) {
	if ep := img.EntryPoint(); ep != nil {
		return img.GetBaseAddress() + ep.EntryOffset(), nil
	}
	for _, l := range img.loads {
		if t, ok := l.(*Thread); ok && t.Command() == types.LC_UNIXTHREAD {
			if pc, ok := t.EntryPoint(); ok {
				return pc, nil
			}
		}
	}
	return 0, fmt.Errorf("image does not contain LC_MAIN or a usable LC_UNIXTHREAD")
}

// DyldInfo returns the dyld info load command, or nil if no dyld info exists.
func (img *Image) DyldInfo() *DyldInfo {
	for _, l := range img.loads {
		if d, ok := l.(*DyldInfo); ok {
			return d
		}
	}
	return nil
}

// FileSets returns the LC_FILESET_ENTRY commands.
func (img *Image) FileSets() []*FilesetEntry {
	var all []*FilesetEntry
	for _, l := range img.loads {
		if f, ok := l.(*FilesetEntry); ok {
			all = append(all, f)
		}
	}
	return all
}

// Malformed returns the commands whose bodies could not be decoded.
func (img *Image) Malformed() []*MalformedLoad {
	var all []*MalformedLoad
	for _, l := range img.loads {
		if m, ok := l.(*MalformedLoad); ok {
			all = append(all, m)
		}
	}
	return all
}

func (img *Image) linkEditData(cmd types.LoadCmd) *LinkEditData {
	for _, l := range img.loads {
		if d, ok := l.(*LinkEditData); ok && d.Command() == cmd {
			return d
		}
	}
	return nil
}

// FunctionStarts returns the function starts load command, or nil if none exists.
func (img *Image) FunctionStarts() *LinkEditData {
	return img.linkEditData(types.LC_FUNCTION_STARTS)
}

// DyldExportsTrie returns the dyld export trie load command, or nil if none exists.
func (img *Image) DyldExportsTrie() *LinkEditData {
	return img.linkEditData(types.LC_DYLD_EXPORTS_TRIE)
}

// CodeSignature decodes the embedded signature referenced by LC_CODE_SIGNATURE.
func (img *Image) CodeSignature() (*codesign.CodeSignature, error) {
	cs := img.linkEditData(types.LC_CODE_SIGNATURE)
	if cs == nil {
		return nil, fmt.Errorf("image does not contain LC_CODE_SIGNATURE")
	}
	dat, err := img.readAt(uint64(cs.Offset()), uint64(cs.Size()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read LC_CODE_SIGNATURE")
	}
	return codesign.ParseCodeSignature(dat)
}

// GetFunctions decodes the function starts table. The table is a ULEB128
// delta list from the image base terminated by a zero delta; the last
// function ends where its section does.
func (img *Image) GetFunctions() ([]types.Function, error) {
	img.funcsOnce.Do(func() {
		fs := img.FunctionStarts()
		if fs == nil {
			return
		}
		dat, err := img.readAt(uint64(fs.Offset()), uint64(fs.Size()))
		if err != nil {
			img.funcsErr = errors.Wrap(err, "failed to read LC_FUNCTION_STARTS")
			return
		}
		img.funcs, img.funcsErr = img.parseFunctionStarts(dat)
	})
	return img.funcs, img.funcsErr
}

func (img *Image) parseFunctionStarts(dat []byte) ([]types.Function, error) {
	var funcs []types.Function

	s := stream.New(dat, img.hdr.ByteOrder())
	if s.EOF() {
		return nil, nil
	}
	offset, err := s.Uleb128()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse function starts")
	}
	if offset == 0 {
		return nil, nil
	}
	startVMA := img.GetBaseAddress() + offset

	for !s.EOF() {
		delta, err := s.Uleb128()
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse function starts")
		}
		if delta == 0 {
			break
		}
		funcs = append(funcs, types.Function{StartAddr: startVMA, EndAddr: startVMA + delta})
		startVMA += delta
	}

	// the last function runs to the end of its section
	last := types.Function{StartAddr: startVMA, EndAddr: startVMA}
	if sec := img.FindSectionForVMAddr(startVMA); sec != nil {
		last.EndAddr = sec.Addr() + sec.Size()
	}
	return append(funcs, last), nil
}

// GetFunctionForVMAddr returns the function containing a given virtual address
func (img *Image) GetFunctionForVMAddr(addr uint64) (types.Function, error) {
	funcs, err := img.GetFunctions()
	if err != nil {
		return types.Function{}, err
	}
	for _, f := range funcs {
		if addr >= f.StartAddr && addr < f.EndAddr {
			return f, nil
		}
	}
	return types.Function{}, fmt.Errorf("address %#016x not in any function", addr)
}

func (img *Image) exportTrieData() ([]byte, error) {
	if dxt := img.DyldExportsTrie(); dxt != nil {
		return img.readAt(uint64(dxt.Offset()), uint64(dxt.Size()))
	}
	if di := img.DyldInfo(); di != nil && di.raw.ExportSize > 0 {
		return img.readAt(uint64(di.raw.ExportOff), uint64(di.raw.ExportSize))
	}
	return nil, fmt.Errorf("image does not contain LC_DYLD_EXPORTS_TRIE or LC_DYLD_INFO export info")
}

// DyldExports returns the symbols of the export trie, read from
// LC_DYLD_EXPORTS_TRIE or else from the export info of LC_DYLD_INFO.
func (img *Image) DyldExports() ([]trie.TrieEntry, error) {
	data, err := img.exportTrieData()
	if err != nil {
		return nil, err
	}
	exports, err := trie.ParseTrie(data, img.GetBaseAddress())
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse export trie")
	}
	return exports, nil
}

// FindExport looks a single symbol up in the export trie.
func (img *Image) FindExport(symbol string) (*trie.TrieEntry, error) {
	data, err := img.exportTrieData()
	if err != nil {
		return nil, err
	}
	return trie.LookupTrie(data, symbol, img.GetBaseAddress())
}

// DWARF returns the DWARF debug information of the image.
func (img *Image) DWARF() (*dwarf.Data, error) {
	dwarfSuffix := func(s *Section) string {
		name := s.NameString()
		switch {
		case strings.HasPrefix(name, "__debug_"):
			return name[8:]
		case strings.HasPrefix(name, "__zdebug_"):
			return name[9:]
		case strings.HasPrefix(name, "__apple_"):
			return name[8:]
		default:
			return ""
		}
	}
	sectionData := func(s *Section) ([]byte, error) {
		b, err := img.SectionData(s)
		if err != nil {
			return nil, err
		}
		if len(b) >= 12 && string(b[:4]) == "ZLIB" {
			dlen := binary.BigEndian.Uint64(b[4:12])
			if dlen > maxInflatedSection {
				return nil, errors.Errorf("compressed %s claims %#x bytes", s.NameString(), dlen)
			}
			dbuf := make([]byte, dlen)
			r, err := zlib.NewReader(bytes.NewBuffer(b[12:]))
			if err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(r, dbuf); err != nil {
				return nil, err
			}
			if err := r.Close(); err != nil {
				return nil, err
			}
			b = dbuf
		}
		return b, nil
	}

	// There are many other DWARF sections, but these
	// are the ones the dwarf package uses.
	// Don't bother loading others.
	var dat = map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	sections := img.Sections()
	for _, s := range sections {
		suffix := dwarfSuffix(s)
		if suffix == "" {
			continue
		}
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := sectionData(s)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", s.NameString())
		}
		dat[suffix] = b
	}
	if dat["info"] == nil {
		return nil, ErrNoDWARF
	}

	d, err := dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return nil, err
	}

	// Look for DWARF4 .debug_types sections.
	for i, s := range sections {
		if dwarfSuffix(s) != "types" {
			continue
		}
		b, err := sectionData(s)
		if err != nil {
			return nil, err
		}
		if err := d.AddTypes(fmt.Sprintf("types-%d", i), b); err != nil {
			return nil, err
		}
	}

	return d, nil
}
