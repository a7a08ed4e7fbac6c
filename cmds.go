package macho

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

var (
	ErrCommandSize    = errors.New("invalid load command size")
	ErrCommandOverrun = errors.New("load command overruns command area")
	ErrCommandType    = errors.New("unexpected load command type")
)

// A Load represents any decoded Mach-O load command.
type Load interface {
	Command() types.LoadCmd
	CommandSize() uint32
	String() string
}

// A loadReader is a Load that can decode itself from a stream positioned at
// the start of its command.
type loadReader interface {
	Load
	Read(h *Header, s *stream.Stream) error
}

// loadPrefix is the type+size pair that starts every load command.
type loadPrefix struct {
	cmd  types.LoadCmd
	size uint32
}

func (p loadPrefix) Command() types.LoadCmd { return p.cmd }
func (p loadPrefix) CommandSize() uint32    { return p.size }

// fail marks the outer stream after a command body could not be decoded.
func (p loadPrefix) fail(s *stream.Stream, err error) error {
	return s.Fail(errors.Wrapf(err, "failed to decode %s (cmdsize %#x)", p.cmd, p.size))
}

// finish moves the outer stream past the whole command.
func (p loadPrefix) finish(s *stream.Stream) error {
	return s.Skip(int(p.size))
}

// peekPrefix reads the command prefix at the cursor without consuming it and
// checks it against the stream bounds.
func peekPrefix(s *stream.Stream) (loadPrefix, error) {
	var b [types.LoadCmdPrefixSize]byte
	if err := s.Peek(b[:]); err != nil {
		return loadPrefix{}, errors.Wrap(err, "failed to read load command prefix")
	}
	bo := s.ByteOrder()
	p := loadPrefix{cmd: types.LoadCmd(bo.Uint32(b[0:4])), size: bo.Uint32(b[4:8])}
	if p.size < types.LoadCmdPrefixSize {
		return p, s.Fail(errors.Wrapf(ErrCommandSize, "%s cmdsize %d", p.cmd, p.size))
	}
	if int64(p.size) > int64(s.Remaining()) {
		return p, s.Fail(errors.Wrapf(ErrCommandOverrun, "%s cmdsize %#x at %#x, %#x bytes left", p.cmd, p.size, s.Offset(), s.Remaining()))
	}
	return p, nil
}

// beginLoad validates the command at the cursor and returns a view bounded to
// it. The outer cursor is not moved.
func beginLoad(s *stream.Stream, accept ...types.LoadCmd) (loadPrefix, *stream.Stream, error) {
	if err := precondition(s); err != nil {
		return loadPrefix{}, nil, err
	}
	p, err := peekPrefix(s)
	if err != nil {
		return p, nil, err
	}
	if len(accept) > 0 && !loadInSlice(p.cmd, accept) {
		return p, nil, s.Fail(errors.Wrapf(ErrCommandType, "%s", p.cmd))
	}
	v, err := s.View(int(p.size))
	if err != nil {
		return p, nil, err
	}
	return p, v, nil
}

// decodeFixed decodes the fixed-size part of a command into raw.
func decodeFixed(s *stream.Stream, raw interface{}, accept ...types.LoadCmd) (loadPrefix, *stream.Stream, error) {
	p, v, err := beginLoad(s, accept...)
	if err != nil {
		return p, nil, err
	}
	if err := v.ReadStruct(raw); err != nil {
		return p, nil, p.fail(s, err)
	}
	return p, v, nil
}

// lcString resolves an lc_str offset inside the command view v. The string
// must start after the fixed part and be terminated inside the command.
func lcString(v *stream.Stream, fixed int, off uint32) (string, error) {
	if int64(off) < int64(fixed) || int64(off) >= int64(v.Len()) {
		return "", v.Failf("string offset %#x outside [%#x, %#x)", off, fixed, v.Len())
	}
	r, err := v.At(v.Start() + int64(off))
	if err != nil {
		return "", err
	}
	return r.CString()
}

func loadInSlice(c types.LoadCmd, list []types.LoadCmd) bool {
	for _, b := range list {
		if b == c {
			return true
		}
	}
	return false
}

/*******************************************************************************
 * LC_SYMTAB
 *******************************************************************************/

// A Symtab represents a Mach-O LC_SYMTAB command.
type Symtab struct {
	loadPrefix
	raw types.SymtabCmd
}

func (l *Symtab) Read(h *Header, s *stream.Stream) error {
	var raw types.SymtabCmd
	p, _, err := decodeFixed(s, &raw, types.LC_SYMTAB)
	if err != nil {
		return err
	}
	*l = Symtab{loadPrefix: p, raw: raw}
	return p.finish(s)
}

func (l *Symtab) Symoff() uint32  { return l.raw.Symoff }
func (l *Symtab) Nsyms() uint32   { return l.raw.Nsyms }
func (l *Symtab) Stroff() uint32  { return l.raw.Stroff }
func (l *Symtab) Strsize() uint32 { return l.raw.Strsize }

func (l *Symtab) String() string {
	return fmt.Sprintf("Symbol offset=0x%08X, Num Syms: %d, String offset=0x%08X-0x%08X",
		l.raw.Symoff, l.raw.Nsyms, l.raw.Stroff, l.raw.Stroff+l.raw.Strsize)
}

/*******************************************************************************
 * LC_DYSYMTAB
 *******************************************************************************/

// A Dysymtab represents a Mach-O LC_DYSYMTAB command.
type Dysymtab struct {
	loadPrefix
	raw types.DysymtabCmd
}

func (l *Dysymtab) Read(h *Header, s *stream.Stream) error {
	var raw types.DysymtabCmd
	p, _, err := decodeFixed(s, &raw, types.LC_DYSYMTAB)
	if err != nil {
		return err
	}
	*l = Dysymtab{loadPrefix: p, raw: raw}
	return p.finish(s)
}

// DysymtabCmd returns a copy of the decoded command.
func (l *Dysymtab) DysymtabCmd() types.DysymtabCmd { return l.raw }

func (l *Dysymtab) String() string {
	return fmt.Sprintf("%d Local Syms, %d External Syms, %d Undefined Syms, %d Indirect Syms",
		l.raw.Nlocalsym, l.raw.Nextdefsym, l.raw.Nundefsym, l.raw.Nindirectsyms)
}

/*******************************************************************************
 * LC_LOAD_DYLIB, LC_ID_DYLIB and friends
 *******************************************************************************/

var dylibCmds = []types.LoadCmd{
	types.LC_LOAD_DYLIB,
	types.LC_ID_DYLIB,
	types.LC_LOAD_WEAK_DYLIB,
	types.LC_REEXPORT_DYLIB,
	types.LC_LAZY_LOAD_DYLIB,
	types.LC_LOAD_UPWARD_DYLIB,
}

// A Dylib represents a Mach-O dynamic library command. The command type
// tells an id apart from weak, re-exported, lazy and upward imports.
type Dylib struct {
	loadPrefix
	name    string
	time    uint32
	current types.Version
	compat  types.Version
}

func (l *Dylib) Read(h *Header, s *stream.Stream) error {
	var raw types.DylibCmd
	p, v, err := decodeFixed(s, &raw, dylibCmds...)
	if err != nil {
		return err
	}
	name, err := lcString(v, binary.Size(raw), raw.Name)
	if err != nil {
		return p.fail(s, err)
	}
	*l = Dylib{loadPrefix: p, name: name, time: raw.Time, current: raw.CurrentVersion, compat: raw.CompatVersion}
	return p.finish(s)
}

func (l *Dylib) Name() string                  { return l.name }
func (l *Dylib) Time() uint32                  { return l.time }
func (l *Dylib) CurrentVersion() types.Version { return l.current }
func (l *Dylib) CompatVersion() types.Version  { return l.compat }

// IsID reports whether the command identifies the image itself.
func (l *Dylib) IsID() bool { return l.cmd == types.LC_ID_DYLIB }

func (l *Dylib) String() string {
	return fmt.Sprintf("%s (%s)", l.name, l.current)
}

/*******************************************************************************
 * LC_LOAD_DYLINKER, LC_ID_DYLINKER, LC_DYLD_ENVIRONMENT
 *******************************************************************************/

// A Dylinker represents a Mach-O command that carries a single path: the
// dynamic linker to load or identify, or a dyld environment variable.
type Dylinker struct {
	loadPrefix
	name string
}

func (l *Dylinker) Read(h *Header, s *stream.Stream) error {
	var raw types.DylinkerCmd
	p, v, err := decodeFixed(s, &raw, types.LC_LOAD_DYLINKER, types.LC_ID_DYLINKER, types.LC_DYLD_ENVIRONMENT)
	if err != nil {
		return err
	}
	name, err := lcString(v, binary.Size(raw), raw.Name)
	if err != nil {
		return p.fail(s, err)
	}
	*l = Dylinker{loadPrefix: p, name: name}
	return p.finish(s)
}

func (l *Dylinker) Name() string   { return l.name }
func (l *Dylinker) String() string { return l.name }

/*******************************************************************************
 * LC_SUB_FRAMEWORK, LC_SUB_UMBRELLA, LC_SUB_CLIENT, LC_SUB_LIBRARY
 *******************************************************************************/

// A SubLink represents one of the umbrella/sub-library linking commands.
type SubLink struct {
	loadPrefix
	name string
}

func (l *SubLink) Read(h *Header, s *stream.Stream) error {
	var raw types.SubCmd
	p, v, err := decodeFixed(s, &raw, types.LC_SUB_FRAMEWORK, types.LC_SUB_UMBRELLA, types.LC_SUB_CLIENT, types.LC_SUB_LIBRARY)
	if err != nil {
		return err
	}
	name, err := lcString(v, binary.Size(raw), raw.Name)
	if err != nil {
		return p.fail(s, err)
	}
	*l = SubLink{loadPrefix: p, name: name}
	return p.finish(s)
}

func (l *SubLink) Name() string   { return l.name }
func (l *SubLink) String() string { return l.name }

/*******************************************************************************
 * LC_RPATH
 *******************************************************************************/

// A Rpath represents a Mach-O LC_RPATH command.
type Rpath struct {
	loadPrefix
	path string
}

func (l *Rpath) Read(h *Header, s *stream.Stream) error {
	var raw types.RpathCmd
	p, v, err := decodeFixed(s, &raw, types.LC_RPATH)
	if err != nil {
		return err
	}
	path, err := lcString(v, binary.Size(raw), raw.Path)
	if err != nil {
		return p.fail(s, err)
	}
	*l = Rpath{loadPrefix: p, path: path}
	return p.finish(s)
}

func (l *Rpath) Path() string   { return l.path }
func (l *Rpath) String() string { return l.path }

/*******************************************************************************
 * LC_UUID
 *******************************************************************************/

// A UUID represents a Mach-O uuid load command.
type UUID struct {
	loadPrefix
	id types.UUID
}

func (l *UUID) Read(h *Header, s *stream.Stream) error {
	var raw types.UUIDCmd
	p, _, err := decodeFixed(s, &raw, types.LC_UUID)
	if err != nil {
		return err
	}
	*l = UUID{loadPrefix: p, id: raw.UUID}
	return p.finish(s)
}

func (l *UUID) ID() types.UUID { return l.id }
func (l *UUID) String() string { return l.id.String() }

/*******************************************************************************
 * linkedit_data_command
 *******************************************************************************/

var linkEditDataCmds = []types.LoadCmd{
	types.LC_CODE_SIGNATURE,
	types.LC_SEGMENT_SPLIT_INFO,
	types.LC_FUNCTION_STARTS,
	types.LC_DATA_IN_CODE,
	types.LC_DYLIB_CODE_SIGN_DRS,
	types.LC_LINKER_OPTIMIZATION_HINT,
	types.LC_DYLD_EXPORTS_TRIE,
	types.LC_DYLD_CHAINED_FIXUPS,
}

// A LinkEditData points at a blob inside __LINKEDIT, e.g. the function
// starts table or the exports trie.
type LinkEditData struct {
	loadPrefix
	offset uint32
	size   uint32
}

func (l *LinkEditData) Read(h *Header, s *stream.Stream) error {
	var raw types.LinkEditDataCmd
	p, _, err := decodeFixed(s, &raw, linkEditDataCmds...)
	if err != nil {
		return err
	}
	*l = LinkEditData{loadPrefix: p, offset: raw.Offset, size: raw.Size}
	return p.finish(s)
}

func (l *LinkEditData) Offset() uint32 { return l.offset }
func (l *LinkEditData) Size() uint32   { return l.size }

func (l *LinkEditData) String() string {
	return fmt.Sprintf("offset=0x%08x-0x%08x size=%5d", l.offset, l.offset+l.size, l.size)
}

/*******************************************************************************
 * LC_DYLD_INFO, LC_DYLD_INFO_ONLY
 *******************************************************************************/

// A DyldInfo represents a Mach-O LC_DYLD_INFO or LC_DYLD_INFO_ONLY command.
type DyldInfo struct {
	loadPrefix
	raw types.DyldInfoCmd
}

func (l *DyldInfo) Read(h *Header, s *stream.Stream) error {
	var raw types.DyldInfoCmd
	p, _, err := decodeFixed(s, &raw, types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY)
	if err != nil {
		return err
	}
	*l = DyldInfo{loadPrefix: p, raw: raw}
	return p.finish(s)
}

// DyldInfoCmd returns a copy of the decoded command.
func (l *DyldInfo) DyldInfoCmd() types.DyldInfoCmd { return l.raw }

func (l *DyldInfo) String() string {
	d := l.raw
	return fmt.Sprintf(
		"\n"+
			"\t\tRebase info: %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tBind info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tWeak info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tLazy info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tExport info: %5d bytes at offset:  0x%08X -> 0x%08X",
		d.RebaseSize, d.RebaseOff, d.RebaseOff+d.RebaseSize,
		d.BindSize, d.BindOff, d.BindOff+d.BindSize,
		d.WeakBindSize, d.WeakBindOff, d.WeakBindOff+d.WeakBindSize,
		d.LazyBindSize, d.LazyBindOff, d.LazyBindOff+d.LazyBindSize,
		d.ExportSize, d.ExportOff, d.ExportOff+d.ExportSize,
	)
}

/*******************************************************************************
 * LC_ENCRYPTION_INFO, LC_ENCRYPTION_INFO_64
 *******************************************************************************/

// An EncryptionInfo represents a Mach-O encrypted segment information
// command. The 64-bit form carries a trailing pad word.
type EncryptionInfo struct {
	loadPrefix
	offset  uint32
	size    uint32
	cryptID types.EncryptionSystem
}

func (l *EncryptionInfo) Read(h *Header, s *stream.Stream) error {
	var raw types.EncryptionInfoCmd
	p, v, err := decodeFixed(s, &raw, types.LC_ENCRYPTION_INFO, types.LC_ENCRYPTION_INFO_64)
	if err != nil {
		return err
	}
	if p.cmd == types.LC_ENCRYPTION_INFO_64 {
		if _, err := v.Uint32(); err != nil {
			return p.fail(s, errors.Wrap(err, "missing pad"))
		}
	}
	*l = EncryptionInfo{loadPrefix: p, offset: raw.Offset, size: raw.Size, cryptID: raw.CryptID}
	return p.finish(s)
}

func (l *EncryptionInfo) Offset() uint32                  { return l.offset }
func (l *EncryptionInfo) Size() uint32                    { return l.size }
func (l *EncryptionInfo) CryptID() types.EncryptionSystem { return l.cryptID }

func (l *EncryptionInfo) String() string {
	if l.cryptID == types.NOT_ENCRYPTED_YET {
		return fmt.Sprintf("offset=%#x size=%#x (not-encrypted yet)", l.offset, l.size)
	}
	return fmt.Sprintf("offset=%#x size=%#x cryptid=%#x", l.offset, l.size, l.cryptID)
}

/*******************************************************************************
 * LC_VERSION_MIN_*
 *******************************************************************************/

// A VersionMin represents one of the LC_VERSION_MIN_* commands.
type VersionMin struct {
	loadPrefix
	version types.Version
	sdk     types.Version
}

func (l *VersionMin) Read(h *Header, s *stream.Stream) error {
	var raw types.VersionMinCmd
	p, _, err := decodeFixed(s, &raw,
		types.LC_VERSION_MIN_MACOSX, types.LC_VERSION_MIN_IPHONEOS,
		types.LC_VERSION_MIN_TVOS, types.LC_VERSION_MIN_WATCHOS)
	if err != nil {
		return err
	}
	*l = VersionMin{loadPrefix: p, version: raw.Version, sdk: raw.Sdk}
	return p.finish(s)
}

func (l *VersionMin) Version() types.Version { return l.version }
func (l *VersionMin) SDK() types.Version     { return l.sdk }

// Platform maps the command type to the platform it targets.
func (l *VersionMin) Platform() types.Platform {
	switch l.cmd {
	case types.LC_VERSION_MIN_MACOSX:
		return types.PlatformMacOS
	case types.LC_VERSION_MIN_IPHONEOS:
		return types.PlatformIOS
	case types.LC_VERSION_MIN_TVOS:
		return types.PlatformTvOS
	case types.LC_VERSION_MIN_WATCHOS:
		return types.PlatformWatchOS
	}
	return types.PlatformUnknown
}

func (l *VersionMin) String() string {
	return fmt.Sprintf("Version=%s, SDK=%s", l.version, l.sdk)
}

/*******************************************************************************
 * LC_BUILD_VERSION
 *******************************************************************************/

// A BuildVersion represents a Mach-O build for platform min OS version command.
type BuildVersion struct {
	loadPrefix
	platform types.Platform
	minos    types.Version
	sdk      types.Version
	tools    []types.BuildToolVersion
}

func (l *BuildVersion) Read(h *Header, s *stream.Stream) error {
	var raw types.BuildVersionCmd
	p, v, err := decodeFixed(s, &raw, types.LC_BUILD_VERSION)
	if err != nil {
		return err
	}
	// each tool entry is 8 bytes; reject counts the command cannot hold
	if uint64(raw.NumTools)*8 > uint64(v.Remaining()) {
		return p.fail(s, v.Failf("%d tools do not fit in %d bytes", raw.NumTools, v.Remaining()))
	}
	tools := make([]types.BuildToolVersion, raw.NumTools)
	for i := range tools {
		if err := v.ReadStruct(&tools[i]); err != nil {
			return p.fail(s, err)
		}
	}
	*l = BuildVersion{loadPrefix: p, platform: raw.Platform, minos: raw.Minos, sdk: raw.Sdk, tools: tools}
	return p.finish(s)
}

func (l *BuildVersion) Platform() types.Platform { return l.platform }
func (l *BuildVersion) MinOS() types.Version     { return l.minos }
func (l *BuildVersion) SDK() types.Version       { return l.sdk }

// Tools returns a copy of the tool entries.
func (l *BuildVersion) Tools() []types.BuildToolVersion {
	return append([]types.BuildToolVersion(nil), l.tools...)
}

func (l *BuildVersion) String() string {
	var tools []string
	for _, t := range l.tools {
		tools = append(tools, t.String())
	}
	s := fmt.Sprintf("Platform: %s, SDK: %s, MinOS: %s", l.platform, l.sdk, l.minos)
	if len(tools) > 0 {
		s += ", Tools: " + strings.Join(tools, ", ")
	}
	return s
}

/*******************************************************************************
 * LC_SOURCE_VERSION
 *******************************************************************************/

// A SourceVersion represents a Mach-O LC_SOURCE_VERSION command.
type SourceVersion struct {
	loadPrefix
	version types.SrcVersion
}

func (l *SourceVersion) Read(h *Header, s *stream.Stream) error {
	var raw types.SourceVersionCmd
	p, _, err := decodeFixed(s, &raw, types.LC_SOURCE_VERSION)
	if err != nil {
		return err
	}
	*l = SourceVersion{loadPrefix: p, version: raw.Version}
	return p.finish(s)
}

func (l *SourceVersion) Version() types.SrcVersion { return l.version }
func (l *SourceVersion) String() string            { return l.version.String() }

/*******************************************************************************
 * LC_MAIN
 *******************************************************************************/

// An EntryPoint represents a Mach-O LC_MAIN command.
type EntryPoint struct {
	loadPrefix
	offset    uint64
	stackSize uint64
}

func (l *EntryPoint) Read(h *Header, s *stream.Stream) error {
	var raw types.EntryPointCmd
	p, _, err := decodeFixed(s, &raw, types.LC_MAIN)
	if err != nil {
		return err
	}
	*l = EntryPoint{loadPrefix: p, offset: raw.Offset, stackSize: raw.StackSize}
	return p.finish(s)
}

// EntryOffset is the __TEXT offset of main().
func (l *EntryPoint) EntryOffset() uint64 { return l.offset }
func (l *EntryPoint) StackSize() uint64   { return l.stackSize }

func (l *EntryPoint) String() string {
	return fmt.Sprintf("Entry Point: 0x%016x, Stack Size: %#x", l.offset, l.stackSize)
}

/*******************************************************************************
 * LC_ROUTINES, LC_ROUTINES_64
 *******************************************************************************/

// A Routines represents a Mach-O image routines command. Like a segment its
// address fields follow the image's address width.
type Routines struct {
	loadPrefix
	initAddress uint64
	initModule  uint64
}

func (l *Routines) Read(h *Header, s *stream.Stream) error {
	p, v, err := beginLoad(s, types.LC_ROUTINES, types.LC_ROUTINES_64)
	if err != nil {
		return err
	}
	var out Routines
	switch h.Width() {
	case types.Width64:
		var raw types.Routines64Cmd
		if err := v.ReadStruct(&raw); err != nil {
			return p.fail(s, err)
		}
		out = Routines{loadPrefix: p, initAddress: raw.InitAddress, initModule: raw.InitModule}
	case types.Width32:
		var raw types.RoutinesCmd
		if err := v.ReadStruct(&raw); err != nil {
			return p.fail(s, err)
		}
		out = Routines{loadPrefix: p, initAddress: uint64(raw.InitAddress), initModule: uint64(raw.InitModule)}
	default:
		return p.fail(s, errors.Wrapf(ErrUnknownWidth, "%d", h.Width()))
	}
	*l = out
	return p.finish(s)
}

func (l *Routines) InitAddress() uint64 { return l.initAddress }
func (l *Routines) InitModule() uint64  { return l.initModule }

func (l *Routines) String() string {
	return fmt.Sprintf("Address: %#x, Module: %d", l.initAddress, l.initModule)
}

/*******************************************************************************
 * LC_FILESET_ENTRY
 *******************************************************************************/

// A FilesetEntry describes a constituent Mach-O file of a fileset.
type FilesetEntry struct {
	loadPrefix
	entryID string
	addr    uint64
	offset  uint64
}

func (l *FilesetEntry) Read(h *Header, s *stream.Stream) error {
	var raw types.FilesetEntryCmd
	p, v, err := decodeFixed(s, &raw, types.LC_FILESET_ENTRY)
	if err != nil {
		return err
	}
	id, err := lcString(v, binary.Size(raw), raw.EntryID)
	if err != nil {
		return p.fail(s, err)
	}
	*l = FilesetEntry{loadPrefix: p, entryID: id, addr: raw.Addr, offset: raw.Offset}
	return p.finish(s)
}

func (l *FilesetEntry) EntryID() string    { return l.entryID }
func (l *FilesetEntry) VMAddress() uint64  { return l.addr }
func (l *FilesetEntry) FileOffset() uint64 { return l.offset }

func (l *FilesetEntry) String() string {
	return fmt.Sprintf("offset=0x%09x addr=0x%016x %s", l.offset, l.addr, l.entryID)
}

/*******************************************************************************
 * LC_NOTE
 *******************************************************************************/

// A Note represents a Mach-O LC_NOTE command.
type Note struct {
	loadPrefix
	owner  [16]byte
	offset uint64
	size   uint64
}

func (l *Note) Read(h *Header, s *stream.Stream) error {
	var raw types.NoteCmd
	p, _, err := decodeFixed(s, &raw, types.LC_NOTE)
	if err != nil {
		return err
	}
	*l = Note{loadPrefix: p, owner: raw.DataOwner, offset: raw.Offset, size: raw.Size}
	return p.finish(s)
}

func (l *Note) DataOwner() [16]byte { return l.owner }
func (l *Note) Offset() uint64      { return l.offset }
func (l *Note) Size() uint64        { return l.size }

func (l *Note) String() string {
	return fmt.Sprintf("DataOwner=%s, offset=0x%08x-0x%08x size=%5d", cstring(l.owner[:]), l.offset, l.offset+l.size, l.size)
}

/*******************************************************************************
 * Unknown and malformed commands
 *******************************************************************************/

// An UnknownLoad is a command this package does not decode. Its bytes are
// kept verbatim.
type UnknownLoad struct {
	loadPrefix
	raw []byte
}

func (l *UnknownLoad) Read(h *Header, s *stream.Stream) error {
	p, v, err := beginLoad(s)
	if err != nil {
		return err
	}
	raw, err := v.Bytes(int(p.size))
	if err != nil {
		return p.fail(s, err)
	}
	*l = UnknownLoad{loadPrefix: p, raw: raw}
	return p.finish(s)
}

// Raw returns a copy of the whole command, prefix included.
func (l *UnknownLoad) Raw() []byte { return append([]byte(nil), l.raw...) }

func (l *UnknownLoad) String() string {
	s := "["
	for i, a := range l.raw {
		if i > 0 {
			s += " "
			if len(l.raw) > 48 && i >= 16 {
				s += fmt.Sprintf("... (%d bytes)", len(l.raw))
				break
			}
		}
		s += fmt.Sprintf("%x", a)
	}
	return s + "]"
}

// A MalformedLoad stands in for a known command whose body failed to decode.
type MalformedLoad struct {
	loadPrefix
	offset int64
	err    error
}

// Offset is where the command starts in the decoded stream.
func (l *MalformedLoad) Offset() int64 { return l.offset }
func (l *MalformedLoad) Err() error    { return l.err }
func (l *MalformedLoad) Unwrap() error { return l.err }

func (l *MalformedLoad) String() string {
	return fmt.Sprintf("malformed (cmdsize %#x): %v", l.size, l.err)
}
