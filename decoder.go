package macho

import (
	"github.com/apex/log"
	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

type decodeConfig struct {
	filter []types.LoadCmd
	logger log.Interface
}

// A DecodeOption configures DecodeCommands.
type DecodeOption func(*decodeConfig)

// WithLoadFilter restricts decoding to the listed command types. Every other
// command is skipped by its declared size and left out of the result.
func WithLoadFilter(cmds ...types.LoadCmd) DecodeOption {
	return func(c *decodeConfig) {
		c.filter = append(c.filter, cmds...)
	}
}

// WithLogger sets the logger used for skipped and malformed commands.
func WithLogger(l log.Interface) DecodeOption {
	return func(c *decodeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// newLoad selects the decoder for a command type.
func newLoad(cmd types.LoadCmd) loadReader {
	switch cmd {
	case types.LC_SEGMENT, types.LC_SEGMENT_64:
		return new(Segment)
	case types.LC_SYMTAB:
		return new(Symtab)
	case types.LC_THREAD, types.LC_UNIXTHREAD:
		return new(Thread)
	case types.LC_DYSYMTAB:
		return new(Dysymtab)
	case types.LC_LOAD_DYLIB, types.LC_ID_DYLIB, types.LC_LOAD_WEAK_DYLIB,
		types.LC_REEXPORT_DYLIB, types.LC_LAZY_LOAD_DYLIB, types.LC_LOAD_UPWARD_DYLIB:
		return new(Dylib)
	case types.LC_LOAD_DYLINKER, types.LC_ID_DYLINKER, types.LC_DYLD_ENVIRONMENT:
		return new(Dylinker)
	case types.LC_SUB_FRAMEWORK, types.LC_SUB_UMBRELLA, types.LC_SUB_CLIENT, types.LC_SUB_LIBRARY:
		return new(SubLink)
	case types.LC_RPATH:
		return new(Rpath)
	case types.LC_UUID:
		return new(UUID)
	case types.LC_CODE_SIGNATURE, types.LC_SEGMENT_SPLIT_INFO, types.LC_FUNCTION_STARTS,
		types.LC_DATA_IN_CODE, types.LC_DYLIB_CODE_SIGN_DRS, types.LC_LINKER_OPTIMIZATION_HINT,
		types.LC_DYLD_EXPORTS_TRIE, types.LC_DYLD_CHAINED_FIXUPS:
		return new(LinkEditData)
	case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
		return new(DyldInfo)
	case types.LC_ENCRYPTION_INFO, types.LC_ENCRYPTION_INFO_64:
		return new(EncryptionInfo)
	case types.LC_VERSION_MIN_MACOSX, types.LC_VERSION_MIN_IPHONEOS,
		types.LC_VERSION_MIN_TVOS, types.LC_VERSION_MIN_WATCHOS:
		return new(VersionMin)
	case types.LC_BUILD_VERSION:
		return new(BuildVersion)
	case types.LC_SOURCE_VERSION:
		return new(SourceVersion)
	case types.LC_MAIN:
		return new(EntryPoint)
	case types.LC_ROUTINES, types.LC_ROUTINES_64:
		return new(Routines)
	case types.LC_FILESET_ENTRY:
		return new(FilesetEntry)
	case types.LC_NOTE:
		return new(Note)
	default:
		return new(UnknownLoad)
	}
}

// DecodeCommands walks the h.CommandCount() load commands that start at the
// stream's cursor.
//
// Each command is decoded from a view bounded to its declared size, and the
// cursor always advances by that size, so a bad command body never shifts
// the commands after it. A command whose body fails to decode is returned as
// a *MalformedLoad. The walk itself fails when a prefix cannot be read or a
// declared size is smaller than the prefix or overruns the stream or
// h.CommandsSize(); the commands decoded so far are returned with the error.
func DecodeCommands(h *Header, s *stream.Stream, opts ...DecodeOption) ([]Load, error) {
	cfg := decodeConfig{logger: log.Log}
	for _, opt := range opts {
		opt(&cfg)
	}

	// every command takes at least a prefix
	loads := make([]Load, 0, min(int(h.CommandCount()), s.Remaining()/types.LoadCmdPrefixSize))
	start := s.Offset()
	limit := start + int64(h.CommandsSize())

	for i := uint32(0); i < h.CommandCount(); i++ {
		off := s.Offset()
		if err := precondition(s); err != nil {
			return loads, errors.Wrapf(err, "load command %d of %d", i, h.CommandCount())
		}
		p, err := peekPrefix(s)
		if err != nil {
			return loads, errors.Wrapf(err, "load command %d of %d at %#x", i, h.CommandCount(), off)
		}
		if off+int64(p.size) > limit {
			err := s.Fail(errors.Wrapf(ErrCommandOverrun, "%s cmdsize %#x at %#x exceeds sizeofcmds %#x",
				p.cmd, p.size, off-start, h.CommandsSize()))
			return loads, errors.Wrapf(err, "load command %d of %d", i, h.CommandCount())
		}
		view, err := s.View(int(p.size))
		if err != nil {
			return loads, err
		}
		if err := s.Skip(int(p.size)); err != nil {
			return loads, err
		}

		ctx := cfg.logger.WithFields(log.Fields{
			"index":  i,
			"cmd":    p.cmd.String(),
			"offset": off,
			"size":   p.size,
		})

		if len(cfg.filter) > 0 && !loadInSlice(p.cmd, cfg.filter) {
			ctx.Debug("skipping filtered load command")
			continue
		}

		l := newLoad(p.cmd)
		if _, ok := l.(*UnknownLoad); ok {
			ctx.Debug("found unknown load command")
		}
		if err := l.Read(h, view); err != nil {
			ctx.WithError(err).Warn("failed to decode load command")
			loads = append(loads, &MalformedLoad{loadPrefix: p, offset: off, err: err})
			continue
		}
		loads = append(loads, l)
	}

	return loads, nil
}
