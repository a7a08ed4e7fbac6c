// Package codesign reads the embedded signature referenced by LC_CODE_SIGNATURE.
package codesign

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

const blobHeaderSize = 8

// CodeSignature is the decoded embedded signature super blob.
type CodeSignature struct {
	Slots           []types.CsBlobIndex
	CodeDirectories []CodeDirectory
	Entitlements    string
	EntitlementsDER []byte
	CMSSignature    []byte
}

// A Slot is one hash entry of a CodeDirectory.
type Slot struct {
	Index uint32
	Hash  []byte
}

// CodeDirectory is a decoded CodeDirectory blob.
type CodeDirectory struct {
	Header       types.CsCodeDirectory
	ID           string
	TeamID       string
	CDHash       []byte
	CodeLimit    uint64
	ExecSegBase  uint64
	ExecSegLimit uint64
	ExecSegFlags types.ExecSegFlag
	SpecialSlots []Slot
	CodeSlots    []Slot
}

// PageSize returns the size in bytes of the pages hashed by the code slots.
func (cd *CodeDirectory) PageSize() uint64 {
	if cd.Header.PageSize == 0 {
		return 0
	}
	return 1 << cd.Header.PageSize
}

func (cd *CodeDirectory) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CodeDirectory v%x: %s", uint32(cd.Header.Version), cd.ID)
	if len(cd.TeamID) > 0 {
		fmt.Fprintf(&sb, " (team %s)", cd.TeamID)
	}
	fmt.Fprintf(&sb, " hash=%s slots=%d+%d cdhash=%x", cd.Header.HashType, cd.Header.NSpecialSlots, cd.Header.NCodeSlots, cd.CDHash)
	return sb.String()
}

// ParseCodeSignature decodes the LC_CODE_SIGNATURE data. Every blob offset,
// string offset and hash slot is checked against the data it lives in.
func ParseCodeSignature(data []byte) (*CodeSignature, error) {
	s := stream.New(data, binary.BigEndian)

	var sb types.CsSuperBlob
	if err := s.ReadStruct(&sb); err != nil {
		return nil, errors.Wrap(err, "failed to read super blob")
	}
	if sb.Magic != types.CSMAGIC_EMBEDDED_SIGNATURE {
		return nil, errors.Wrapf(stream.ErrInvalid, "unexpected super blob magic %#x", uint32(sb.Magic))
	}
	if int64(sb.Count)*int64(binary.Size(types.CsBlobIndex{})) > int64(s.Remaining()) {
		return nil, errors.Wrapf(stream.ErrInvalid, "blob index of %d entries overruns signature", sb.Count)
	}
	index := make([]types.CsBlobIndex, sb.Count)
	if err := s.ReadStruct(&index); err != nil {
		return nil, errors.Wrap(err, "failed to read blob index")
	}

	cs := &CodeSignature{Slots: index}
	for _, idx := range index {
		blob, err := blobAt(s, idx.Offset)
		if err != nil {
			return nil, errors.Wrapf(err, "%s blob", idx.Type)
		}
		switch {
		case idx.Type == types.CSSLOT_CODEDIRECTORY,
			idx.Type >= types.CSSLOT_ALTERNATE_CODEDIRECTORIES && idx.Type < types.CSSLOT_ALTERNATE_CODEDIRECTORY_LIMIT:
			cd, err := parseCodeDirectory(blob)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse %s", idx.Type)
			}
			cs.CodeDirectories = append(cs.CodeDirectories, *cd)
		case idx.Type == types.CSSLOT_ENTITLEMENTS:
			cs.Entitlements = string(blob[blobHeaderSize:])
		case idx.Type == types.CSSLOT_ENTITLEMENTS_DER:
			cs.EntitlementsDER = blob[blobHeaderSize:]
		case idx.Type == types.CSSLOT_CMS_SIGNATURE:
			cs.CMSSignature = blob[blobHeaderSize:]
		}
	}

	return cs, nil
}

// blobAt returns a private copy of the whole blob whose header is at off.
func blobAt(s *stream.Stream, off uint32) ([]byte, error) {
	r, err := s.At(int64(off))
	if err != nil {
		return nil, err
	}
	var hdr types.CsBlob
	if err := r.ReadStruct(&hdr); err != nil {
		return nil, err
	}
	if hdr.Length < blobHeaderSize {
		return nil, errors.Wrapf(stream.ErrInvalid, "blob length %#x", hdr.Length)
	}
	if r, err = s.At(int64(off)); err != nil {
		return nil, err
	}
	return r.Bytes(int(hdr.Length))
}

func parseCodeDirectory(blob []byte) (*CodeDirectory, error) {
	s := stream.New(blob, binary.BigEndian)

	cd := &CodeDirectory{}
	if err := s.ReadStruct(&cd.Header); err != nil {
		return nil, err
	}
	if cd.Header.Magic != types.CSMAGIC_CODEDIRECTORY {
		return nil, errors.Wrapf(stream.ErrInvalid, "unexpected code directory magic %#x", uint32(cd.Header.Magic))
	}
	cd.CodeLimit = uint64(cd.Header.CodeLimit)

	var teamOffset uint32
	var err error
	if cd.Header.Version >= types.CS_SUPPORTS_SCATTER {
		// scatter vector offset
		if err := s.Skip(4); err != nil {
			return nil, err
		}
	}
	if cd.Header.Version >= types.CS_SUPPORTS_TEAMID {
		if teamOffset, err = s.Uint32(); err != nil {
			return nil, err
		}
	}
	if cd.Header.Version >= types.CS_SUPPORTS_CODELIMIT64 {
		if err := s.Skip(4); err != nil {
			return nil, err
		}
		limit, err := s.Uint64()
		if err != nil {
			return nil, err
		}
		if limit != 0 {
			cd.CodeLimit = limit
		}
	}
	if cd.Header.Version >= types.CS_SUPPORTS_EXECSEG {
		var seg [3]uint64
		for i := range seg {
			if seg[i], err = s.Uint64(); err != nil {
				return nil, err
			}
		}
		cd.ExecSegBase, cd.ExecSegLimit, cd.ExecSegFlags = seg[0], seg[1], types.ExecSegFlag(seg[2])
	}

	if cd.ID, err = cstringAt(s, cd.Header.IdentOffset); err != nil {
		return nil, errors.Wrap(err, "failed to read identifier")
	}
	if teamOffset != 0 {
		if cd.TeamID, err = cstringAt(s, teamOffset); err != nil {
			return nil, errors.Wrap(err, "failed to read team id")
		}
	}

	if err := cd.readSlots(s); err != nil {
		return nil, err
	}

	if h := newHash(cd.Header.HashType); h != nil {
		h.Write(blob)
		cd.CDHash = h.Sum(nil)[:types.CS_CDHASH_LEN]
	}

	return cd, nil
}

// readSlots reads the special slots, stored in reverse before HashOffset,
// and the code slots that follow it.
func (cd *CodeDirectory) readSlots(s *stream.Stream) error {
	size := uint64(cd.Header.HashSize)
	special := uint64(cd.Header.NSpecialSlots) * size
	if special > uint64(cd.Header.HashOffset) {
		return errors.Wrapf(stream.ErrInvalid, "%d special slots before hash offset %#x", cd.Header.NSpecialSlots, cd.Header.HashOffset)
	}
	if uint64(cd.Header.HashOffset)+uint64(cd.Header.NCodeSlots)*size > uint64(s.Len()) {
		return errors.Wrapf(stream.ErrInvalid, "%d code slots overrun code directory", cd.Header.NCodeSlots)
	}
	r, err := s.At(int64(uint64(cd.Header.HashOffset) - special))
	if err != nil {
		return err
	}
	for slot := cd.Header.NSpecialSlots; slot > 0; slot-- {
		sum, err := r.Bytes(int(size))
		if err != nil {
			return errors.Wrapf(err, "special slot %d", slot)
		}
		cd.SpecialSlots = append(cd.SpecialSlots, Slot{Index: slot, Hash: sum})
	}
	for slot := uint32(0); slot < cd.Header.NCodeSlots; slot++ {
		sum, err := r.Bytes(int(size))
		if err != nil {
			return errors.Wrapf(err, "code slot %d", slot)
		}
		cd.CodeSlots = append(cd.CodeSlots, Slot{Index: slot, Hash: sum})
	}
	return nil
}

func cstringAt(s *stream.Stream, off uint32) (string, error) {
	r, err := s.At(int64(off))
	if err != nil {
		return "", err
	}
	return r.CString()
}

func newHash(t types.CsHashType) hash.Hash {
	switch t {
	case types.CS_HASHTYPE_SHA1:
		return sha1.New()
	case types.CS_HASHTYPE_SHA256, types.CS_HASHTYPE_SHA256_TRUNCATED:
		return sha256.New()
	case types.CS_HASHTYPE_SHA384:
		return sha512.New384()
	default:
		return nil
	}
}
