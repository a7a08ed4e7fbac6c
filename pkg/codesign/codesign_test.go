package codesign

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"testing"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

const entitlements = `<?xml version="1.0"?><plist><dict/></plist>`

func be32(b *bytes.Buffer, vals ...uint32) {
	for _, v := range vals {
		binary.Write(b, binary.BigEndian, v)
	}
}

// codeDirectory builds a version 0x20200 SHA-1 directory with one special
// slot and two code slots.
func codeDirectory() []byte {
	const (
		identOff = 52
		teamOff  = identOff + len("com.example.test\x00")
		hashOff  = teamOff + len("TEAMID\x00") + 20
		length   = hashOff + 2*20
	)
	var b bytes.Buffer
	be32(&b, uint32(types.CSMAGIC_CODEDIRECTORY), uint32(length), uint32(types.CS_SUPPORTS_TEAMID), uint32(types.CS_ADHOC),
		uint32(hashOff), uint32(identOff), 1, 2, 0x2000)
	b.Write([]byte{20, byte(types.CS_HASHTYPE_SHA1), 0, 12})
	be32(&b, 0) // spare2
	be32(&b, 0) // scatter
	be32(&b, uint32(teamOff))
	b.WriteString("com.example.test\x00")
	b.WriteString("TEAMID\x00")
	b.Write(bytes.Repeat([]byte{0xaa}, 20))
	b.Write(bytes.Repeat([]byte{0x01}, 20))
	b.Write(bytes.Repeat([]byte{0x02}, 20))
	return b.Bytes()
}

func superBlob(blobs map[types.CsSlotType][]byte, order ...types.CsSlotType) []byte {
	hdr := 12 + 8*len(order)
	var body bytes.Buffer
	var index bytes.Buffer
	for _, slot := range order {
		be32(&index, uint32(slot), uint32(hdr+body.Len()))
		body.Write(blobs[slot])
	}
	var b bytes.Buffer
	be32(&b, uint32(types.CSMAGIC_EMBEDDED_SIGNATURE), uint32(hdr+body.Len()), uint32(len(order)))
	b.Write(index.Bytes())
	b.Write(body.Bytes())
	return b.Bytes()
}

func entitlementsBlob() []byte {
	var b bytes.Buffer
	be32(&b, uint32(types.CSMAGIC_EMBEDDED_ENTITLEMENTS), uint32(8+len(entitlements)))
	b.WriteString(entitlements)
	return b.Bytes()
}

func TestParseCodeSignature(t *testing.T) {
	cd := codeDirectory()
	data := superBlob(map[types.CsSlotType][]byte{
		types.CSSLOT_CODEDIRECTORY: cd,
		types.CSSLOT_ENTITLEMENTS:  entitlementsBlob(),
	}, types.CSSLOT_CODEDIRECTORY, types.CSSLOT_ENTITLEMENTS)

	cs, err := ParseCodeSignature(data)
	if err != nil {
		t.Fatalf("ParseCodeSignature() error = %v", err)
	}
	if cs.Entitlements != entitlements {
		t.Errorf("Entitlements = %q; want %q", cs.Entitlements, entitlements)
	}
	if len(cs.CodeDirectories) != 1 {
		t.Fatalf("got %d code directories; want 1", len(cs.CodeDirectories))
	}
	got := cs.CodeDirectories[0]
	if got.ID != "com.example.test" || got.TeamID != "TEAMID" {
		t.Errorf("ID, TeamID = %q, %q", got.ID, got.TeamID)
	}
	if got.PageSize() != 0x1000 || got.CodeLimit != 0x2000 {
		t.Errorf("PageSize, CodeLimit = %#x, %#x", got.PageSize(), got.CodeLimit)
	}
	sum := sha1.Sum(cd)
	if !bytes.Equal(got.CDHash, sum[:]) {
		t.Errorf("CDHash = %x; want %x", got.CDHash, sum)
	}
	wantSlots := []Slot{
		{Index: 0, Hash: bytes.Repeat([]byte{0x01}, 20)},
		{Index: 1, Hash: bytes.Repeat([]byte{0x02}, 20)},
	}
	if diff := cmp.Diff(wantSlots, got.CodeSlots); diff != "" {
		t.Errorf("CodeSlots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Slot{{Index: 1, Hash: bytes.Repeat([]byte{0xaa}, 20)}}, got.SpecialSlots); diff != "" {
		t.Errorf("SpecialSlots mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCodeSignatureMalformed(t *testing.T) {
	good := superBlob(map[types.CsSlotType][]byte{types.CSSLOT_CODEDIRECTORY: codeDirectory()}, types.CSSLOT_CODEDIRECTORY)

	badMagic := append([]byte(nil), good...)
	badMagic[3] = 0

	hugeCount := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(hugeCount[8:], 0xffffffff)

	blobOutside := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(blobOutside[16:], uint32(len(good)+1))

	// identifier offset pointing past the directory
	badIdent := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(badIdent[20+20:], 0x1000)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", good[:10], stream.ErrEOF},
		{"magic", badMagic, stream.ErrInvalid},
		{"index count", hugeCount, stream.ErrInvalid},
		{"blob outside", blobOutside, stream.ErrEOF},
		{"blob truncated", good[:len(good)-1], stream.ErrEOF},
		{"identifier outside", badIdent, stream.ErrEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCodeSignature(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("ParseCodeSignature() error = %v; want %v", err, tt.want)
			}
		})
	}
}
