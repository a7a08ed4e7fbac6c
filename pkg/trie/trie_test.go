package trie

import (
	"sort"
	"testing"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// exports _main (regular, 0x1000) and _foo (re-exported from ordinal 1 as _bar)
var testTrie = []byte{
	// node 0
	0x00, 0x01, '_', 0x00, 0x05,
	// node 5
	0x00, 0x02,
	'm', 'a', 'i', 'n', 0x00, 0x12,
	'f', 'o', 'o', 0x00, 0x17,
	// node 18: _main
	0x03, 0x00, 0x80, 0x20, 0x00,
	// node 23: _foo
	0x07, 0x08, 0x01, '_', 'b', 'a', 'r', 0x00, 0x00,
}

func TestParseTrie(t *testing.T) {
	got, err := ParseTrie(testTrie, 0x100000000)
	if err != nil {
		t.Fatalf("ParseTrie() error = %v", err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Name < got[j].Name })
	want := []TrieEntry{
		{Name: "_foo", ReExport: "_bar", Flags: exportSymbolFlagsReexport, Other: 1},
		{Name: "_main", Flags: exportSymbolFlagsKindRegular, Address: 0x100001000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseTrie() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrieEmpty(t *testing.T) {
	got, err := ParseTrie(nil, 0)
	if err != nil || got != nil {
		t.Errorf("ParseTrie(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestParseTrieMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"cycle", []byte{0x00, 0x01, '_', 0x00, 0x00}, stream.ErrInvalid},
		{"child outside trie", []byte{0x00, 0x01, '_', 0x00, 0x7f}, stream.ErrInvalid},
		{"unterminated edge", []byte{0x00, 0x01, '_', 'x'}, stream.ErrEOF},
		{"terminal overruns", []byte{0x09, 0x00, 0x01}, stream.ErrEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTrie(tt.data, 0); !errors.Is(err, tt.want) {
				t.Errorf("ParseTrie() error = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestWalkTrie(t *testing.T) {
	off, err := WalkTrie(testTrie, "_main")
	if err != nil {
		t.Fatal(err)
	}
	if off != 19 {
		t.Errorf("WalkTrie(_main) = %d; want 19", off)
	}
	for _, sym := range []string{"_mai", "_mainx", "main", ""} {
		if _, err := WalkTrie(testTrie, sym); !errors.Is(err, ErrSymbolNotFound) {
			t.Errorf("WalkTrie(%q) error = %v; want ErrSymbolNotFound", sym, err)
		}
	}
	if _, err := WalkTrie([]byte{0x00, 0x01, '_', 0x00, 0x00}, "_x"); !errors.Is(err, stream.ErrInvalid) {
		t.Errorf("WalkTrie on a cycle error = %v; want ErrInvalid", err)
	}
}

func TestLookupTrie(t *testing.T) {
	e, err := LookupTrie(testTrie, "_main", 0x4000)
	if err != nil {
		t.Fatal(err)
	}
	if e.Address != 0x5000 || !e.Flags.Regular() {
		t.Errorf("LookupTrie(_main) = %+v; want regular at 0x5000", e)
	}
	e, err = LookupTrie(testTrie, "_foo", 0x4000)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Flags.ReExport() || e.ReExport != "_bar" {
		t.Errorf("LookupTrie(_foo) = %+v; want re-export of _bar", e)
	}
}

func TestExportFlagString(t *testing.T) {
	tests := []struct {
		f    ExportFlag
		want string
	}{
		{exportSymbolFlagsKindRegular, "Regular"},
		{exportSymbolFlagsStubAndResolver, "Regular (Has Resolver Function)"},
		{exportSymbolFlagsWeakDefinition, "Regular (Weak Definition)"},
		{exportSymbolFlagsKindThreadLocal, "Thread Local"},
		{exportSymbolFlagsKindAbsolute, "Absolute"},
		{exportSymbolFlagsReexport, "Regular (Re-export)"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("ExportFlag(%#x).String() = %q; want %q", uint64(tt.f), got, tt.want)
		}
	}
}
