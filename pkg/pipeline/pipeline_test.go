package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/appsworld/dce-macho"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// uuidImage is a 64-bit little-endian Mach-O with a single LC_UUID.
func uuidImage(id byte) []byte {
	var b bytes.Buffer
	w := func(v ...uint32) {
		for _, x := range v {
			binary.Write(&b, binary.LittleEndian, x)
		}
	}
	w(0xfeedfacf, 0x0100000c, 0, 6, 1, 24, 0, 0)
	w(0x1b, 24)
	b.Write(append([]byte{id}, make([]byte, 15)...))
	return b.Bytes()
}

// source lays out two images at 0 and 0x100 followed by junk at 0x200.
func source() *bytes.Reader {
	blob := make([]byte, 0x300)
	copy(blob, uuidImage(0xaa))
	copy(blob[0x100:], uuidImage(0xbb))
	copy(blob[0x200:], bytes.Repeat([]byte{0xee}, 0x100))
	return bytes.NewReader(blob)
}

var regions = []Region{
	{Name: "a", Offset: 0, Size: 0x100},
	{Name: "b", Offset: 0x100, Size: 0x100},
	{Name: "junk", Offset: 0x200, Size: 0x100},
	{Name: "a again", Offset: 0, Size: 0x100},
}

func TestDecodeSkipsBadRegions(t *testing.T) {
	h := memory.New()
	p, err := New(source(), Config{Workers: 2, CacheSize: 8}, WithLogger(&log.Logger{Handler: h, Level: log.DebugLevel}))
	if err != nil {
		t.Fatal(err)
	}
	results, err := p.Decode(context.Background(), regions)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(results) != len(regions) {
		t.Fatalf("got %d results; want %d", len(results), len(regions))
	}
	for i, want := range []byte{0xaa, 0xbb} {
		r := results[i]
		if r.Err != nil || r.Region != regions[i] {
			t.Fatalf("results[%d] = %+v", i, r)
		}
		if u := r.Image.UUID(); u == nil || u.ID()[0] != want {
			t.Errorf("results[%d] UUID = %v", i, u)
		}
	}
	if results[2].Image != nil || !errors.Is(results[2].Err, macho.ErrUnknownMagic) {
		t.Errorf("junk region result = %+v", results[2])
	}
	if results[3].Err != nil {
		t.Errorf("repeated region error = %v", results[3].Err)
	}

	var skipped bool
	for _, e := range h.Entries {
		if e.Level == log.WarnLevel && e.Fields["region"] == regions[2].String() {
			skipped = true
		}
	}
	if !skipped {
		t.Errorf("no warning logged for the junk region")
	}

	sum := Summary(results)
	for _, want := range []string{"4 regions", "3 decoded", "1 failed", "3 load commands"} {
		if !strings.Contains(sum, want) {
			t.Errorf("Summary() = %q; missing %q", sum, want)
		}
	}
}

func TestDecodeCache(t *testing.T) {
	p, err := New(source(), Config{Workers: 1, CacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	results, err := p.Decode(context.Background(), []Region{regions[0], regions[3]})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Image != results[1].Image {
		t.Errorf("second decode of the same region was not served from the cache")
	}

	p, err = New(source(), Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	results, err = p.Decode(context.Background(), []Region{regions[0], regions[3]})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Image == results[1].Image {
		t.Errorf("image shared with the cache disabled")
	}
}

func TestDecodeFailFast(t *testing.T) {
	p, err := New(source(), Config{Workers: 1, FailFast: true})
	if err != nil {
		t.Fatal(err)
	}
	results, err := p.Decode(context.Background(), regions)
	if !errors.Is(err, macho.ErrUnknownMagic) {
		t.Fatalf("Decode() error = %v; want ErrUnknownMagic", err)
	}
	if results[0].Err != nil || results[3].Image != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestDecodeCanceled(t *testing.T) {
	p, err := New(source(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := p.Decode(ctx, regions)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Decode() error = %v; want context.Canceled", err)
	}
	for i, r := range results {
		if r.Image != nil {
			t.Errorf("results[%d] decoded after cancel", i)
		}
	}
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    Region
		wantErr bool
	}{
		{"libfoo:0x4000:0x1000", Region{Name: "libfoo", Offset: 0x4000, Size: 0x1000}, false},
		{"libbar:4096", Region{Name: "libbar", Offset: 4096}, false},
		{"libfoo", Region{}, true},
		{":0x10", Region{}, true},
		{"libfoo:zz", Region{}, true},
		{"libfoo:-1", Region{}, true},
		{"libfoo:0:0x10:extra", Region{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRegion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRegion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseRegion(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

// segmentImage is a Mach-O at 0x100 whose single segment records its data at
// source offset 0x180, the way shared cache dylibs do.
func segmentImage() *bytes.Reader {
	var b bytes.Buffer
	w := func(v ...interface{}) {
		for _, x := range v {
			binary.Write(&b, binary.LittleEndian, x)
		}
	}
	w(uint32(0xfeedfacf), uint32(0x0100000c), uint32(0), uint32(6), uint32(1), uint32(72), uint32(0), uint32(0))
	w(uint32(0x19), uint32(72), [16]byte{'_', '_', 'T', 'E', 'X', 'T'})
	w(uint64(0x1000), uint64(0x1000), uint64(0x180), uint64(0x10))
	w(uint32(5), uint32(5), uint32(0), uint32(0))

	blob := make([]byte, 0x300)
	copy(blob[0x100:], b.Bytes())
	copy(blob[0x180:], "shared cache bytes")
	return bytes.NewReader(blob)
}

func TestDecodeAbsoluteOffsets(t *testing.T) {
	reg := []Region{{Name: "dylib", Offset: 0x100, Size: 0x100}}
	tests := []struct {
		name     string
		absolute bool
		want     []byte
	}{
		{"absolute", true, []byte("shared cache byt")},
		{"relative", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(segmentImage(), Config{Workers: 1, AbsoluteOffsets: tt.absolute})
			if err != nil {
				t.Fatal(err)
			}
			results, err := p.Decode(context.Background(), reg)
			if err != nil || results[0].Err != nil {
				t.Fatalf("Decode() = %v, %v", results, err)
			}
			img := results[0].Image
			got, err := img.SegmentData(img.Segment("__TEXT"))
			if tt.want == nil {
				var fe *macho.FormatError
				if !errors.As(err, &fe) {
					t.Errorf("SegmentData() error = %v; want *FormatError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SegmentData() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("SegmentData() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DCE_WORKERS", "7")
	t.Setenv("DCE_FAIL_FAST", "true")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AbsoluteOffsets {
		t.Errorf("AbsoluteOffsets set without DCE_ABSOLUTE_OFFSETS")
	}
	t.Setenv("DCE_ABSOLUTE_OFFSETS", "1")
	cfg, err = ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Config{Workers: 7, FailFast: true, CacheSize: 128, AbsoluteOffsets: true}, cfg); diff != "" {
		t.Errorf("ConfigFromEnv() mismatch (-want +got):\n%s", diff)
	}

	t.Setenv("DCE_CACHE_SIZE", "lots")
	if _, err := ConfigFromEnv(); err == nil {
		t.Errorf("ConfigFromEnv() accepted a non-numeric cache size")
	}
}
