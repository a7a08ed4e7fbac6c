package macho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
	"github.com/pkg/errors"
)

func threadCmd(bo binary.ByteOrder, cmd types.LoadCmd, flavor uint32, regs interface{}) []byte {
	var state bytes.Buffer
	binary.Write(&state, bo, regs)
	e := newEnc(bo, types.Width64)
	e.u32(uint32(cmd), uint32(16+state.Len()), flavor, uint32(state.Len()/4))
	e.b.Write(state.Bytes())
	return e.bytes()
}

func TestThreadRead(t *testing.T) {
	arm := RegsARM64{PC: 0x100003f00}
	amd := RegsAMD64{IP: 0x100001e40, SP: 0x7ff0}

	tests := []struct {
		name string
		data []byte
		pc   uint64
	}{
		{"arm64", threadCmd(le, types.LC_UNIXTHREAD, ARMThreadState64, arm), 0x100003f00},
		{"x86_64", threadCmd(le, types.LC_UNIXTHREAD, X86ThreadState64, amd), 0x100001e40},
		{"big endian arm64", threadCmd(binary.BigEndian, types.LC_THREAD, ARMThreadState64, arm), 0x100003f00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bo := binary.ByteOrder(le)
			if tt.name == "big endian arm64" {
				bo = binary.BigEndian
			}
			s := stream.New(tt.data, bo)
			var th Thread
			if err := th.Read(testHeader(t, bo, types.Width64), s); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if s.Offset() != int64(len(tt.data)) || len(th.States()) != 1 {
				t.Errorf("cursor = %d, states = %d", s.Offset(), len(th.States()))
			}
			if pc, ok := th.EntryPoint(); !ok || pc != tt.pc {
				t.Errorf("EntryPoint() = %#x, %v; want %#x", pc, ok, tt.pc)
			}
		})
	}

	var th Thread
	if err := th.Read(testHeader(t, le, types.Width64), stream.New(tests[0].data, le)); err != nil {
		t.Fatal(err)
	}
	if r, ok := th.ARM64(); !ok || !r.OnlyEntry() {
		t.Errorf("ARM64() = %+v, %v; want an entry-only state", r, ok)
	}
	if _, ok := th.AMD64(); ok {
		t.Errorf("AMD64() found a state in an arm64 thread")
	}
}

func TestThreadReadUnknownFlavor(t *testing.T) {
	data := newEnc(le, types.Width64).u32(uint32(types.LC_THREAD), 24, 99, 2, 1, 2).bytes()
	var th Thread
	if err := th.Read(testHeader(t, le, types.Width64), stream.New(data, le)); err != nil {
		t.Fatal(err)
	}
	if _, ok := th.EntryPoint(); ok {
		t.Errorf("EntryPoint() found a program counter in an unknown flavor")
	}
	if th.String() != "1 thread state(s)" {
		t.Errorf("String() = %q", th.String())
	}
}

func TestThreadReadOverrun(t *testing.T) {
	// count claims 68 words in a 24-byte command
	data := newEnc(le, types.Width64).u32(uint32(types.LC_UNIXTHREAD), 24, ARMThreadState64, 68, 0, 0).bytes()
	s := stream.New(data, le)
	var th Thread
	err := th.Read(testHeader(t, le, types.Width64), s)
	if !errors.Is(err, stream.ErrInvalid) {
		t.Fatalf("Read() error = %v; want ErrInvalid", err)
	}
	if th.Command() != 0 || s.Offset() != 0 {
		t.Errorf("failed Read left state %v, cursor %d", th.Command(), s.Offset())
	}
}

func TestImageEntryAddressFromThread(t *testing.T) {
	img := image(le, types.Width64,
		segmentCmd(le, types.Width64, "__TEXT", 0x100000000, 0x4000, 0, 0x4000, 5),
		threadCmd(le, types.LC_UNIXTHREAD, ARMThreadState64, RegsARM64{PC: 0x100003f00}),
	)
	m, err := NewImage(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	if addr, err := m.EntryAddress(); err != nil || addr != 0x100003f00 {
		t.Errorf("EntryAddress() = %#x, %v", addr, err)
	}
}
