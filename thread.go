// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/appsworld/dce-macho/pkg/stream"
	"github.com/appsworld/dce-macho/types"
)

// Thread state flavors understood by Thread.
const (
	X86ThreadState64 uint32 = 4
	ARMThreadState64 uint32 = 6
)

// RegsAMD64 is the Mach-O x86_64 register structure.
type RegsAMD64 struct {
	AX    uint64
	BX    uint64
	CX    uint64
	DX    uint64
	DI    uint64
	SI    uint64
	BP    uint64
	SP    uint64
	R8    uint64
	R9    uint64
	R10   uint64
	R11   uint64
	R12   uint64
	R13   uint64
	R14   uint64
	R15   uint64
	IP    uint64
	FLAGS uint64
	CS    uint64
	FS    uint64
	GS    uint64
}

func (r RegsAMD64) String(padding int) string {
	p := strings.Repeat(" ", padding)
	return fmt.Sprintf(
		"%s   rax  %#016x rbx %#016x rcx  %#016x\n"+
			"%s   rdx  %#016x rdi %#016x rsi  %#016x\n"+
			"%s   rbp  %#016x rsp %#016x r8   %#016x\n"+
			"%s    r9  %#016x r10 %#016x r11  %#016x\n"+
			"%s   r12  %#016x r13 %#016x r14  %#016x\n"+
			"%s   r15  %#016x rip %#016x\n"+
			"%srflags  %#016x cs  %#016x fs   %#016x\n"+
			"%s    gs  %#016x",
		p, r.AX, r.BX, r.CX,
		p, r.DX, r.DI, r.SI,
		p, r.BP, r.SP, r.R8,
		p, r.R9, r.R10, r.R11,
		p, r.R12, r.R13, r.R14,
		p, r.R15, r.IP,
		p, r.FLAGS, r.CS, r.FS,
		p, r.GS)
}

// RegsARM64 is the Mach-O ARM64 register structure.
type RegsARM64 struct {
	X    [29]uint64 // x0-x28
	FP   uint64     // x29
	LR   uint64     // x30
	SP   uint64
	PC   uint64
	CPSR uint32
	PAD  uint32
}

// OnlyEntry reports whether the state sets nothing but the program counter,
// which is what linkers emit for LC_UNIXTHREAD.
func (r RegsARM64) OnlyEntry() bool {
	for _, x := range r.X {
		if x != 0 {
			return false
		}
	}
	return r.FP == 0 && r.LR == 0 && r.SP == 0 && r.PC != 0 && r.CPSR == 0 && r.PAD == 0
}

func (r RegsARM64) String(padding int) string {
	p := strings.Repeat(" ", padding)
	var b strings.Builder
	for i := 0; i < len(r.X); i += 4 {
		b.WriteString(p)
		for j := i; j < i+4 && j < len(r.X); j++ {
			fmt.Fprintf(&b, "%4s: %#016x ", fmt.Sprintf("x%d", j), r.X[j])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s  fp: %#016x   lr: %#016x   sp: %#016x   pc: %#016x\n", p, r.FP, r.LR, r.SP, r.PC)
	fmt.Fprintf(&b, "%scpsr: %#08x", p, r.CPSR)
	return b.String()
}

// A ThreadState is one flavor of register state; Data holds Count 32-bit
// words in the image's byte order.
type ThreadState struct {
	Flavor uint32
	Data   []byte
}

/*******************************************************************************
 * LC_THREAD, LC_UNIXTHREAD
 *******************************************************************************/

// A Thread is a thread or unixthread command: a list of register states.
type Thread struct {
	loadPrefix
	bo     binary.ByteOrder
	states []ThreadState
}

func (l *Thread) Read(h *Header, s *stream.Stream) error {
	p, v, err := beginLoad(s, types.LC_THREAD, types.LC_UNIXTHREAD)
	if err != nil {
		return err
	}
	if err := v.Skip(types.LoadCmdPrefixSize); err != nil {
		return p.fail(s, err)
	}
	var states []ThreadState
	for v.Remaining() > 0 {
		flavor, err := v.Uint32()
		if err != nil {
			return p.fail(s, err)
		}
		count, err := v.Uint32()
		if err != nil {
			return p.fail(s, err)
		}
		if int64(count) > int64(v.Remaining()/4) {
			return p.fail(s, v.Failf("thread state flavor %d has %d words, only %d bytes left", flavor, count, v.Remaining()))
		}
		data, err := v.Bytes(int(count) * 4)
		if err != nil {
			return p.fail(s, err)
		}
		states = append(states, ThreadState{Flavor: flavor, Data: data})
	}
	*l = Thread{loadPrefix: p, bo: s.ByteOrder(), states: states}
	return p.finish(s)
}

func (l *Thread) States() []ThreadState { return append([]ThreadState(nil), l.states...) }

func (l *Thread) regs(flavor uint32, r interface{}) bool {
	for _, st := range l.states {
		if st.Flavor == flavor {
			return stream.New(st.Data, l.bo).ReadStruct(r) == nil
		}
	}
	return false
}

// ARM64 returns the first ARM64 register state.
func (l *Thread) ARM64() (RegsARM64, bool) {
	var r RegsARM64
	ok := l.regs(ARMThreadState64, &r)
	return r, ok
}

// AMD64 returns the first x86_64 register state.
func (l *Thread) AMD64() (RegsAMD64, bool) {
	var r RegsAMD64
	ok := l.regs(X86ThreadState64, &r)
	return r, ok
}

// EntryPoint returns the initial program counter.
func (l *Thread) EntryPoint() (uint64, bool) {
	if r, ok := l.ARM64(); ok {
		return r.PC, true
	}
	if r, ok := l.AMD64(); ok {
		return r.IP, true
	}
	return 0, false
}

func (l *Thread) String() string {
	if r, ok := l.ARM64(); ok {
		return fmt.Sprintf("ARM64 thread state\n%s", r.String(4))
	}
	if r, ok := l.AMD64(); ok {
		return fmt.Sprintf("x86_64 thread state\n%s", r.String(4))
	}
	return fmt.Sprintf("%d thread state(s)", len(l.states))
}
