package types

import (
	"fmt"
	"strings"
)

const (
	SectionSize32 = 68
	SectionSize64 = 80
)

// SectionSize returns the on-disk size of one section record.
func SectionSize(w AddrWidth) int {
	switch w {
	case Width32:
		return SectionSize32
	case Width64:
		return SectionSize64
	}
	return 0
}

// A Section32 is a 32-bit Mach-O section header.
type Section32 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint32
	Size     uint32
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
}

// A Section64 is a 64-bit Mach-O section header.
type Section64 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
	Reserve3 uint32
}

type SectionFlag uint32

const (
	SectionType       SectionFlag = 0x000000ff /* 256 section types */
	SectionAttributes SectionFlag = 0xffffff00 /*  24 section attributes */
)

// Constants for the type of a section
const (
	Regular                         SectionFlag = 0x0  /* regular section */
	Zerofill                        SectionFlag = 0x1  /* zero fill on demand section */
	CstringLiterals                 SectionFlag = 0x2  /* section with only literal C strings*/
	ByteLiterals4                   SectionFlag = 0x3  /* section with only 4 byte literals */
	ByteLiterals8                   SectionFlag = 0x4  /* section with only 8 byte literals */
	LiteralPointers                 SectionFlag = 0x5  /* section with only pointers to literals */
	NonLazySymbolPointers           SectionFlag = 0x6  /* section with only non-lazy symbol pointers */
	LazySymbolPointers              SectionFlag = 0x7  /* section with only lazy symbol pointers */
	SymbolStubs                     SectionFlag = 0x8  /* section with only symbol stubs, byte size of stub in the reserved2 field */
	ModInitFuncPointers             SectionFlag = 0x9  /* section with only function pointers for initialization*/
	ModTermFuncPointers             SectionFlag = 0xa  /* section with only function pointers for termination */
	Coalesced                       SectionFlag = 0xb  /* section contains symbols that are to be coalesced */
	GbZerofill                      SectionFlag = 0xc  /* zero fill on demand section (that can be larger than 4 gigabytes) */
	Interposing                     SectionFlag = 0xd  /* section with only pairs of function pointers for interposing */
	ByteLiterals16                  SectionFlag = 0xe  /* section with only 16 byte literals */
	DtraceDof                       SectionFlag = 0xf  /* section contains DTrace Object Format */
	LazyDylibSymbolPointers         SectionFlag = 0x10 /* section with only lazy symbol pointers to lazy loaded dylibs */
	ThreadLocalRegular              SectionFlag = 0x11 /* template of initial values for TLVs */
	ThreadLocalZerofill             SectionFlag = 0x12 /* template of initial values for TLVs */
	ThreadLocalVariables            SectionFlag = 0x13 /* TLV descriptors */
	ThreadLocalVariablePointers     SectionFlag = 0x14 /* pointers to TLV descriptors */
	ThreadLocalInitFunctionPointers SectionFlag = 0x15 /* functions to call to initialize TLV values */
	InitFuncOffsets                 SectionFlag = 0x16 /* 32-bit offsets to initializers */
)

var sectionTypeStrings = []intName{
	{uint32(Regular), "Regular"},
	{uint32(Zerofill), "Zerofill"},
	{uint32(CstringLiterals), "CstringLiterals"},
	{uint32(ByteLiterals4), "4ByteLiterals"},
	{uint32(ByteLiterals8), "8ByteLiterals"},
	{uint32(LiteralPointers), "LiteralPointers"},
	{uint32(NonLazySymbolPointers), "NonLazySymbolPointers"},
	{uint32(LazySymbolPointers), "LazySymbolPointers"},
	{uint32(SymbolStubs), "SymbolStubs"},
	{uint32(ModInitFuncPointers), "ModInitFuncPointers"},
	{uint32(ModTermFuncPointers), "ModTermFuncPointers"},
	{uint32(Coalesced), "Coalesced"},
	{uint32(GbZerofill), "GbZerofill"},
	{uint32(Interposing), "Interposing"},
	{uint32(ByteLiterals16), "16ByteLiterals"},
	{uint32(DtraceDof), "DtraceDof"},
	{uint32(LazyDylibSymbolPointers), "LazyDylibSymbolPointers"},
	{uint32(ThreadLocalRegular), "ThreadLocalRegular"},
	{uint32(ThreadLocalZerofill), "ThreadLocalZerofill"},
	{uint32(ThreadLocalVariables), "ThreadLocalVariables"},
	{uint32(ThreadLocalVariablePointers), "ThreadLocalVariablePointers"},
	{uint32(ThreadLocalInitFunctionPointers), "ThreadLocalInitFunctionPointers"},
	{uint32(InitFuncOffsets), "InitFuncOffsets"},
}

// Constants for the section attributes part of the flags field
const (
	SectionAttributesUsr SectionFlag = 0xff000000 /* User setable attributes */
	PureInstructions     SectionFlag = 0x80000000 /* section contains only true machine instructions */
	NoToc                SectionFlag = 0x40000000 /* section contains coalesced symbols that are not to be in a ranlib table of contents */
	StripStaticSyms      SectionFlag = 0x20000000 /* ok to strip static symbols in this section in files with the MH_DYLDLINK flag */
	NoDeadStrip          SectionFlag = 0x10000000 /* no dead stripping */
	LiveSupport          SectionFlag = 0x08000000 /* blocks are live if they reference live blocks */
	SelfModifyingCode    SectionFlag = 0x04000000 /* Used with i386 code stubs written on by dyld */
	Debug                SectionFlag = 0x02000000 /* a debug section */
	SectionAttributesSys SectionFlag = 0x00ffff00 /* system setable attributes */
	SomeInstructions     SectionFlag = 0x00000400 /* section contains some machine instructions */
	ExtReloc             SectionFlag = 0x00000200 /* section has external relocation entries */
	LocReloc             SectionFlag = 0x00000100 /* section has local relocation entries */
)

var sectionAttrStrings = []intName{
	{uint32(PureInstructions), "PureInstructions"},
	{uint32(NoToc), "NoToc"},
	{uint32(StripStaticSyms), "StripStaticSyms"},
	{uint32(NoDeadStrip), "NoDeadStrip"},
	{uint32(LiveSupport), "LiveSupport"},
	{uint32(SelfModifyingCode), "SelfModifyingCode"},
	{uint32(Debug), "Debug"},
	{uint32(SomeInstructions), "SomeInstructions"},
	{uint32(ExtReloc), "ExtReloc"},
	{uint32(LocReloc), "LocReloc"},
}

func (f SectionFlag) Type() SectionFlag       { return f & SectionType }
func (f SectionFlag) Attributes() SectionFlag { return f & SectionAttributes }

func (f SectionFlag) IsZerofill() bool {
	switch f.Type() {
	case Zerofill, GbZerofill, ThreadLocalZerofill:
		return true
	}
	return false
}

func (f SectionFlag) IsDebug() bool { return f&Debug != 0 }

// AttributesList returns the names of the set attribute bits.
func (f SectionFlag) AttributesList() []string {
	var attrs []string
	rest := uint32(f.Attributes())
	for _, n := range sectionAttrStrings {
		if uint32(f)&n.i != 0 {
			attrs = append(attrs, n.s)
			rest &^= n.i
		}
	}
	if rest != 0 {
		attrs = append(attrs, fmt.Sprintf("%#x", rest))
	}
	return attrs
}

func (f SectionFlag) String() string {
	s := stringName(uint32(f.Type()), sectionTypeStrings, false)
	if attrs := f.AttributesList(); len(attrs) > 0 {
		s += " (" + strings.Join(attrs, "|") + ")"
	}
	return s
}
