package types

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// AddrWidth is the size of the geometry fields (addresses, sizes and
// file offsets) of an image. It is fixed per image by the header magic.
type AddrWidth uint8

const (
	WidthUnknown AddrWidth = 0
	Width32      AddrWidth = 4
	Width64      AddrWidth = 8
)

// Bytes returns the on-disk size of one geometry field, or 0 when unknown.
func (w AddrWidth) Bytes() int {
	switch w {
	case Width32, Width64:
		return int(w)
	}
	return 0
}

func (w AddrWidth) String() string {
	switch w {
	case Width32:
		return "32-bit"
	case Width64:
		return "64-bit"
	}
	return "unknown"
}

type VmProtection int32

const (
	VM_PROT_NONE    VmProtection = 0x0
	VM_PROT_READ    VmProtection = 0x1
	VM_PROT_WRITE   VmProtection = 0x2
	VM_PROT_EXECUTE VmProtection = 0x4
)

func (v VmProtection) Read() bool {
	return (v & VM_PROT_READ) != 0
}

func (v VmProtection) Write() bool {
	return (v & VM_PROT_WRITE) != 0
}

func (v VmProtection) Execute() bool {
	return (v & VM_PROT_EXECUTE) != 0
}

func (v VmProtection) String() string {
	var protStr string
	if v.Read() {
		protStr += "r"
	} else {
		protStr += "-"
	}
	if v.Write() {
		protStr += "w"
	} else {
		protStr += "-"
	}
	if v.Execute() {
		protStr += "x"
	} else {
		protStr += "-"
	}
	return protStr
}

// UUID is a macho uuid object
type UUID [16]byte

func (u UUID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		u[0], u[1], u[2], u[3], u[4], u[5], u[6], u[7], u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}

// Platform is a macho platform object
type Platform uint32

const (
	PlatformUnknown          Platform = 0
	PlatformMacOS            Platform = 1  // PLATFORM_MACOS
	PlatformIOS              Platform = 2  // PLATFORM_IOS
	PlatformTvOS             Platform = 3  // PLATFORM_TVOS
	PlatformWatchOS          Platform = 4  // PLATFORM_WATCHOS
	PlatformBridgeOS         Platform = 5  // PLATFORM_BRIDGEOS
	PlatformMacCatalyst      Platform = 6  // PLATFORM_MACCATALYST
	PlatformIOSSimulator     Platform = 7  // PLATFORM_IOSSIMULATOR
	PlatformTvOSSimulator    Platform = 8  // PLATFORM_TVOSSIMULATOR
	PlatformWatchOSSimulator Platform = 9  // PLATFORM_WATCHOSSIMULATOR
	PlatformDriverKit        Platform = 10 // PLATFORM_DRIVERKIT
)

var platformStrings = []intName{
	{uint32(PlatformUnknown), "unknown"},
	{uint32(PlatformMacOS), "macOS"},
	{uint32(PlatformIOS), "iOS"},
	{uint32(PlatformTvOS), "tvOS"},
	{uint32(PlatformWatchOS), "watchOS"},
	{uint32(PlatformBridgeOS), "bridgeOS"},
	{uint32(PlatformMacCatalyst), "macCatalyst"},
	{uint32(PlatformIOSSimulator), "iOS Simulator"},
	{uint32(PlatformTvOSSimulator), "tvOS Simulator"},
	{uint32(PlatformWatchOSSimulator), "watchOS Simulator"},
	{uint32(PlatformDriverKit), "DriverKit"},
}

func (p Platform) String() string { return stringName(uint32(p), platformStrings, false) }

// Version is a X.Y.Z version encoded in nibbles xxxx.yy.zz
type Version uint32

func (v Version) String() string {
	s := make([]byte, 4)
	binary.BigEndian.PutUint32(s, uint32(v))
	return fmt.Sprintf("%d.%d.%d", binary.BigEndian.Uint16(s[:2]), s[2], s[3])
}

// SrcVersion is A.B.C.D.E packed as a24.b10.c10.d10.e10
type SrcVersion uint64

func (sv SrcVersion) String() string {
	a := sv >> 40
	b := (sv >> 30) & 0x3ff
	c := (sv >> 20) & 0x3ff
	d := (sv >> 10) & 0x3ff
	e := sv & 0x3ff
	return fmt.Sprintf("%d.%d.%d.%d.%d", a, b, c, d, e)
}

type Tool uint32

const (
	ToolClang Tool = 1 // TOOL_CLANG
	ToolSwift Tool = 2 // TOOL_SWIFT
	ToolLD    Tool = 3 // TOOL_LD
)

var toolStrings = []intName{
	{uint32(ToolClang), "clang"},
	{uint32(ToolSwift), "swift"},
	{uint32(ToolLD), "ld"},
}

func (t Tool) String() string { return stringName(uint32(t), toolStrings, false) }

type BuildToolVersion struct {
	Tool    Tool    /* enum for the tool */
	Version Version /* version number of the tool */
}

func (b BuildToolVersion) String() string {
	return fmt.Sprintf("%s (%s)", b.Tool, b.Version)
}

// A Function is one entry of the function starts table.
type Function struct {
	Name      string
	StartAddr uint64
	EndAddr   uint64
}

func (f Function) Size() uint64 { return f.EndAddr - f.StartAddr }

type EncryptionSystem uint32

const NOT_ENCRYPTED_YET EncryptionSystem = 0

type intName struct {
	i uint32
	s string
}

func stringName(i uint32, names []intName, goSyntax bool) string {
	for _, n := range names {
		if n.i == i {
			if goSyntax {
				return "macho." + n.s
			}
			return n.s
		}
	}
	return "0x" + strconv.FormatUint(uint64(i), 16)
}
