package radio

import (
	"fmt"
	"strings"
)

// ProtocolFamily is the mesh/topology variant a physical module implements.
type ProtocolFamily int

// Protocol families.
const (
	FamilyUnknown ProtocolFamily = iota
	FamilyRaw802
	FamilyZigBee
	FamilyDigiMesh
	FamilyDigiPoint
)

// FrameShape selects the outbound frame layout used for a transmission.
type FrameShape int

// Frame shapes.
const (
	// ShapeNone means the family has no frame for the addressing mode.
	ShapeNone FrameShape = iota
	ShapeTX64
	ShapeTX16
	ShapeTransmitRequest
)

// familyInfo is the data that distinguishes one family from another.
type familyInfo struct {
	name        string
	description string
	shape64     FrameShape
	shape16     FrameShape
	explicit    bool
}

var families = map[ProtocolFamily]familyInfo{
	FamilyUnknown:   {name: "unknown", description: "Unknown", shape64: ShapeTransmitRequest, shape16: ShapeNone},
	FamilyRaw802:    {name: "raw802", description: "802.15.4", shape64: ShapeTX64, shape16: ShapeTX16},
	FamilyZigBee:    {name: "zigbee", description: "ZigBee", shape64: ShapeTransmitRequest, shape16: ShapeTransmitRequest, explicit: true},
	FamilyDigiMesh:  {name: "digimesh", description: "DigiMesh", shape64: ShapeTransmitRequest, shape16: ShapeNone, explicit: true},
	FamilyDigiPoint: {name: "digipoint", description: "Point-to-multipoint", shape64: ShapeTransmitRequest, shape16: ShapeNone, explicit: true},
}

func (f ProtocolFamily) info() familyInfo {
	if fi, ok := families[f]; ok {
		return fi
	}
	return families[FamilyUnknown]
}

// String returns the short configuration name ("digimesh").
func (f ProtocolFamily) String() string {
	return f.info().name
}

// Description returns the human readable family name ("DigiMesh").
func (f ProtocolFamily) Description() string {
	return f.info().description
}

// Shape64 returns the frame shape for destinations with a known 64-bit address.
func (f ProtocolFamily) Shape64() FrameShape {
	return f.info().shape64
}

// Shape16 returns the frame shape for destinations known only by 16-bit
// address. ShapeNone means the family cannot address by 16-bit address.
func (f ProtocolFamily) Shape16() FrameShape {
	return f.info().shape16
}

// SupportsExplicit reports whether the family has an explicit addressing frame.
func (f ProtocolFamily) SupportsExplicit() bool {
	return f.info().explicit
}

// ParseProtocolFamily maps a configuration name to a family.
// The empty string maps to FamilyUnknown (no verification at open).
func ParseProtocolFamily(s string) (ProtocolFamily, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FamilyUnknown, nil
	}
	for f, fi := range families {
		if fi.name == s {
			return f, nil
		}
	}
	return FamilyUnknown, fmt.Errorf("%w: unknown protocol family %q", ErrInvalidArgument, s)
}

// Hardware series reported in the upper byte of HV.
const (
	hwSeries1    = 0x17
	hwSeries1Pro = 0x18
	hwSeries2    = 0x19
	hwSeries2Pro = 0x1A
	hwSeries2B   = 0x1E
	hw900HP      = 0x23
	hw868        = 0x24
)

// DetectFamily derives the protocol family from the hardware version (HV)
// and firmware version (VR) registers. FamilyUnknown is returned when the
// combination is not recognised.
func DetectFamily(hardwareVersion, firmwareVersion uint16) ProtocolFamily {
	series := hardwareVersion >> 8
	fw := firmwareVersion >> 12

	switch series {
	case hwSeries1, hwSeries1Pro:
		if fw == 0x8 {
			return FamilyDigiMesh
		}
		return FamilyRaw802
	case hwSeries2, hwSeries2Pro, hwSeries2B:
		switch fw {
		case 0x8, 0x9:
			return FamilyDigiMesh
		case 0x2, 0x3, 0x4:
			return FamilyZigBee
		}
	case hw900HP, hw868:
		switch fw {
		case 0x8, 0x9:
			return FamilyDigiMesh
		case 0x1, 0x2:
			return FamilyDigiPoint
		}
	}
	return FamilyUnknown
}

// OperatingMode is the module's command interface mode.
type OperatingMode int

// Operating modes.
const (
	ModeUnknown OperatingMode = iota
	ModeAT
	ModeAPI
	ModeAPIEscaped
)

// operatingModeFromAP maps the AP register to an operating mode.
func operatingModeFromAP(v byte) OperatingMode {
	switch v {
	case 0:
		return ModeAT
	case 1:
		return ModeAPI
	case 2:
		return ModeAPIEscaped
	default:
		return ModeUnknown
	}
}

// IsAPI reports whether the mode supports structured frames.
func (m OperatingMode) IsAPI() bool {
	return m == ModeAPI || m == ModeAPIEscaped
}

func (m OperatingMode) String() string {
	switch m {
	case ModeAT:
		return "at"
	case ModeAPI:
		return "api"
	case ModeAPIEscaped:
		return "api_escaped"
	default:
		return "unknown"
	}
}
