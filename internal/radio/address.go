package radio

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Address64 is a 64-bit globally unique hardware address.
//
// The value is the raw address; equality is by raw bits.
type Address64 uint64

// Address16 is a 16-bit network-local address assigned by the mesh.
type Address16 uint16

// Reserved addresses.
const (
	// Unknown64 marks a 64-bit address that has not been learned.
	Unknown64 Address64 = 0xFFFFFFFFFFFFFFFE

	// Broadcast64 addresses every node in the network.
	Broadcast64 Address64 = 0x000000000000FFFF

	// Coordinator64 addresses the network coordinator.
	Coordinator64 Address64 = 0x0000000000000000

	// Unknown16 marks a 16-bit address that has not been assigned or learned.
	Unknown16 Address16 = 0xFFFE

	// Broadcast16 addresses every node in the network.
	Broadcast16 Address16 = 0xFFFF
)

const (
	address64HexLen = 16
	address16HexLen = 4
)

// ParseAddress64 parses a 64-bit address from hex.
//
// Accepts formats:
//   - "0013A20040A1E77E": 16 hex digits
//   - "0x0013A20040A1E77E": with prefix
//   - "0013A200 40A1E77E": with a separating space (as printed on module labels)
//
// Parameters:
//   - s: Address string
//
// Returns:
//   - Address64: Parsed address
//   - error: ErrInvalidAddress if parsing fails
//
// Example:
//
//	addr, err := ParseAddress64("0013A20040A1E77E")
//	if err != nil {
//	    return err
//	}
func ParseAddress64(s string) (Address64, error) {
	clean := normaliseHex(s)
	if len(clean) == 0 || len(clean) > address64HexLen {
		return Unknown64, fmt.Errorf("%w: 64-bit address must be 1-%d hex digits, got %q", ErrInvalidAddress, address64HexLen, s)
	}

	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return Unknown64, fmt.Errorf("%w: %q is not hexadecimal", ErrInvalidAddress, s)
	}

	return Address64(v), nil
}

// ParseAddress16 parses a 16-bit network address from hex ("FFFE", "0x1A2B").
func ParseAddress16(s string) (Address16, error) {
	clean := normaliseHex(s)
	if len(clean) == 0 || len(clean) > address16HexLen {
		return Unknown16, fmt.Errorf("%w: 16-bit address must be 1-%d hex digits, got %q", ErrInvalidAddress, address16HexLen, s)
	}

	v, err := strconv.ParseUint(clean, 16, 16)
	if err != nil {
		return Unknown16, fmt.Errorf("%w: %q is not hexadecimal", ErrInvalidAddress, s)
	}

	return Address16(v), nil
}

func normaliseHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ReplaceAll(s, " ", "")
}

// String returns the address as 16 upper-case hex digits.
//
// Example: "0013A20040A1E77E"
func (a Address64) String() string {
	return fmt.Sprintf("%016X", uint64(a))
}

// IsKnown reports whether the address has been learned.
func (a Address64) IsKnown() bool {
	return a != Unknown64
}

// IsBroadcast reports whether the address is the broadcast address.
func (a Address64) IsBroadcast() bool {
	return a == Broadcast64
}

// Bytes returns the big-endian wire form.
func (a Address64) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(a))
	return b
}

// String returns the address as 4 upper-case hex digits.
func (a Address16) String() string {
	return fmt.Sprintf("%04X", uint16(a))
}

// IsKnown reports whether the address has been assigned.
func (a Address16) IsKnown() bool {
	return a != Unknown16
}

// IsBroadcast reports whether the address is the broadcast address.
func (a Address16) IsBroadcast() bool {
	return a == Broadcast16
}

// Bytes returns the big-endian wire form.
func (a Address16) Bytes() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(a))
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (a Address64) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address64) UnmarshalText(text []byte) error {
	v, err := ParseAddress64(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address16) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address16) UnmarshalText(text []byte) error {
	v, err := ParseAddress16(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
