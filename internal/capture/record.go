package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/radiolink/internal/radio"
)

// Record is one captured frame.
type Record struct {
	Timestamp time.Time       `cbor:"1,keyasint"`
	Direction radio.Direction `cbor:"2,keyasint"`
	Type      radio.FrameType `cbor:"3,keyasint"`
	ID        byte            `cbor:"4,keyasint,omitempty"`
	Address64 radio.Address64 `cbor:"5,keyasint,omitempty"`
	Address16 radio.Address16 `cbor:"6,keyasint,omitempty"`
	Command   string          `cbor:"7,keyasint,omitempty"`
	Status    byte            `cbor:"8,keyasint,omitempty"`
	RSSI      byte            `cbor:"9,keyasint,omitempty"`
	Data      []byte          `cbor:"10,keyasint,omitempty"`
}

// newRecord flattens the fields of f worth keeping.
func newRecord(dir radio.Direction, f radio.Frame, at time.Time) Record {
	rec := Record{
		Timestamp: at,
		Direction: dir,
		Type:      f.Type,
		ID:        f.ID,
		Address64: f.Addr64,
		Address16: f.Addr16,
		Command:   f.Command,
		Status:    f.Status,
		RSSI:      f.RSSI,
	}
	if len(f.Data) > 0 {
		rec.Data = append([]byte(nil), f.Data...)
	}
	return rec
}

// String renders the record as one log-style line.
func (r Record) String() string {
	s := fmt.Sprintf("%s %-3s %s id=%d", r.Timestamp.Format(time.RFC3339Nano), dirArrow(r.Direction), r.Type, r.ID)
	if r.Command != "" {
		s += " cmd=" + r.Command
	}
	if r.Address64 != 0 {
		s += " src=" + r.Address64.String()
	}
	if len(r.Data) > 0 {
		s += fmt.Sprintf(" data=% X", r.Data)
	}
	return s
}

func dirArrow(d radio.Direction) string {
	if d == radio.Outbound {
		return "->"
	}
	return "<-"
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// EncodeRecord encodes a Record to CBOR.
func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeRecord decodes a single CBOR Record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
