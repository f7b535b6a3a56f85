package radio

import (
	"errors"
	"testing"
)

func TestParseAddress64(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address64
		wantErr bool
	}{
		{name: "plain", input: "0013A20040A1E77E", want: 0x0013A20040A1E77E},
		{name: "prefixed", input: "0x0013a20040a1e77e", want: 0x0013A20040A1E77E},
		{name: "label format", input: "0013A200 40A1E77E", want: 0x0013A20040A1E77E},
		{name: "short", input: "FFFF", want: Broadcast64},
		{name: "empty", input: "", wantErr: true},
		{name: "too long", input: "0013A20040A1E77E00", wantErr: true},
		{name: "not hex", input: "0013A20040A1E77G", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress64(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress64(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress64(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress64(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAddress16(t *testing.T) {
	tests := []struct {
		input   string
		want    Address16
		wantErr bool
	}{
		{input: "FFFE", want: Unknown16},
		{input: "0x1a2b", want: 0x1A2B},
		{input: "1", want: 0x0001},
		{input: "12345", wantErr: true},
		{input: "zz", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAddress16(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddress16(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want && !tt.wantErr {
			t.Errorf("ParseAddress16(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAddressString(t *testing.T) {
	if got := Address64(0x0013A20040A1E77E).String(); got != "0013A20040A1E77E" {
		t.Errorf("Address64.String() = %q", got)
	}
	if got := Address16(0x00AB).String(); got != "00AB" {
		t.Errorf("Address16.String() = %q", got)
	}
}

func TestAddressIsKnown(t *testing.T) {
	if Unknown64.IsKnown() {
		t.Error("Unknown64.IsKnown() = true")
	}
	if !Coordinator64.IsKnown() {
		t.Error("Coordinator64.IsKnown() = false")
	}
	if Unknown16.IsKnown() {
		t.Error("Unknown16.IsKnown() = true")
	}
	if !Broadcast16.IsKnown() || !Broadcast16.IsBroadcast() {
		t.Error("Broadcast16 should be known and broadcast")
	}
}

func TestAddressTextRoundTrip(t *testing.T) {
	var a Address64
	if err := a.UnmarshalText([]byte("0013A20040A1E77E")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	text, _ := a.MarshalText()
	if string(text) != "0013A20040A1E77E" {
		t.Errorf("MarshalText() = %q", text)
	}

	var s Address16
	if err := s.UnmarshalText([]byte("nope")); err == nil {
		t.Error("Address16.UnmarshalText(nope) expected error")
	}
}
