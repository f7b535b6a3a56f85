package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radiolink/internal/radio"
)

var (
	peerA = radio.Address64(0x0013A20040A1E77E)
	peerB = radio.Address64(0x0013A20040A1E77F)
	t0    = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
)

func capturePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "frames.cbor")
}

func writeFrames(t *testing.T, path string) {
	t.Helper()
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	w.ObserveFrame(radio.Outbound, radio.Frame{Type: radio.FrameATCommand, ID: 1, Command: "ND"}, t0)
	w.ObserveFrame(radio.Inbound, radio.Frame{Type: radio.FrameATResponse, ID: 1, Command: "ND", Data: []byte{0xFF, 0xFE}}, t0.Add(time.Second))
	w.ObserveFrame(radio.Inbound, radio.Frame{Type: radio.FrameReceive, Addr64: peerA, Addr16: 0x1234, Data: []byte("hi")}, t0.Add(2*time.Second))
	w.ObserveFrame(radio.Inbound, radio.Frame{Type: radio.FrameRX64, Addr64: peerB, RSSI: 40, Data: []byte("yo")}, t0.Add(3*time.Second))
	if w.Written() != 4 || w.Failed() != 0 {
		t.Fatalf("Written/Failed = %d/%d, want 4/0", w.Written(), w.Failed())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestWriteAndReadAll(t *testing.T) {
	path := capturePath(t)
	writeFrames(t, path)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()

	recs, err := r.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("read %d records, want 4", len(recs))
	}

	want := Record{
		Timestamp: t0.Add(2 * time.Second),
		Direction: radio.Inbound,
		Type:      radio.FrameReceive,
		Address64: peerA,
		Address16: 0x1234,
		Data:      []byte("hi"),
	}
	got := recs[2]
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	got.Timestamp = want.Timestamp
	if !reflect.DeepEqual(got, want) {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if recs[0].Direction != radio.Outbound || recs[0].Command != "ND" {
		t.Errorf("first record = %+v, want outbound ND", recs[0])
	}
	if recs[3].RSSI != 40 {
		t.Errorf("RSSI = %d, want 40", recs[3].RSSI)
	}
}

func TestAppendAcrossWriters(t *testing.T) {
	path := capturePath(t)
	writeFrames(t, path)
	writeFrames(t, path)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()

	recs, _ := r.All()
	if len(recs) != 8 {
		t.Errorf("read %d records after two sessions, want 8", len(recs))
	}
}

func TestFilteredReader(t *testing.T) {
	path := capturePath(t)
	writeFrames(t, path)

	in := radio.Inbound
	out := radio.Outbound
	start := t0.Add(time.Second)
	end := t0.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"everything", Filter{}, 4},
		{"inbound", Filter{Direction: &in}, 3},
		{"outbound", Filter{Direction: &out}, 1},
		{"receive types", Filter{Types: []radio.FrameType{radio.FrameReceive, radio.FrameRX64}}, 2},
		{"one peer", Filter{Address64: &peerA}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{Direction: &in, Address64: &peerB}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader() error = %v", err)
			}
			defer r.Close()

			recs, err := r.All()
			if err != nil {
				t.Fatalf("All() error = %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("got %d records, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestTruncatedTailEndsStream(t *testing.T) {
	path := capturePath(t)
	writeFrames(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()

	recs, err := r.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("read %d complete records, want 3", len(recs))
	}
}

func TestNextAtEOF(t *testing.T) {
	path := capturePath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() on empty file = %v, want io.EOF", err)
	}
}

func TestWriterClosed(t *testing.T) {
	path := capturePath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	w.ObserveFrame(radio.Inbound, radio.Frame{Type: radio.FrameReceive}, t0)
	if w.Written() != 0 {
		t.Error("frame written after Close")
	}
}

func TestNewWriterBadPath(t *testing.T) {
	if _, err := NewWriter(filepath.Join(t.TempDir(), "missing", "frames.cbor")); err == nil {
		t.Error("NewWriter() in a missing directory succeeded")
	}
}

func TestWriterConcurrent(t *testing.T) {
	path := capturePath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				w.ObserveFrame(radio.Inbound, radio.Frame{Type: radio.FrameReceive, ID: byte(i), Data: []byte{byte(j)}}, t0)
			}
		}()
	}
	wg.Wait()
	w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	recs, err := r.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(recs) != 200 {
		t.Errorf("read %d records, want 200", len(recs))
	}
}

func TestEncodingIsCanonical(t *testing.T) {
	rec := Record{Timestamp: t0, Direction: radio.Inbound, Type: radio.FrameReceive, Address64: peerA, Data: []byte{1}}

	a, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	b, _ := EncodeRecord(rec)
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}

	got, err := DecodeRecord(a)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if got.Address64 != peerA || !got.Timestamp.Equal(t0) {
		t.Errorf("decoded = %+v", got)
	}

	if _, err := DecodeRecord([]byte{0xFF}); err == nil {
		t.Error("DecodeRecord() accepted garbage")
	}
}

func TestRecordString(t *testing.T) {
	s := Record{Timestamp: t0, Direction: radio.Outbound, Type: radio.FrameATCommand, ID: 3, Command: "NI"}.String()
	if !strings.Contains(s, "->") || !strings.Contains(s, "cmd=NI") || !strings.Contains(s, "id=3") {
		t.Errorf("String() = %q", s)
	}

	s = Record{Timestamp: t0, Direction: radio.Inbound, Type: radio.FrameReceive, Address64: peerA, Data: []byte{0xAB}}.String()
	if !strings.Contains(s, "<-") || !strings.Contains(s, "src=0013A20040A1E77E") || !strings.Contains(s, "data=AB") {
		t.Errorf("String() = %q", s)
	}
}
