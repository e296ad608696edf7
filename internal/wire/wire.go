// Package wire implements the bit-exact TCP wire format and log-file
// record layout shared by the server, the log store, and display clients:
// a fixed-size Part1 record followed by a variable-length Part2 record,
// little-endian throughout.
//
// Grounded on original_source/get_data.c's data_t (part1/part2 split,
// DATA_MAGIC) and original_source/display.c's data_part1_s/data_part2_s
// (MAGIC_DATA_PART1/MAGIC_DATA_PART2, MAX_DATA_PART2_LENGTH).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sthaid/proj-fusor-sub000/internal/pulse"
	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
)

// Magic constants, ported from original_source/common.h and display.c.
const (
	MagicPart1 uint64 = 0x0123456789abcdef
	MagicPart2 uint64 = 0xfedcba9876543210
	MagicFile  uint64 = 0x1122334455667788
)

// Domain-sizing constants, ported from original_source (util_dataq.c's
// adc_t ring capacity, mccdaq_test's MAX_CHANNEL, display.c's
// MAX_FILE_DATA_PART1/MAX_DATA_PART2_LENGTH).
const (
	MaxChannel         = pulse.MaxChannel
	MaxADCSamples      = 10000
	MaxFileDataPart1   = 86400
	MaxDataPart2Length = 1000000
)

// NumWindows is the number of CPM moving-average windows carried in Part1
// (len(pulse.Windows) == 5: {1,10,60,600,3600}).
const NumWindows = len(pulse.Windows)

// ValidityIndex names the five validity flags carried in Part1, in wire
// order.
type ValidityIndex int

const (
	ValidVoltage ValidityIndex = iota
	ValidCurrent
	ValidPressure
	ValidHe3
	ValidJpeg
	numValidity
)

// Part1 is the fixed-size record sent once per second, and the record
// type memory-mapped directly into the log file's Part1 region.
type Part1 struct {
	Magic uint64
	Time  int64 // epoch seconds, signed: §6.1 "time (epoch seconds, signed)"

	VoltageMeanKV sentinel.Value
	VoltageMinKV  sentinel.Value
	VoltageMaxKV  sentinel.Value
	CurrentMA     sentinel.Value
	PressureD2MT  sentinel.Value
	PressureN2MT  sentinel.Value

	// CpmSec[w][ch] is the moving count over pulse.Windows[w] seconds for
	// channel ch, normalized to counts per minute (scaled by
	// 60/pulse.Windows[w]) so every window reports the same rate unit.
	CpmSec [NumWindows][MaxChannel]float32

	DataPart2Offset uint64
	DataPart2Length uint32

	Validity [numValidity]uint32 // 0 or 1, wire-compatible bool array
}

// Part1Size is the encoded size of a Part1 record in bytes.
const Part1Size = 8 + 8 + 4*6 + 4*NumWindows*MaxChannel + 8 + 4 + 4*int(numValidity)

// SetValid sets or clears one of Part1's validity flags.
func (p *Part1) SetValid(idx ValidityIndex, valid bool) {
	if valid {
		p.Validity[idx] = 1
	} else {
		p.Validity[idx] = 0
	}
}

// Valid reports one of Part1's validity flags.
func (p *Part1) Valid(idx ValidityIndex) bool { return p.Validity[idx] != 0 }

// EncodeTo writes p in wire format to w.
func (p *Part1) EncodeTo(w io.Writer) error {
	buf := make([]byte, 0, Part1Size)
	bw := bytes.NewBuffer(buf)

	must(binary.Write(bw, binary.LittleEndian, p.Magic))
	must(binary.Write(bw, binary.LittleEndian, p.Time))
	must(binary.Write(bw, binary.LittleEndian, p.VoltageMeanKV.Encode()))
	must(binary.Write(bw, binary.LittleEndian, p.VoltageMinKV.Encode()))
	must(binary.Write(bw, binary.LittleEndian, p.VoltageMaxKV.Encode()))
	must(binary.Write(bw, binary.LittleEndian, p.CurrentMA.Encode()))
	must(binary.Write(bw, binary.LittleEndian, p.PressureD2MT.Encode()))
	must(binary.Write(bw, binary.LittleEndian, p.PressureN2MT.Encode()))
	for wi := 0; wi < NumWindows; wi++ {
		must(binary.Write(bw, binary.LittleEndian, p.CpmSec[wi]))
	}
	must(binary.Write(bw, binary.LittleEndian, p.DataPart2Offset))
	must(binary.Write(bw, binary.LittleEndian, p.DataPart2Length))
	must(binary.Write(bw, binary.LittleEndian, p.Validity))

	_, err := w.Write(bw.Bytes())
	return err
}

// DecodePart1 reads and validates a Part1 record from r.
func DecodePart1(r io.Reader) (Part1, error) {
	var p Part1
	var voltageMean, voltageMin, voltageMax, current, pd2, pn2 float32

	fields := []any{
		&p.Magic, &p.Time,
		&voltageMean, &voltageMin, &voltageMax, &current, &pd2, &pn2,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Part1{}, fmt.Errorf("wire: decode part1: %w", err)
		}
	}
	for wi := 0; wi < NumWindows; wi++ {
		if err := binary.Read(r, binary.LittleEndian, &p.CpmSec[wi]); err != nil {
			return Part1{}, fmt.Errorf("wire: decode part1 cpm: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &p.DataPart2Offset); err != nil {
		return Part1{}, fmt.Errorf("wire: decode part1 offset: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.DataPart2Length); err != nil {
		return Part1{}, fmt.Errorf("wire: decode part1 length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Validity); err != nil {
		return Part1{}, fmt.Errorf("wire: decode part1 validity: %w", err)
	}

	p.VoltageMeanKV = sentinel.Decode(voltageMean)
	p.VoltageMinKV = sentinel.Decode(voltageMin)
	p.VoltageMaxKV = sentinel.Decode(voltageMax)
	p.CurrentMA = sentinel.Decode(current)
	p.PressureD2MT = sentinel.Decode(pd2)
	p.PressureN2MT = sentinel.Decode(pn2)

	if p.Magic != MagicPart1 {
		return Part1{}, fmt.Errorf("wire: part1 magic mismatch: got %#x want %#x", p.Magic, MagicPart1)
	}
	return p, nil
}

// Part2 is the variable-size record following Part1 on the wire and in
// the log file's Part2 region: raw sample traces plus an optional JPEG
// frame.
type Part2 struct {
	Magic uint64

	VoltageTrace  [MaxADCSamples]int16
	CurrentTrace  [MaxADCSamples]int16
	PressureTrace [MaxADCSamples]int16
	He3Trace      [MaxADCSamples]int16

	JPEG []byte
}

// EncodedLen is the number of bytes EncodeTo will write for p, matching
// the DataPart2Length that must be stamped into the preceding Part1.
func (p *Part2) EncodedLen() int {
	return 8 + 4*MaxADCSamples*2 + 4 + len(p.JPEG)
}

// EncodeTo writes p in wire format to w.
func (p *Part2) EncodeTo(w io.Writer) error {
	if p.EncodedLen() > MaxDataPart2Length {
		return fmt.Errorf("wire: part2 length %d exceeds MaxDataPart2Length", p.EncodedLen())
	}
	buf := bytes.NewBuffer(make([]byte, 0, p.EncodedLen()))
	must(binary.Write(buf, binary.LittleEndian, p.Magic))
	must(binary.Write(buf, binary.LittleEndian, p.VoltageTrace))
	must(binary.Write(buf, binary.LittleEndian, p.CurrentTrace))
	must(binary.Write(buf, binary.LittleEndian, p.PressureTrace))
	must(binary.Write(buf, binary.LittleEndian, p.He3Trace))
	must(binary.Write(buf, binary.LittleEndian, uint32(len(p.JPEG))))
	buf.Write(p.JPEG)
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodePart2 reads and validates a Part2 record of the given declared
// length (Part1.DataPart2Length) from r.
func DecodePart2(r io.Reader, length uint32) (Part2, error) {
	if length > MaxDataPart2Length {
		return Part2{}, fmt.Errorf("wire: part2 length %d exceeds MaxDataPart2Length", length)
	}
	var p Part2
	if err := binary.Read(r, binary.LittleEndian, &p.Magic); err != nil {
		return Part2{}, fmt.Errorf("wire: decode part2 magic: %w", err)
	}
	if p.Magic != MagicPart2 {
		return Part2{}, fmt.Errorf("wire: part2 magic mismatch: got %#x want %#x", p.Magic, MagicPart2)
	}
	for _, trace := range []*[MaxADCSamples]int16{&p.VoltageTrace, &p.CurrentTrace, &p.PressureTrace, &p.He3Trace} {
		if err := binary.Read(r, binary.LittleEndian, trace); err != nil {
			return Part2{}, fmt.Errorf("wire: decode part2 trace: %w", err)
		}
	}
	var jpegLen uint32
	if err := binary.Read(r, binary.LittleEndian, &jpegLen); err != nil {
		return Part2{}, fmt.Errorf("wire: decode part2 jpeg length: %w", err)
	}
	p.JPEG = make([]byte, jpegLen)
	if _, err := io.ReadFull(r, p.JPEG); err != nil {
		return Part2{}, fmt.Errorf("wire: decode part2 jpeg bytes: %w", err)
	}
	return p, nil
}

// FileHeader is the fixed 4096-byte header at the start of a log file.
type FileHeader struct {
	Magic     uint64
	StartTime int64
	Max       uint32
}

// FileHeaderSize is the on-disk size of the header region, including
// padding, per spec.md §6.2.
const FileHeaderSize = 4096

// Part2Offset is the byte offset of the Part2 region within a log file
// holding up to MaxFileDataPart1 Part1 slots, rounded up to the next 4 KiB
// boundary per spec.md §6.2.
func Part2Offset() int64 {
	raw := int64(FileHeaderSize) + int64(Part1Size)*int64(MaxFileDataPart1) + 0x1000
	return raw &^ 0xFFF
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
