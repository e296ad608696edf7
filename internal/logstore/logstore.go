// Package logstore implements LogStore (the memory-mapped dual-region
// log file) and Recorder (the write path with gap-filling and the
// monotonic-time invariant).
//
// Grounded on original_source/display.c's initialize()
// (O_CREAT|O_EXCL file creation, file_hdr_t mmap, FILE_DATA_PART2_OFFSET
// alignment), write_data_to_file (mmap'd Part1 slot write, pwrite for
// Part2, file_hdr->max++ with a release fence), and read_data_part2
// (one-entry Part2 read cache, pread at data_part2_offset/length).
package logstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

func mustEncodeHeader(w io.Writer, hdr wire.FileHeader) {
	if err := binary.Write(w, binary.LittleEndian, hdr.Magic); err != nil {
		panic(err)
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.StartTime); err != nil {
		panic(err)
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.Max); err != nil {
		panic(err)
	}
}

func decodeHeader(r io.Reader, hdr *wire.FileHeader) error {
	if err := binary.Read(r, binary.LittleEndian, &hdr.Magic); err != nil {
		return fmt.Errorf("logstore: decode header magic: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.StartTime); err != nil {
		return fmt.Errorf("logstore: decode header start_time: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Max); err != nil {
		return fmt.Errorf("logstore: decode header max: %w", err)
	}
	return nil
}

// FatalError marks a programming-invariant violation that terminates the
// process, per spec.md §7: kind, file, and last-known state.
type FatalError struct {
	Kind  string
	File  string
	State string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("logstore: fatal: %s (file=%s state=%s)", e.Kind, e.File, e.State)
}

// LogStore is the memory-mapped dual-region log file: a fixed 4 KiB
// header, a Part1 slot array mmap'd for both writer and readers, and a
// Part2 heap region accessed by positioned read/write.
type LogStore struct {
	path string
	f    *os.File

	headerAndPart1 []byte // mmap'd region covering header + Part1 array
	part2Cursor    int64  // next free byte offset in the Part2 region, writer-only

	startTime int64

	cacheMu   sync.Mutex
	cacheIdx  int
	cacheP2   wire.Part2
	haveCache bool
}

// maxFieldOffset is the byte offset of FileHeader.Max within the
// on-disk/mmap'd header: 8 (Magic) + 8 (StartTime).
const maxFieldOffset = 16

// maxPtr aliases the mmap'd header's max field directly, so every reader
// observes updates through the same shared memory the writer publishes
// to — the Go expression of original_source's mmap'd file_hdr->max
// pointer, per spec.md §9's pointer-aliasing note.
func (ls *LogStore) maxPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&ls.headerAndPart1[maxFieldOffset]))
}

// Create makes a brand-new log file at path (which must not already
// exist, per spec.md §6.2's O_EXCL requirement), writes its header, and
// mmaps the header+Part1 region.
func Create(path string, startTime int64) (*LogStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: create %s: %w", path, err)
	}

	size := wire.Part2Offset()
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("logstore: truncate %s: %w", path, err)
	}

	ls := &LogStore{path: path, f: f, startTime: startTime}
	if err := ls.mmapHeaderAndPart1(int(size)); err != nil {
		f.Close()
		return nil, err
	}
	ls.writeHeader()
	return ls, nil
}

// Open memory-maps an existing log file, validating its header magic and
// max, per spec.md §6.2/§9's pointer-into-mmap-aliasing note.
func Open(path string) (*LogStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}

	part2Region := wire.Part2Offset()
	ls := &LogStore{path: path, f: f}
	if err := ls.mmapHeaderAndPart1(int(part2Region)); err != nil {
		f.Close()
		return nil, err
	}

	hdr, err := ls.readHeader()
	if err != nil {
		ls.Close()
		return nil, err
	}
	if hdr.Magic != wire.MagicFile {
		ls.Close()
		return nil, &FatalError{Kind: "log file magic mismatch", File: path, State: "opening"}
	}
	if hdr.Max > wire.MaxFileDataPart1 {
		ls.Close()
		return nil, &FatalError{Kind: "log file max exceeds slot capacity", File: path, State: fmt.Sprintf("max=%d", hdr.Max)}
	}
	ls.startTime = hdr.StartTime
	ls.part2Cursor = part2Region // Open() is used read-mostly; a Recorder continuing writes must recompute this from the last slot, see Recorder.Resume.
	return ls, nil
}

func (ls *LogStore) mmapHeaderAndPart1(length int) error {
	data, err := unix.Mmap(int(ls.f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("logstore: mmap: %w", err)
	}
	ls.headerAndPart1 = data
	return nil
}

func (ls *LogStore) writeHeader() {
	var buf bytes.Buffer
	hdr := wire.FileHeader{Magic: wire.MagicFile, StartTime: ls.startTime, Max: 0}
	mustEncodeHeader(&buf, hdr)
	copy(ls.headerAndPart1[:wire.FileHeaderSize], buf.Bytes())
}

func (ls *LogStore) readHeader() (wire.FileHeader, error) {
	var hdr wire.FileHeader
	r := bytes.NewReader(ls.headerAndPart1[:wire.FileHeaderSize])
	if err := decodeHeader(r, &hdr); err != nil {
		return wire.FileHeader{}, err
	}
	return hdr, nil
}

// Max returns the number of valid Part1 slots written so far, with
// acquire ordering relative to Writer's release on publish.
func (ls *LogStore) Max() uint32 { return atomic.LoadUint32(ls.maxPtr()) }

// StartTime returns the file's recorded start time.
func (ls *LogStore) StartTime() int64 { return ls.startTime }

// ReadPart1 returns the Part1 record at slot idx, which must be <
// Max(), validating its magic.
func (ls *LogStore) ReadPart1(idx int) (wire.Part1, error) {
	if uint32(idx) >= atomic.LoadUint32(ls.maxPtr()) {
		return wire.Part1{}, fmt.Errorf("logstore: index %d out of range (max=%d)", idx, atomic.LoadUint32(ls.maxPtr()))
	}
	off := wire.FileHeaderSize + idx*wire.Part1Size
	r := bytes.NewReader(ls.headerAndPart1[off : off+wire.Part1Size])
	p1, err := wire.DecodePart1(r)
	if err != nil {
		return wire.Part1{}, &FatalError{Kind: err.Error(), File: ls.path, State: fmt.Sprintf("reading slot %d", idx)}
	}
	return p1, nil
}

// ReadPart2 reads slot idx's Part2 record via a positioned read, using a
// one-entry cache keyed by idx to avoid rereads when the caller stays on
// the same cursor, per spec.md §4.7's read path.
func (ls *LogStore) ReadPart2(idx int, p1 wire.Part1) (wire.Part2, error) {
	ls.cacheMu.Lock()
	defer ls.cacheMu.Unlock()

	if ls.haveCache && ls.cacheIdx == idx {
		return ls.cacheP2, nil
	}

	buf := make([]byte, p1.DataPart2Length)
	if _, err := ls.f.ReadAt(buf, int64(p1.DataPart2Offset)); err != nil {
		return wire.Part2{}, fmt.Errorf("logstore: read part2 at slot %d: %w", idx, err)
	}
	p2, err := wire.DecodePart2(bytes.NewReader(buf), p1.DataPart2Length)
	if err != nil {
		return wire.Part2{}, &FatalError{Kind: err.Error(), File: ls.path, State: fmt.Sprintf("reading part2 for slot %d", idx)}
	}

	ls.cacheIdx = idx
	ls.cacheP2 = p2
	ls.haveCache = true
	return p2, nil
}

// Close unmaps and closes the file.
func (ls *LogStore) Close() error {
	if ls.headerAndPart1 != nil {
		unix.Munmap(ls.headerAndPart1)
	}
	return ls.f.Close()
}

// Recorder owns exclusive append authority over a LogStore, applying
// spec.md §4.7's write path and gap-filling policy.
type Recorder struct {
	ls       *LogStore
	lastTime int64
	haveLast bool
}

// NewRecorder wraps ls for writing. ls must have been just Create()'d (or
// reopened with a correctly recomputed part2Cursor — see Resume).
func NewRecorder(ls *LogStore) *Recorder {
	return &Recorder{ls: ls}
}

// Resume sets the Recorder's expected next time and the LogStore's Part2
// write cursor after reopening a file that already has written slots
// (continuing an interrupted recording session).
func (r *Recorder) Resume(lastTime int64, part2Cursor int64) {
	r.lastTime = lastTime
	r.haveLast = true
	r.ls.part2Cursor = part2Cursor
}

// Write appends one record, enforcing the monotonic-time invariant and
// MAX_FILE_DATA_PART1 bound, per spec.md §4.7. Once the Recorder has
// written at least one record, a record whose time equals lastTime is
// dropped with a warning, and any other time that is not exactly
// lastTime+1 is a fatal programming-invariant violation.
func (r *Recorder) Write(p1 wire.Part1, p2 wire.Part2) error {
	max := atomic.LoadUint32(r.ls.maxPtr())
	if max >= wire.MaxFileDataPart1 {
		return &FatalError{Kind: "log file full", File: r.ls.path, State: fmt.Sprintf("max=%d", max)}
	}
	if r.haveLast && p1.Time == r.lastTime {
		// Idempotence, per spec.md §8: a duplicate record for a time already
		// written is dropped rather than treated as a sequence violation.
		log.Warnf("logstore: dropping duplicate record for time=%d", p1.Time)
		return nil
	}
	if r.haveLast && p1.Time != r.lastTime+1 {
		return &FatalError{
			Kind:  fmt.Sprintf("time sequence violation: got %d, want %d", p1.Time, r.lastTime+1),
			File:  r.ls.path,
			State: fmt.Sprintf("lastTime=%d", r.lastTime),
		}
	}

	if err := r.writeOne(p1, p2); err != nil {
		return err
	}
	r.lastTime = p1.Time
	r.haveLast = true
	return nil
}

// WriteGapFill fills every missing second in [lastTime+1, upTo-1] with a
// synthetic NOVAL record, preserving the monotonic-time invariant across
// a connection loss, per spec.md §4.7's gap-filling rule.
func (r *Recorder) WriteGapFill(upTo int64) error {
	if !r.haveLast {
		return nil
	}
	for t := r.lastTime + 1; t < upTo; t++ {
		p1 := novalPart1(t)
		p2 := wire.Part2{Magic: wire.MagicPart2}
		p1.DataPart2Length = uint32(p2.EncodedLen())
		if err := r.Write(p1, p2); err != nil {
			return err
		}
	}
	return nil
}

func novalPart1(t int64) wire.Part1 {
	noval := sentinel.Of(sentinel.NoValue)
	return wire.Part1{
		Magic:         wire.MagicPart1,
		Time:          t,
		VoltageMeanKV: noval,
		VoltageMinKV:  noval,
		VoltageMaxKV:  noval,
		CurrentMA:     noval,
		PressureD2MT:  noval,
		PressureN2MT:  noval,
	}
}

func (r *Recorder) writeOne(p1 wire.Part1, p2 wire.Part2) error {
	idx := int(atomic.LoadUint32(r.ls.maxPtr()))

	p1.DataPart2Offset = uint64(r.ls.part2Cursor)

	var p1buf bytes.Buffer
	if err := p1.EncodeTo(&p1buf); err != nil {
		return fmt.Errorf("logstore: encode part1: %w", err)
	}
	off := wire.FileHeaderSize + idx*wire.Part1Size
	copy(r.ls.headerAndPart1[off:off+wire.Part1Size], p1buf.Bytes())

	var p2buf bytes.Buffer
	if err := p2.EncodeTo(&p2buf); err != nil {
		return fmt.Errorf("logstore: encode part2: %w", err)
	}
	if _, err := r.ls.f.WriteAt(p2buf.Bytes(), r.ls.part2Cursor); err != nil {
		return fmt.Errorf("logstore: write part2: %w", err)
	}
	r.ls.part2Cursor += int64(p2buf.Len())

	atomic.AddUint32(r.ls.maxPtr(), 1) // release: publishes the slot just written
	return nil
}
