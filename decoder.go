package jpegli

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

// Standard error types for JPEG decoding.
var (
	ErrNoJPEG      = errors.New("not a JPEG file")
	ErrUnsupported = errors.New("unsupported format")
	ErrInternal    = errors.New("internal error")
	ErrSyntax      = errors.New("syntax error")
	// ErrTruncated marks missing entropy-coded data. It is recovered from
	// inside a scan and only shows up in log records.
	ErrTruncated = errors.New("truncated data")
	// ErrRestart marks a missing or out-of-sequence restart marker.
	ErrRestart = errors.New("bad restart marker")
	// ErrState is returned when an entry point is called in a phase that
	// does not accept it.
	ErrState = errors.New("invalid decoder state")
)

// UpsampleMethod defines the algorithm used for chroma upsampling.
type UpsampleMethod int

const (
	// Triangle interpolates linearly between the two nearest source
	// samples (3/4 and 1/4 weights for 2x upsampling).
	Triangle UpsampleMethod = iota
	// NearestNeighbor replicates source samples.
	NearestNeighbor
)

// DefaultBiasObservations is the number of nonzero observations after which
// the dequantization bias of a frequency is frozen.
const DefaultBiasObservations = 16

// Options specifies decoding parameters.
type Options struct {
	// Logger receives marker parsing records at Debug level and recoverable
	// stream corruption at Warn level. Nil means slog.Default().
	Logger *slog.Logger
	// UpsampleMethod defines the algorithm used for chroma upsampling.
	UpsampleMethod UpsampleMethod
	// BiasObservations overrides DefaultBiasObservations when positive.
	BiasObservations int
}

// Status reports the progress of a decoding session.
type Status int

const (
	// StatusNeedMoreInput means the buffered input ends inside a marker
	// segment or entropy-coded segment.
	StatusNeedMoreInput Status = iota
	// StatusScanReady means a scan header was parsed; call DecodeScan.
	StatusScanReady
	// StatusScanInProgress means the current scan has MCUs left.
	StatusScanInProgress
	// StatusScanComplete means a scan finished and more markers follow.
	StatusScanComplete
	// StatusFrameComplete means all coefficients are final; rows can be
	// rendered with RenderRows.
	StatusFrameComplete
	// StatusRowsReady means rows were rendered and more remain.
	StatusRowsReady
	// StatusDone means every output row was rendered.
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusNeedMoreInput:
		return "need more input"
	case StatusScanReady:
		return "scan ready"
	case StatusScanInProgress:
		return "scan in progress"
	case StatusScanComplete:
		return "scan complete"
	case StatusFrameComplete:
		return "frame complete"
	case StatusRowsReady:
		return "rows ready"
	case StatusDone:
		return "done"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// colorTransform is the colour space of the coded components.
type colorTransform int

const (
	transformGray colorTransform = iota
	transformYCbCr
	transformRGB
	transformCMYK
	transformYCCK
	transformNone // two-component frames
)

// frameInfo holds the frame header and its derived geometry.
type frameInfo struct {
	width, height    int
	progressive      bool
	components       []Component
	maxH, maxV       int
	mcuCols, mcuRows int // iMCU grid
}

// phase is the tagged state of a session. Each variant carries exactly the
// fields valid while the session is in it.
type phase interface {
	name() string
}

// startPhase waits for SOI.
type startPhase struct{}

// markerPhase parses marker segments between SOI, scans and EOI.
type markerPhase struct {
	iccIndex, iccTotal int
	iccChunks          []byte
	skipped            int
}

// scanPhase decodes the entropy-coded segment of one scan.
type scanPhase struct {
	markers      *markerPhase
	info         ScanInfo
	dc, ac       [MaxComponents]*huffmanTable
	br           bitReader
	ecsEnd       int
	searched     int // input already scanned for the end of the segment
	mcuRow       int
	mcuCol       int
	lastDC       [MaxComponents]int16
	eobrun       int
	restartsToGo int
	nextRestart  int
	// lostIntervals counts the intervals still to skip after restart
	// markers went missing.
	lostIntervals int
	broken        bool
	truncated     bool
	snapshot      mcuCodingState
	started       bool
}

// renderPhase turns the final coefficients into output rows.
type renderPhase struct {
	r *renderer
}

// endPhase is reached after the last row was rendered.
type endPhase struct{}

// failedPhase is terminal; err is returned by every later call.
type failedPhase struct {
	err error
}

func (*startPhase) name() string  { return "start" }
func (*markerPhase) name() string { return "markers" }
func (*scanPhase) name() string   { return "scan" }
func (*renderPhase) name() string { return "render" }
func (*endPhase) name() string    { return "end" }
func (*failedPhase) name() string { return "failed" }

// Decoder is a JPEG decoding session. Input is fed incrementally with
// FeedMarkerData and Finish; scans are decoded with DecodeScan and output
// rows produced with RenderRows. A Decoder is not safe for concurrent use.
type Decoder struct {
	opts  Options
	log   *slog.Logger
	input []byte
	pos   int
	final bool
	phase phase

	frame           *frameInfo
	quant           [maxQuantTables]QuantTable
	quantDefined    [maxQuantTables]bool
	huff            [2][maxHuffmanTables]*huffmanTable // [0] DC, [1] AC
	restartInterval int
	transform       colorTransform
	jfif            bool
	adobe           bool
	adobeTransform  int
	icc             []byte
	orientation     int
	scanProgression [MaxComponents][BlockSize]uint16
	covered         [MaxComponents]bool
	numScans        int
	img             image.Image
}

// NewDecoder returns a session in its start phase.
func NewDecoder(opts *Options) *Decoder {
	d := &Decoder{}
	for c := range d.huff {
		for i := range d.huff[c] {
			d.huff[c][i] = new(huffmanTable)
		}
	}
	d.Reset(opts)

	return d
}

// Reset clears the session for reuse, preserving the allocated Huffman tables.
func (d *Decoder) Reset(opts *Options) {
	// Save pointers to the tables.
	huff := d.huff
	for c := range huff {
		for i := range huff[c] {
			huff[c][i].defined = false
		}
	}

	// Zero the struct. This clears references (input, coefficients, image) allowing GC.
	*d = Decoder{huff: huff}

	if opts != nil {
		d.opts = *opts
	}

	d.log = d.opts.Logger
	if d.log == nil {
		d.log = slog.Default()
	}

	if d.opts.BiasObservations <= 0 {
		d.opts.BiasObservations = DefaultBiasObservations
	}

	d.phase = &startPhase{}
}

// decoderPool is a pool of sessions to reduce allocation overhead.
var decoderPool = sync.Pool{
	New: func() interface{} {
		return NewDecoder(nil)
	},
}

// fail moves the session to its terminal failed phase.
func (d *Decoder) fail(err error) (Status, error) {
	d.phase = &failedPhase{err: err}

	return StatusNeedMoreInput, err
}

// Err returns the error that ended the session, if any.
func (d *Decoder) Err() error {
	if f, ok := d.phase.(*failedPhase); ok {
		return f.err
	}

	return nil
}

// FeedMarkerData appends p to the buffered input and parses as many marker
// segments as are complete. During a scan the data is only buffered.
func (d *Decoder) FeedMarkerData(p []byte) (Status, error) {
	if d.final && len(p) > 0 {
		return d.fail(fmt.Errorf("input after Finish: %w", ErrState))
	}

	d.input = append(d.input, p...)

	return d.advance()
}

// Finish marks the end of input. Streams that end early become decodable
// on a best effort basis.
func (d *Decoder) Finish() (Status, error) {
	d.final = true

	return d.advance()
}

// advance processes buffered input according to the current phase.
func (d *Decoder) advance() (Status, error) {
	switch p := d.phase.(type) {
	case *failedPhase:
		return StatusNeedMoreInput, p.err
	case *startPhase:
		if len(d.input) < 2 {
			if d.final {
				return d.fail(ErrNoJPEG)
			}

			return StatusNeedMoreInput, nil
		}

		if d.input[0] != 0xFF || d.input[1] != 0xD8 {
			return d.fail(ErrNoJPEG)
		}

		d.pos = 2
		m := &markerPhase{}
		d.phase = m

		return d.processMarkers(m)
	case *markerPhase:
		return d.processMarkers(p)
	case *scanPhase:
		if !p.started {
			return StatusScanReady, nil
		}

		return StatusScanInProgress, nil
	case *renderPhase:
		return StatusFrameComplete, nil
	case *endPhase:
		return StatusDone, nil
	}

	return d.fail(fmt.Errorf("phase %s: %w", d.phase.name(), ErrInternal))
}

// startRender ends coefficient decoding.
func (d *Decoder) startRender() (Status, error) {
	d.phase = &renderPhase{}

	return StatusFrameComplete, nil
}

// Width returns the frame width, or 0 before SOF.
func (d *Decoder) Width() int {
	if d.frame == nil {
		return 0
	}

	return d.frame.width
}

// Height returns the frame height, or 0 before SOF.
func (d *Decoder) Height() int {
	if d.frame == nil {
		return 0
	}

	return d.frame.height
}

// Progressive reports whether the frame is progressive.
func (d *Decoder) Progressive() bool {
	return d.frame != nil && d.frame.progressive
}

// Components returns the frame components and their coefficients. The
// coefficients are final once FrameComplete was reported.
func (d *Decoder) Components() []Component {
	if d.frame == nil {
		return nil
	}

	return d.frame.components
}

// QuantTables returns the defined quantization tables.
func (d *Decoder) QuantTables() []QuantTable {
	var tables []QuantTable
	for i := range d.quant {
		if d.quantDefined[i] {
			tables = append(tables, d.quant[i])
		}
	}

	return tables
}

// RestartInterval returns the restart interval in MCUs, 0 if none.
func (d *Decoder) RestartInterval() int {
	return d.restartInterval
}

// ICCProfile returns the ICC profile reassembled from APP2 chunks.
func (d *Decoder) ICCProfile() []byte {
	return d.icc
}

// Orientation returns the EXIF orientation (1-8), 0 if absent.
func (d *Decoder) Orientation() int {
	return d.orientation
}

// NumScans returns the number of scans decoded so far.
func (d *Decoder) NumScans() int {
	return d.numScans
}

// Image returns the output image once rendering started, nil before.
// It is complete after RenderRows reported StatusDone.
func (d *Decoder) Image() image.Image {
	return d.img
}
