package cli

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gen2brain/jpegli"
	"github.com/klauspost/compress/zstd"
)

// dumpMagic starts every coefficient dump.
var dumpMagic = [8]byte{'J', 'P', 'G', 'L', 'C', 'O', 'E', 'F'}

const (
	dumpVersion = 1
	// maxDumpBlocks bounds a component's block grid on each axis.
	maxDumpBlocks = 8192
	maxICCSize    = 16 << 20
)

var errBadDump = errors.New("invalid coefficient dump")

type dumpHeader struct {
	Magic           [8]byte
	Version         uint16
	Width, Height   uint16
	Progressive     uint8
	Orientation     uint8
	NumTables       uint8
	NumComponents   uint8
	RestartInterval uint16
	ICCSize         uint32
}

type dumpTable struct {
	Index  uint8
	Values [jpegli.BlockSize]uint16
}

type dumpComponent struct {
	ID                            uint8
	HSampFactor, VSampFactor      uint8
	QuantIdx                      uint8
	WidthInBlocks, HeightInBlocks uint32
}

// WriteCoefficientDump writes c to w as a zstd-compressed little-endian
// dump: header, quant tables, ICC profile, then each component header
// followed by its coefficients.
func WriteCoefficientDump(w io.Writer, c *jpegli.Coefficients) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("zstd encode: %w", err)
	}

	progressive := uint8(0)
	if c.Progressive {
		progressive = 1
	}

	hdr := dumpHeader{
		Magic:           dumpMagic,
		Version:         dumpVersion,
		Width:           uint16(c.Width),
		Height:          uint16(c.Height),
		Progressive:     progressive,
		Orientation:     uint8(c.Orientation),
		NumTables:       uint8(len(c.QuantTables)),
		NumComponents:   uint8(len(c.Components)),
		RestartInterval: uint16(c.RestartInterval),
		ICCSize:         uint32(len(c.ICCProfile)),
	}

	write := func(v any) {
		if err == nil {
			err = binary.Write(enc, binary.LittleEndian, v)
		}
	}

	write(&hdr)
	for _, t := range c.QuantTables {
		dt := dumpTable{Index: uint8(t.Index)}
		for k, v := range t.Values {
			dt.Values[k] = uint16(v)
		}
		write(&dt)
	}

	if len(c.ICCProfile) > 0 {
		write(c.ICCProfile)
	}

	for _, comp := range c.Components {
		write(&dumpComponent{
			ID:             uint8(comp.ID),
			HSampFactor:    uint8(comp.HSampFactor),
			VSampFactor:    uint8(comp.VSampFactor),
			QuantIdx:       uint8(comp.QuantIdx),
			WidthInBlocks:  uint32(comp.WidthInBlocks),
			HeightInBlocks: uint32(comp.HeightInBlocks),
		})
		write(comp.Coeffs)
	}

	if err != nil {
		_ = enc.Close()

		return fmt.Errorf("zstd encode: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd encode: %w", err)
	}

	return nil
}

// ReadCoefficientDump reads a dump written by WriteCoefficientDump.
func ReadCoefficientDump(r io.Reader) (*jpegli.Coefficients, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	defer dec.Close()

	var hdr dumpHeader
	if err := binary.Read(dec, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if hdr.Magic != dumpMagic || hdr.Version != dumpVersion {
		return nil, fmt.Errorf("magic %q version %d: %w", hdr.Magic[:], hdr.Version, errBadDump)
	}

	if hdr.NumComponents < 1 || hdr.NumComponents > jpegli.MaxComponents || hdr.NumTables > 4 || hdr.ICCSize > maxICCSize {
		return nil, fmt.Errorf("%d components, %d tables, %d byte profile: %w",
			hdr.NumComponents, hdr.NumTables, hdr.ICCSize, errBadDump)
	}

	c := &jpegli.Coefficients{
		Width:           int(hdr.Width),
		Height:          int(hdr.Height),
		Progressive:     hdr.Progressive != 0,
		RestartInterval: int(hdr.RestartInterval),
		Orientation:     int(hdr.Orientation),
		QuantTables:     make([]jpegli.QuantTable, hdr.NumTables),
		Components:      make([]jpegli.Component, hdr.NumComponents),
	}

	for i := range c.QuantTables {
		var dt dumpTable
		if err := binary.Read(dec, binary.LittleEndian, &dt); err != nil {
			return nil, fmt.Errorf("read quant table %d: %w", i, err)
		}

		c.QuantTables[i].Index = int(dt.Index)
		for k, v := range dt.Values {
			c.QuantTables[i].Values[k] = int32(v)
		}
	}

	if hdr.ICCSize > 0 {
		c.ICCProfile = make([]byte, hdr.ICCSize)
		if _, err := io.ReadFull(dec, c.ICCProfile); err != nil {
			return nil, fmt.Errorf("read ICC profile: %w", err)
		}
	}

	for i := range c.Components {
		var dc dumpComponent
		if err := binary.Read(dec, binary.LittleEndian, &dc); err != nil {
			return nil, fmt.Errorf("read component %d: %w", i, err)
		}

		if dc.WidthInBlocks > maxDumpBlocks || dc.HeightInBlocks > maxDumpBlocks {
			return nil, fmt.Errorf("component %d has %dx%d blocks: %w", i, dc.WidthInBlocks, dc.HeightInBlocks, errBadDump)
		}

		comp := jpegli.NewComponent(int(dc.ID), int(dc.HSampFactor), int(dc.VSampFactor), int(dc.QuantIdx),
			int(dc.WidthInBlocks), int(dc.HeightInBlocks))
		if err := binary.Read(dec, binary.LittleEndian, comp.Coeffs); err != nil {
			return nil, fmt.Errorf("read component %d coefficients: %w", i, err)
		}
		c.Components[i] = comp
	}

	return c, nil
}
