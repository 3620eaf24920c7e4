package jpegli

import (
	"fmt"
	"log/slog"
)

// DecodeScan decodes the next restart interval of the current scan, or the
// next MCU row when the stream has no restart interval. Corrupt or missing
// entropy-coded data is never an error: the affected MCUs keep their
// previous coefficients (zero for first passes) and a warning is logged.
func (d *Decoder) DecodeScan() (Status, error) {
	s, ok := d.phase.(*scanPhase)
	if !ok {
		if f, failed := d.phase.(*failedPhase); failed {
			return StatusNeedMoreInput, f.err
		}

		return StatusNeedMoreInput, fmt.Errorf("DecodeScan in %s phase: %w", d.phase.name(), ErrState)
	}

	if s.ecsEnd < 0 {
		end := findSegmentEnd(d.input, max(d.pos, s.searched))
		if end < 0 {
			if !d.final {
				// Every byte but the last was checked with its successor.
				s.searched = max(d.pos, len(d.input)-1)

				return StatusNeedMoreInput, nil
			}

			end = len(d.input)
		}
		s.ecsEnd = end
	}

	s.started = true
	s.br.data = d.input
	s.br.end = s.ecsEnd

	for !s.done() {
		d.decodeNextMCU(s)

		if d.restartInterval > 0 {
			if s.restartsToGo == 0 {
				break
			}
		} else if s.mcuCol == 0 {
			break
		}
	}

	if s.done() {
		return d.finishScan(s)
	}

	return StatusScanInProgress, nil
}

func (s *scanPhase) done() bool {
	return s.mcuRow >= s.info.MCURows
}

// decodeNextMCU decodes the MCU at the cursor and advances it, handling the
// restart marker that precedes the MCU.
func (d *Decoder) decodeNextMCU(s *scanPhase) {
	if d.restartInterval > 0 && s.restartsToGo == 0 {
		d.handleRestart(s)
	}

	if !s.broken && !s.truncated {
		d.save(s)
		if err := d.decodeMCU(s); err != nil {
			d.restore(s)

			attrs := []any{
				slog.Int("mcu_row", s.mcuRow),
				slog.Int("mcu_col", s.mcuCol),
				slog.Any("err", err),
			}

			if d.restartInterval > 0 {
				s.broken = true
				d.log.Warn("jpegli: skipping rest of restart interval", attrs...)
			} else {
				s.truncated = true
				d.log.Warn("jpegli: skipping rest of scan", attrs...)
			}
		}
	}

	s.mcuCol++
	if s.mcuCol == s.info.MCUCols {
		s.mcuCol = 0
		s.mcuRow++
	}

	if d.restartInterval > 0 {
		s.restartsToGo--
	}
}

// handleRestart consumes the restart marker that ends an interval and
// resets the prediction state. A marker one or two ahead of the expected
// one means the markers in between were lost: the intervals they started
// are skipped and the data after the marker is decoded at its own
// position. Any other mismatch renumbers the sequence. A missing marker
// ends the scan.
func (d *Decoder) handleRestart(s *scanPhase) {
	s.restartsToGo = d.restartInterval
	s.lastDC = [MaxComponents]int16{}
	s.broken = false

	if s.truncated {
		return
	}

	if s.eobrun > 0 {
		d.log.Warn("jpegli: EOB run crosses restart marker", slog.Int("eobrun", s.eobrun))
	}
	s.eobrun = 0

	if s.lostIntervals > 0 {
		// The marker starting a later interval was consumed already.
		s.lostIntervals--
		s.broken = s.lostIntervals > 0

		return
	}

	n, ok := s.br.restart()
	if !ok {
		s.truncated = true
		d.log.Warn("jpegli: skipping rest of scan",
			slog.Int("mcu_row", s.mcuRow),
			slog.Int("mcu_col", s.mcuCol),
			slog.Any("err", fmt.Errorf("RST%d missing: %w", s.nextRestart, ErrRestart)),
		)

		return
	}

	if skip := (n - s.nextRestart) & 7; skip == 1 || skip == 2 {
		s.lostIntervals = skip
		s.broken = true
		d.log.Warn("jpegli: restart markers missing, skipping intervals",
			slog.Int("found", n),
			slog.Int("expected", s.nextRestart),
			slog.Int("intervals", skip),
			slog.Any("err", ErrRestart),
		)
	} else if skip != 0 {
		d.log.Warn("jpegli: restart marker out of sequence",
			slog.Int("found", n),
			slog.Int("expected", s.nextRestart),
			slog.Any("err", ErrRestart),
		)
	}

	s.nextRestart = (n + 1) & 7
}

// finishScan leaves the entropy-coded segment and picks the next phase.
func (d *Decoder) finishScan(s *scanPhase) (Status, error) {
	if s.eobrun > 0 {
		d.log.Warn("jpegli: EOB run past end of scan", slog.Int("eobrun", s.eobrun))
	}

	d.pos = s.br.finish()
	d.numScans++

	f := d.frame
	if !f.progressive {
		for _, sc := range s.info.Components {
			d.covered[sc.CompIdx] = true
		}

		all := true
		for i := range f.components {
			all = all && d.covered[i]
		}

		if all {
			return d.startRender()
		}
	}

	d.phase = s.markers

	return StatusScanComplete, nil
}

// forEachBlock calls fn for every block of the MCU at the cursor, in coding
// order, with the index of its scan component.
func (d *Decoder) forEachBlock(s *scanPhase, fn func(i int, block []int16) error) error {
	for i, sc := range s.info.Components {
		c := &d.frame.components[sc.CompIdx]
		for iy := 0; iy < sc.MCUYSizeBlocks; iy++ {
			by := s.mcuRow*sc.MCUYSizeBlocks + iy
			for ix := 0; ix < sc.MCUXSizeBlocks; ix++ {
				bx := s.mcuCol*sc.MCUXSizeBlocks + ix
				if err := fn(i, c.Block(bx, by)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// save snapshots the coding state and the coefficients of the MCU at the cursor.
func (d *Decoder) save(s *scanPhase) {
	s.snapshot.lastDC = s.lastDC
	s.snapshot.eobrun = s.eobrun

	off := 0
	_ = d.forEachBlock(s, func(_ int, block []int16) error {
		copy(s.snapshot.coeffs[off:off+BlockSize], block)
		off += BlockSize

		return nil
	})
}

// restore rolls the MCU at the cursor back to its snapshot.
func (d *Decoder) restore(s *scanPhase) {
	s.lastDC = s.snapshot.lastDC
	s.eobrun = s.snapshot.eobrun

	off := 0
	_ = d.forEachBlock(s, func(_ int, block []int16) error {
		copy(block, s.snapshot.coeffs[off:off+BlockSize])
		off += BlockSize

		return nil
	})
}

// decodeMCU decodes every block of the MCU at the cursor.
func (d *Decoder) decodeMCU(s *scanPhase) (err error) {
	defer recoverDecode(&err)

	refine := s.info.Ah != 0

	return d.forEachBlock(s, func(i int, block []int16) error {
		if refine {
			refineBlock(s, &s.br, i, block)
		} else {
			decodeBlockFirst(s, &s.br, i, block)
		}

		return nil
	})
}

// readSymbol decodes a Huffman symbol or aborts the MCU.
func readSymbol(src entropySource, t *huffmanTable) int {
	v, ok := src.symbol(t)
	if !ok {
		panic(errDecode{src.failure()})
	}

	return v
}

// readBits reads n raw bits or aborts the MCU.
func readBits(src entropySource, n int) int {
	v, ok := src.bits(n)
	if !ok {
		panic(errDecode{src.failure()})
	}

	return v
}

// shiftCoeff scales a decoded value by 2^al, aborting on int16 overflow.
func shiftCoeff(v, al int) int16 {
	v *= 1 << al
	if v < -32768 || v > 32767 {
		panic(errDecode{fmt.Errorf("coefficient %d out of range: %w", v, ErrSyntax)})
	}

	return int16(v)
}

// decodeBlockFirst decodes a sequential block or the first pass of a
// progressive band: DC difference, then AC run/size symbols with EOB runs.
func decodeBlockFirst(s *scanPhase, src entropySource, i int, block []int16) {
	info := &s.info
	k := info.Ss

	if k == 0 {
		sym := readSymbol(src, s.dc[i])
		if sym >= dcAlphabetSize {
			panic(errDecode{fmt.Errorf("DC symbol %d: %w", sym, ErrSyntax)})
		}

		diff := 0
		if sym > 0 {
			diff = huffExtend(readBits(src, sym), sym)
		}

		v := int(s.lastDC[i]) + diff
		if v < -32768 || v > 32767 {
			panic(errDecode{fmt.Errorf("DC value %d out of range: %w", v, ErrSyntax)})
		}

		s.lastDC[i] = int16(v)
		block[0] = shiftCoeff(v, info.Al)
		k = 1
	}

	if k > info.Se {
		return
	}

	if s.eobrun > 0 {
		s.eobrun--

		return
	}

	for ; k <= info.Se; k++ {
		sym := readSymbol(src, s.ac[i])
		r, size := sym>>4, sym&15

		if size == 0 {
			if r == 15 {
				// ZRL: sixteen zeros.
				k += 15

				continue
			}

			if r > 0 && info.Ss == 0 {
				panic(errDecode{fmt.Errorf("EOB run in sequential scan: %w", ErrSyntax)})
			}

			run := 1 << r
			if r > 0 {
				run += readBits(src, r)
			}
			s.eobrun = run - 1

			return
		}

		k += r
		if k > info.Se {
			panic(errDecode{fmt.Errorf("coefficient index %d past band end %d: %w", k, info.Se, ErrSyntax)})
		}

		block[naturalOrder[k]] = shiftCoeff(huffExtend(readBits(src, size), size), info.Al)
	}
}

// refineBlock decodes one successive approximation refinement pass: a
// correction bit for the DC, or newly nonzero AC coefficients interleaved
// with correction bits for the already nonzero ones.
func refineBlock(s *scanPhase, src entropySource, i int, block []int16) {
	info := &s.info
	k := info.Ss

	if k == 0 {
		if readBits(src, 1) != 0 {
			block[0] |= int16(1 << info.Al)
		}
		k = 1
	}

	if k > info.Se {
		return
	}

	p1 := int16(1) << info.Al
	m1 := int16(-1) << info.Al

	if s.eobrun <= 0 {
		for ; k <= info.Se; k++ {
			sym := readSymbol(src, s.ac[i])
			r, size := sym>>4, sym&15

			var val int16
			if size != 0 {
				if size != 1 {
					panic(errDecode{fmt.Errorf("refinement AC size %d: %w", size, ErrSyntax)})
				}

				if readBits(src, 1) != 0 {
					val = p1
				} else {
					val = m1
				}
			} else if r != 15 {
				s.eobrun = 1 << r
				if r > 0 {
					s.eobrun += readBits(src, r)
				}

				break
			}

			// Skip r zero-history coefficients, adding correction bits to
			// the nonzero ones passed on the way.
			for ; k <= info.Se; k++ {
				pos := naturalOrder[k]
				if block[pos] != 0 {
					refineCoeff(src, &block[pos], p1, m1)
				} else {
					if r == 0 {
						break
					}
					r--
				}
			}

			if val != 0 {
				if k > info.Se {
					panic(errDecode{fmt.Errorf("refinement index past band end %d: %w", info.Se, ErrSyntax)})
				}

				block[naturalOrder[k]] = val
			}
		}
	}

	if s.eobrun > 0 {
		// Inside an EOB run only correction bits remain.
		for ; k <= info.Se; k++ {
			pos := naturalOrder[k]
			if block[pos] != 0 {
				refineCoeff(src, &block[pos], p1, m1)
			}
		}
		s.eobrun--
	}
}

// refineCoeff applies one correction bit to a nonzero coefficient, moving
// it away from zero.
func refineCoeff(src entropySource, coef *int16, p1, m1 int16) {
	if readBits(src, 1) == 0 {
		return
	}

	if *coef&p1 != 0 {
		return
	}

	if *coef >= 0 {
		*coef += p1
	} else {
		*coef += m1
	}
}
