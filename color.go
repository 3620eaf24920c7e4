package jpegli

import "image"

// clampSample level-shifts a centred sample and rounds it to 8 bits.
func clampSample(v float32) uint8 {
	v += 128.5
	if v <= 0 {
		return 0
	}

	if v >= 255 {
		return 255
	}

	return uint8(v)
}

// clampByte rounds an uncentred value to 8 bits.
func clampByte(v float32) uint8 {
	return clampSample(v - 128)
}

// ycbcrToRGB converts centred JFIF YCbCr samples to uncentred RGB.
func ycbcrToRGB(y, cb, cr float32) (r, g, b float32) {
	y += 128
	r = y + 1.402*cr
	g = y - 0.344136*cb - 0.714136*cr
	b = y + 1.772*cb

	return r, g, b
}

// newOutputImage allocates the image type matching the colour transform.
func newOutputImage(t colorTransform, width, height int) image.Image {
	rect := image.Rect(0, 0, width, height)
	switch t {
	case transformGray:
		return image.NewGray(rect)
	case transformCMYK, transformYCCK:
		return image.NewCMYK(rect)
	default:
		return image.NewRGBA(rect)
	}
}

// convertRow writes output row y of img from the upsampled component rows.
// Adobe CMYK and YCCK are stored inverted.
func convertRow(img image.Image, t colorTransform, adobe bool, y int, rows [MaxComponents][]float32) {
	switch dst := img.(type) {
	case *image.Gray:
		pix := dst.Pix[y*dst.Stride : y*dst.Stride+dst.Rect.Dx()]
		for x := range pix {
			pix[x] = clampSample(rows[0][x])
		}
	case *image.RGBA:
		width := dst.Rect.Dx()
		pix := dst.Pix[y*dst.Stride : y*dst.Stride+4*width]
		c0, c1, c2 := rows[0][:width], rows[1][:width], rows[2][:width]
		for x := 0; x < width; x++ {
			p := pix[4*x : 4*x+4 : 4*x+4]
			if t == transformRGB {
				p[0], p[1], p[2] = clampSample(c0[x]), clampSample(c1[x]), clampSample(c2[x])
			} else {
				r, g, b := ycbcrToRGB(c0[x], c1[x], c2[x])
				p[0], p[1], p[2] = clampByte(r), clampByte(g), clampByte(b)
			}
			p[3] = 0xFF
		}
	case *image.CMYK:
		width := dst.Rect.Dx()
		pix := dst.Pix[y*dst.Stride : y*dst.Stride+4*width]
		c0, c1, c2, c3 := rows[0][:width], rows[1][:width], rows[2][:width], rows[3][:width]
		for x := 0; x < width; x++ {
			p := pix[4*x : 4*x+4 : 4*x+4]
			if t == transformYCCK {
				// YCC gives inverted CMY; K is inverted as stored.
				r, g, b := ycbcrToRGB(c0[x], c1[x], c2[x])
				p[0], p[1], p[2] = clampByte(255-r), clampByte(255-g), clampByte(255-b)
				p[3] = 255 - clampSample(c3[x])

				continue
			}

			p[0], p[1], p[2], p[3] = clampSample(c0[x]), clampSample(c1[x]), clampSample(c2[x]), clampSample(c3[x])
			if adobe {
				p[0], p[1], p[2], p[3] = 255-p[0], 255-p[1], 255-p[2], 255-p[3]
			}
		}
	}
}
