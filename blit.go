package capture

// yuvColor is a color in the BT.601 limited range used by the canvas.
type yuvColor struct {
	y, u, v uint8
}

// yuvBlack is the canvas clear color.
var yuvBlack = yuvColor{y: 16, u: 128, v: 128}

// rgbToYUV converts RGB to YUV (BT.601).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clamp(yf, 16, 235))
	u = uint8(clamp(uf, 16, 240))
	v = uint8(clamp(vf, 16, 240))
	return
}

func yuvFromRGB(c RGBColor) yuvColor {
	y, u, v := rgbToYUV(c.R, c.G, c.B)
	return yuvColor{y: y, u: u, v: v}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// clearI420 fills an entire I420 frame with a solid color.
func clearI420(f *VideoFrame, c yuvColor) {
	for i := range f.Data[0] {
		f.Data[0][i] = c.y
	}
	for i := range f.Data[1] {
		f.Data[1][i] = c.u
	}
	for i := range f.Data[2] {
		f.Data[2][i] = c.v
	}
}

// drawScaled scales src into the destination rectangle (dx, dy, dw, dh) of
// dst. ScaleModeFit centers the aspect-correct image inside the rectangle
// and leaves the rest of the canvas untouched; ScaleModeFill crops the
// source to cover the rectangle exactly.
//
// The destination rectangle is clipped to the canvas and aligned to even
// coordinates for chroma subsampling.
func drawScaled(dst *VideoFrame, dx, dy, dw, dh int, src *VideoFrame, mode ScaleMode) {
	if src == nil || src.Format != PixelFormatI420 || dst.Format != PixelFormatI420 {
		return
	}

	// Fit: shrink the target rect to the aspect-correct size, centered.
	if mode == ScaleModeFit {
		w, h := CalculateScaledSize(src.Width, src.Height, dw, dh, ScaleModeFit)
		dx += (dw - w) / 2
		dy += (dh - h) / 2
		dw, dh = w, h
		mode = ScaleModeStretch
	}

	dx &^= 1
	dy &^= 1
	dw &^= 1
	dh &^= 1

	// Clip to canvas
	if dx < 0 {
		dw += dx
		dx = 0
	}
	if dy < 0 {
		dh += dy
		dy = 0
	}
	if dx+dw > dst.Width {
		dw = (dst.Width - dx) &^ 1
	}
	if dy+dh > dst.Height {
		dh = (dst.Height - dy) &^ 1
	}
	if dw <= 0 || dh <= 0 {
		return
	}

	srcX, srcY, srcW, srcH := sourceRegion(src.Width, src.Height, dw, dh, mode)

	bilinearScalePlane(src.Data[0], src.Stride[0], srcX, srcY, srcW, srcH,
		dst.Data[0], dy*dst.Stride[0]+dx, dst.Stride[0], dw, dh)
	bilinearScalePlane(src.Data[1], src.Stride[1], srcX/2, srcY/2, srcW/2, srcH/2,
		dst.Data[1], (dy/2)*dst.Stride[1]+dx/2, dst.Stride[1], dw/2, dh/2)
	bilinearScalePlane(src.Data[2], src.Stride[2], srcX/2, srcY/2, srcW/2, srcH/2,
		dst.Data[2], (dy/2)*dst.Stride[2]+dx/2, dst.Stride[2], dw/2, dh/2)
}

// bubbleInnerSize returns the side length of the bubble's inner content
// area after the border inset. Border width is capped so the content never
// collapses.
func bubbleInnerSize(style BubbleStyle) int {
	bw := style.BorderWidth
	if bw < 0 {
		bw = 0
	}
	if bw > style.Size/2-1 {
		bw = style.Size/2 - 1
	}
	inner := (style.Size - 2*bw) &^ 1
	if inner < 2 {
		inner = 2
	}
	return inner
}

// roundedCornerRadius is the corner radius used for rounded bubbles,
// derived from the bubble size.
func roundedCornerRadius(size int) int {
	return size / 8
}

// insideShape reports whether the point (x, y), relative to the bubble's
// bounding box, lies inside the bubble shape inset by the given amount.
// Inset 0 tests the outer border outline; inset = border width tests the
// inner content area.
func insideShape(shape BubbleShape, x, y, size, inset int) bool {
	if x < inset || y < inset || x >= size-inset || y >= size-inset {
		return false
	}

	switch shape {
	case BubbleShapeCircle:
		r := size/2 - inset
		dx := x - size/2
		dy := y - size/2
		return dx*dx+dy*dy <= r*r

	case BubbleShapeRounded:
		r := roundedCornerRadius(size) - inset
		if r <= 0 {
			return true
		}
		lo := inset + r
		hi := size - inset - r - 1
		cx, cy := x, y
		if x < lo {
			cx = lo
		} else if x > hi {
			cx = hi
		}
		if y < lo {
			cy = lo
		} else if y > hi {
			cy = hi
		}
		dx := x - cx
		dy := y - cy
		return dx*dx+dy*dy <= r*r

	default: // BubbleShapeSquare
		return true
	}
}

// drawBubble renders the bordered webcam bubble onto the canvas. The inner
// frame must already be cover-scaled to bubbleInnerSize(style) square; see
// CompositeRenderer. Pixels outside the outer shape are left untouched so
// the underlying layer shows through.
func drawBubble(dst *VideoFrame, inner *VideoFrame, style BubbleStyle) {
	bx, by, size, _ := style.Bounds(dst.Width, dst.Height)
	border := yuvFromRGB(style.BorderColor)
	inset := (size - inner.Width) / 2

	yPlane := dst.Data[0]
	uPlane := dst.Data[1]
	vPlane := dst.Data[2]
	yStride := dst.Stride[0]
	uvStride := dst.Stride[1]

	for y := 0; y < size; y++ {
		cy := by + y
		if cy < 0 || cy >= dst.Height {
			continue
		}
		for x := 0; x < size; x++ {
			cx := bx + x
			if cx < 0 || cx >= dst.Width {
				continue
			}
			if !insideShape(style.Shape, x, y, size, 0) {
				continue
			}

			var py, pu, pv uint8
			ix := x - inset
			iy := y - inset
			if insideShape(style.Shape, x, y, size, inset) &&
				ix >= 0 && iy >= 0 && ix < inner.Width && iy < inner.Height {
				py = inner.Data[0][iy*inner.Stride[0]+ix]
				pu = inner.Data[1][(iy/2)*inner.Stride[1]+ix/2]
				pv = inner.Data[2][(iy/2)*inner.Stride[2]+ix/2]
			} else {
				py = border.y
				pu = border.u
				pv = border.v
			}

			yPlane[cy*yStride+cx] = py
			if cx%2 == 0 && cy%2 == 0 {
				uvIdx := (cy/2)*uvStride + cx/2
				uPlane[uvIdx] = pu
				vPlane[uvIdx] = pv
			}
		}
	}
}
