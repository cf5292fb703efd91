package video

// DrawBox draws a rectangle outline on the frame in place. Coordinates
// are clamped to the frame bounds; the outline is two pixels thick so it
// stays visible after downscaling.
func DrawBox(f Frame, x1, y1, x2, y2 int, r, g, b byte) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	x1 = clampInt(x1, 0, f.Width-1)
	x2 = clampInt(x2, 0, f.Width-1)
	y1 = clampInt(y1, 0, f.Height-1)
	y2 = clampInt(y2, 0, f.Height-1)

	for t := 0; t < 2; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(f, x, clampInt(y1+t, 0, f.Height-1), r, g, b)
			setPixel(f, x, clampInt(y2-t, 0, f.Height-1), r, g, b)
		}
		for y := y1; y <= y2; y++ {
			setPixel(f, clampInt(x1+t, 0, f.Width-1), y, r, g, b)
			setPixel(f, clampInt(x2-t, 0, f.Width-1), y, r, g, b)
		}
	}
}

func setPixel(f Frame, x, y int, r, g, b byte) {
	i := (y*f.Width + x) * 3
	if i < 0 || i+2 >= len(f.Pix) {
		return
	}
	f.Pix[i+0] = r
	f.Pix[i+1] = g
	f.Pix[i+2] = b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
