// Package video defines the capture and artifact boundaries: frame
// sources, the external decoder/converter binaries, and image helpers.
// Video decoding itself is delegated to an ffmpeg process; this package
// only frames the pipe.
package video

import (
	"errors"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// ErrSourceUnavailable reports that a capture source could not be opened.
var ErrSourceUnavailable = errors.New("capture source unavailable")

// Frame is one decoded video frame in packed RGB24 layout.
type Frame struct {
	Pix    []byte // len = Width*Height*3, row-major RGB
	Width  int
	Height int
}

// Image converts the frame to an image.Image for encoding or annotation.
func (f Frame) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Width * 3
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst+0] = f.Pix[src+0]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}

// FrameFromImage converts an image to a packed RGB24 frame.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	f := Frame{
		Pix:    make([]byte, b.Dx()*b.Dy()*3),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Pix[i+0] = byte(r >> 8)
			f.Pix[i+1] = byte(g >> 8)
			f.Pix[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return f
}

// FrameSource yields decoded frames from one capture source. Next returns
// io.EOF when the source is exhausted; Skip advances one frame without
// handing it to the caller so subsampled analysis keeps its frame-index
// accounting without paying for a decode on our side of the pipe.
type FrameSource interface {
	Next() (Frame, error)
	Skip() error
	FPS() float64
	Close() error
}

// Opener opens capture sources. Implementations decide how a source
// string (camera index, file path, RTSP/HTTP URL) maps to a FrameSource.
type Opener interface {
	Open(source string) (FrameSource, error)
}

// Converter transcodes a finished artifact (for example MJPEG AVI to
// H.264 MP4). Conversion failures are reported explicitly and are always
// non-fatal to the analysis that produced the artifact.
type Converter interface {
	Convert(srcPath, dstPath string) error
}

// DecodeImage decodes an uploaded image and bounds its longest side to
// maxSide, preserving aspect ratio. Images already within bounds are
// returned as decoded.
func DecodeImage(r io.Reader, maxSide int) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		return imaging.Fit(img, maxSide, maxSide, imaging.Linear), nil
	}
	return img, nil
}

// ResizeFrame bounds a frame's longest side to maxSide, preserving aspect
// ratio. Frames already within bounds are returned unchanged.
func ResizeFrame(f Frame, maxSide int) Frame {
	if maxSide <= 0 || (f.Width <= maxSide && f.Height <= maxSide) {
		return f
	}
	resized := imaging.Fit(f.Image(), maxSide, maxSide, imaging.Linear)
	return FrameFromImage(resized)
}
