package analyzer

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/video"
)

// FFmpegAnnotator writes processed frames, with detection boxes burned
// in, through an ffmpeg encode pipe. The encoder starts lazily on the
// first frame once dimensions are known. MJPEG keeps the encode cheap;
// the analyzer's converter step produces the H.264 artifact afterwards.
type FFmpegAnnotator struct {
	FFmpegPath string
	OutPath    string
	FPS        float64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames int
	width  int
	height int
}

func (a *FFmpegAnnotator) start(width, height int) error {
	path := a.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	fps := a.FPS
	if fps <= 0 {
		fps = 4
	}

	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%g", fps),
		"-i", "-",
		"-vcodec", "mjpeg",
		"-q:v", "4",
		"-y", a.OutPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("annotator stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start annotator encoder: %w", err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.width = width
	a.height = height
	return nil
}

// WriteFrame burns the detection boxes into a copy of the frame and
// feeds it to the encoder.
func (a *FFmpegAnnotator) WriteFrame(frame video.Frame, dets []detect.TrackedDetection) error {
	if a.cmd == nil {
		if err := a.start(frame.Width, frame.Height); err != nil {
			return err
		}
	}
	if frame.Width != a.width || frame.Height != a.height {
		return fmt.Errorf("frame size changed mid-stream: %dx%d -> %dx%d",
			a.width, a.height, frame.Width, frame.Height)
	}

	annotated := video.Frame{
		Pix:    append([]byte(nil), frame.Pix...),
		Width:  frame.Width,
		Height: frame.Height,
	}
	for _, d := range dets {
		video.DrawBox(annotated,
			int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2),
			0x2e, 0xcc, 0x40)
	}

	if _, err := a.stdin.Write(annotated.Pix); err != nil {
		return fmt.Errorf("write annotated frame: %w", err)
	}
	a.frames++
	return nil
}

// Close finishes the encode and reports the artifact location.
func (a *FFmpegAnnotator) Close() (int, string, error) {
	if a.cmd == nil {
		return 0, "", nil
	}
	a.stdin.Close()
	if err := a.cmd.Wait(); err != nil {
		return a.frames, "", fmt.Errorf("annotator encoder: %v", err)
	}
	return a.frames, a.OutPath, nil
}

// AnnotatedName derives the artifact filename for an upload, replacing
// its extension.
func AnnotatedName(uploadName, ext string) string {
	base := uploadName
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "analysis"
	}
	return "annotated_" + base + ext
}
