package video

import (
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/banshee-data/greenwave.report/internal/monitoring"
)

// FFmpegOpener opens capture sources by spawning an ffmpeg process that
// decodes to a raw RGB24 pipe. Binary paths are injected from
// configuration rather than probed from fixed filesystem locations.
type FFmpegOpener struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegOpener creates an opener using the given binary paths; empty
// paths fall back to PATH lookup.
func NewFFmpegOpener(ffmpegPath, ffprobePath string) *FFmpegOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegOpener{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Open probes the source and starts the decode pipe. A bare integer
// source selects the corresponding V4L2 camera device.
func (o *FFmpegOpener) Open(source string) (FrameSource, error) {
	input := source
	var inputArgs []string
	if isDigits(source) {
		input = "/dev/video" + source
		inputArgs = []string{"-f", "v4l2"}
	}

	info, err := o.probe(input, inputArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, inputArgs...)
	args = append(args,
		"-i", input,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	cmd := exec.Command(o.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	return &ffmpegSource{
		cmd:    cmd,
		stdout: stdout,
		width:  info.width,
		height: info.height,
		fps:    info.fps,
	}, nil
}

type probeInfo struct {
	width  int
	height int
	fps    float64
}

func (o *FFmpegOpener) probe(input string, inputArgs []string) (probeInfo, error) {
	args := append([]string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-of", "json",
	}, inputArgs...)
	args = append(args, input)

	out, err := exec.Command(o.FFprobePath, args...).Output()
	if err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe %s: %v", input, err)
	}

	var parsed struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			FrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return probeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return probeInfo{}, fmt.Errorf("no video stream in %s", input)
	}

	s := parsed.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return probeInfo{}, fmt.Errorf("invalid dimensions %dx%d", s.Width, s.Height)
	}
	return probeInfo{width: s.Width, height: s.Height, fps: parseFrameRate(s.FrameRate)}, nil
}

// parseFrameRate parses an ffprobe rational like "30000/1001". Unparseable
// or degenerate rates fall back to 1 fps so bucket math stays defined.
func parseFrameRate(r string) float64 {
	num, den := r, "1"
	if i := strings.IndexByte(r, '/'); i >= 0 {
		num, den = r[:i], r[i+1:]
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n <= 0 {
		return 1.0
	}
	return n / d
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	width  int
	height int
	fps    float64
	buf    []byte
}

func (s *ffmpegSource) frameSize() int { return s.width * s.height * 3 }

func (s *ffmpegSource) Next() (Frame, error) {
	pix := make([]byte, s.frameSize())
	if _, err := io.ReadFull(s.stdout, pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return Frame{}, err
	}
	return Frame{Pix: pix, Width: s.width, Height: s.height}, nil
}

// Skip discards one frame from the pipe into a reused scratch buffer.
func (s *ffmpegSource) Skip() error {
	if s.buf == nil {
		s.buf = make([]byte, s.frameSize())
	}
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return err
	}
	return nil
}

func (s *ffmpegSource) FPS() float64 { return s.fps }

func (s *ffmpegSource) Close() error {
	s.stdout.Close()
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			monitoring.Logf("failed to kill ffmpeg process: %v", err)
		}
	}
	// Wait reaps the process; the kill error above already covers failures.
	_ = s.cmd.Wait()
	return nil
}

// FFmpegConverter transcodes artifacts with the injected ffmpeg binary.
type FFmpegConverter struct {
	Path string
}

// Convert transcodes srcPath into an H.264 dstPath.
func (c *FFmpegConverter) Convert(srcPath, dstPath string) error {
	path := c.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.Command(path, "-y", "-i", srcPath, "-vcodec", "libx264", "-crf", "18", dstPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("convert %s: %v: %s", srcPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
