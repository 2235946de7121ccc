package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
)

// FFmpegSourceConfig describes where and how to capture frames
type FFmpegSourceConfig struct {
	SourceID    string
	Device      string // file path, rtsp:// or http(s):// URL, or /dev/video*
	FPS         int    // requested rate for live sources, 0 keeps the native rate
	Width       int    // capture size for v4l2 devices
	Height      int
	FFmpegPath  string
	FFprobePath string
}

// FFmpegSource decodes any input ffmpeg understands into a stream of JPEG
// frames read from an image2pipe subprocess. Snapshot URLs are polled over
// HTTP instead.
type FFmpegSource struct {
	cfg FFmpegSourceConfig
	log logs.Log

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	buffer   []byte
	chunk    []byte
	pending  *FrameData
	restart  bool
	seq      uint64
	fps      float64
	total    int64
	width    int
	height   int
	client   *http.Client
	lastPoll time.Time
}

func NewFFmpegSource(cfg FFmpegSourceConfig, log logs.Log) *FFmpegSource {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &FFmpegSource{
		cfg:   cfg,
		log:   logging.Component(log, "FrameProvider"),
		chunk: make([]byte, 64*1024),
		fps:   float64(cfg.FPS),
		width: cfg.Width, height: cfg.Height,
	}
}

func (s *FFmpegSource) isRTSP() bool { return strings.HasPrefix(s.cfg.Device, "rtsp://") }

func (s *FFmpegSource) isHTTP() bool {
	return strings.HasPrefix(s.cfg.Device, "http://") || strings.HasPrefix(s.cfg.Device, "https://")
}

func (s *FFmpegSource) isDevice() bool { return strings.HasPrefix(s.cfg.Device, "/dev/") }

// isHTTPImageEndpoint detects if the device is an HTTP snapshot URL
func (s *FFmpegSource) isHTTPImageEndpoint() bool {
	return s.isHTTP() &&
		(strings.Contains(s.cfg.Device, ".jpg") || strings.Contains(s.cfg.Device, ".jpeg") || strings.Contains(s.cfg.Device, "snapshot"))
}

// Live is false for files
func (s *FFmpegSource) Live() bool {
	return s.isRTSP() || s.isHTTP() || s.isDevice()
}

func (s *FFmpegSource) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

func (s *FFmpegSource) Progress() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Live() || s.total <= 0 {
		return Progress{}, false
	}
	return Progress{Position: int64(s.seq), Total: s.total}, true
}

// Open starts capture and reads one frame to prove the input is usable
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq = 0
	s.pending = nil

	if s.isHTTPImageEndpoint() {
		s.client = &http.Client{Timeout: 10 * time.Second}
		data, err := s.pollLocked(ctx)
		if err != nil {
			return err
		}
		s.pending = s.newFrameLocked(data)
		return nil
	}

	if !s.Live() {
		if err := s.probeLocked(ctx); err != nil {
			s.log.Warnf("ffprobe failed for %s, progress unavailable: %v", s.cfg.Device, err)
		}
	}

	if err := s.startLocked(); err != nil {
		return err
	}
	data, err := s.readJPEGLocked()
	if err != nil {
		s.stopLocked()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no frames in %s", s.cfg.Device)
		}
		return fmt.Errorf("read first frame from %s: %w", s.cfg.Device, err)
	}
	s.pending = s.newFrameLocked(data)
	s.log.Infof("Opened %s (%dx%d, %.2f fps, %d frames)", s.cfg.Device, s.width, s.height, s.fps, s.total)
	return nil
}

// ReadFrame returns the next frame. A live stream that ends is restarted on
// the following call; a file that ends yields ErrEndOfStream.
func (s *FFmpegSource) ReadFrame(ctx context.Context) (*FrameData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}

	if s.client != nil {
		if wait := s.pollInterval() - time.Since(s.lastPoll); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		data, err := s.pollLocked(ctx)
		if err != nil {
			return nil, err
		}
		return s.newFrameLocked(data), nil
	}

	if s.restart {
		s.restart = false
		if err := s.startLocked(); err != nil {
			s.restart = true
			return nil, err
		}
	}
	if s.cmd == nil {
		return nil, errors.New("source not open")
	}

	// Unblock the pipe read if the caller gives up
	cmd := s.cmd
	stop := context.AfterFunc(ctx, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	defer stop()

	data, err := s.readJPEGLocked()
	if err != nil {
		if errors.Is(err, io.EOF) && !s.Live() {
			s.stopLocked()
			return nil, ErrEndOfStream
		}
		s.stopLocked()
		s.restart = true
		return nil, fmt.Errorf("read frame from %s: %w", s.cfg.Device, err)
	}
	return s.newFrameLocked(data), nil
}

// Close stops the ffmpeg process
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.client = nil
	return nil
}

func (s *FFmpegSource) newFrameLocked(data []byte) *FrameData {
	s.seq++
	return &FrameData{
		SourceID:  s.cfg.SourceID,
		Data:      data,
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
	}
}

func (s *FFmpegSource) ffmpegArgs() []string {
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	rate := func() []string {
		if s.cfg.FPS > 0 {
			return []string{"-r", strconv.Itoa(s.cfg.FPS)}
		}
		return nil
	}
	switch {
	case s.isRTSP():
		args := []string{"-rtsp_transport", "tcp", "-i", s.cfg.Device}
		return append(append(args, rate()...), out...)
	case s.isHTTP():
		args := []string{"-i", s.cfg.Device}
		return append(append(args, rate()...), out...)
	case s.isDevice():
		args := []string{"-f", "v4l2"}
		if s.cfg.Width > 0 && s.cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height))
		}
		if s.cfg.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(s.cfg.FPS))
		}
		return append(append(args, "-i", s.cfg.Device), out...)
	default:
		return append([]string{"-i", s.cfg.Device}, out...)
	}
}

func (s *FFmpegSource) startLocked() error {
	cmd := exec.Command(s.cfg.FFmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, s.ffmpegArgs()...)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting ffmpeg: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on it
	go func(log logs.Log, device string) {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debugf("ffmpeg %s: %s", device, scanner.Text())
		}
	}(s.log, s.cfg.Device)

	s.cmd = cmd
	s.stdout = stdout
	s.buffer = s.buffer[:0]
	return nil
}

func (s *FFmpegSource) stopLocked() {
	if s.cmd == nil {
		return
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.cmd = nil
	s.stdout = nil
	s.buffer = s.buffer[:0]
}

func (s *FFmpegSource) readJPEGLocked() ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&s.buffer); frame != nil {
			return frame, nil
		}
		n, err := s.stdout.Read(s.chunk)
		if n > 0 {
			s.buffer = append(s.buffer, s.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *FFmpegSource) pollInterval() time.Duration {
	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 5
	}
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

func (s *FFmpegSource) pollLocked(ctx context.Context) ([]byte, error) {
	s.lastPoll = time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Device, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *FFmpegSource) probeLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, s.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
		"-of", "json",
		s.cfg.Device).Output()
	if err != nil {
		return err
	}
	fps, total, w, h, err := parseProbe(out)
	if err != nil {
		return err
	}
	if s.cfg.FPS <= 0 && fps > 0 {
		s.fps = fps
	}
	s.total = total
	if w > 0 && h > 0 {
		s.width, s.height = w, h
	}
	return nil
}

// parseProbe extracts frame rate, frame count and size from ffprobe JSON.
// The frame count falls back to duration x fps when the container has none.
func parseProbe(data []byte) (fps float64, total int64, width, height int, err error) {
	var p probeOutput
	if err = json.Unmarshal(data, &p); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return 0, 0, 0, 0, errors.New("no video stream")
	}
	st := p.Streams[0]
	fps = parseFrameRate(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(st.RFrameRate)
	}
	if n, perr := strconv.ParseInt(st.NbFrames, 10, 64); perr == nil && n > 0 {
		total = n
	} else if d, perr := strconv.ParseFloat(p.Format.Duration, 64); perr == nil && d > 0 && fps > 0 {
		total = int64(d*fps + 0.5)
	}
	return fps, total, st.Width, st.Height, nil
}

// parseFrameRate parses "30000/1001" or "25"
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// extractJPEGFrame extracts a complete JPEG frame from buffer. Bytes before
// the start marker are discarded; with no start marker only the last byte
// is kept, since it may be the first half of one.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	startIdx := bytes.Index(buf, jpegSOI)
	if startIdx == -1 {
		if len(buf) > 1 {
			*buffer = append(buf[:0], buf[len(buf)-1])
		}
		return nil
	}
	if startIdx > 0 {
		buf = append(buf[:0], buf[startIdx:]...)
		*buffer = buf
	}

	end := bytes.Index(buf[2:], jpegEOI)
	if end == -1 {
		return nil
	}
	endIdx := end + 4

	frame := make([]byte, endIdx)
	copy(frame, buf[:endIdx])
	*buffer = buf[endIdx:]
	return frame
}

var _ VideoSource = (*FFmpegSource)(nil)
