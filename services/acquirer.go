package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/obzorcam/backend/config"
)

// Transport selects how the grabber connects to an RTSP source.
type Transport string

const (
	TransportTCP  Transport = "tcp"  // forced TCP interleaving
	TransportAuto Transport = "auto" // library-default negotiation
)

// FrameGrabber pulls one encoded frame from a stream URL. The production
// implementation shells out to ffmpeg; tests inject a fake.
type FrameGrabber interface {
	Grab(ctx context.Context, streamURL string, transport Transport, timeout time.Duration) ([]byte, error)
}

// ffmpegGrabber extracts a single frame with an ffmpeg subprocess. The
// context deadline bounds the whole invocation; ffmpeg is killed when it
// expires, so no grab can wedge the capture loop.
type ffmpegGrabber struct {
	log *zap.Logger
}

func NewFFmpegGrabber(log *zap.Logger) FrameGrabber {
	return &ffmpegGrabber{log: log}
}

func (g *ffmpegGrabber) Grab(ctx context.Context, streamURL string, transport Transport, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "snapshot_*.jpg")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{"-y", "-loglevel", "error"}
	if transport == TransportTCP && strings.HasPrefix(streamURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", streamURL,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		tmpPath,
	)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w (%s)", err, truncate(strings.TrimSpace(stderr.String()), 200))
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading frame file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty frame file")
	}
	return data, nil
}

// FFmpegVersion probes the ffmpeg binary for the diagnostics endpoint.
func FFmpegVersion(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output()
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), true
}

// Acquirer produces exactly one frame per capture call, walking grab
// strategies in order until one succeeds and always leaving an observable
// result on disk. Calls are serialized: the periodic scheduler and the PTZ
// sweep must never open the device simultaneously.
type Acquirer struct {
	mu       sync.Mutex
	settings *SettingsStore
	cache    *FrameCache
	grabber  FrameGrabber
	log      *zap.Logger

	username string
	password string

	dedupEnabled   bool
	dedupThreshold int
	lastArchived   *goimagehash.ImageHash
}

func NewAcquirer(cfg config.CaptureSettings, settings *SettingsStore, cache *FrameCache, grabber FrameGrabber, log *zap.Logger) *Acquirer {
	return &Acquirer{
		settings:       settings,
		cache:          cache,
		grabber:        grabber,
		log:            log,
		username:       cfg.Username,
		password:       cfg.Password,
		dedupEnabled:   cfg.DedupEnabled,
		dedupThreshold: cfg.DedupPHashThreshold,
	}
}

// CaptureFrame grabs, processes and persists one frame. It never panics and
// never returns an error; failure detail is logging-only. On total grab
// failure a placeholder is written to the latest path and false is returned
// with the capture status set to error.
func (a *Acquirer) CaptureFrame(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.settings.Snapshot()
	captureID := uuid.NewString()[:8]
	log := a.log.With(zap.String("capture_id", captureID))
	log.Info("capture attempt", zap.String("source", MaskURL(snap.SourceURL)))

	raw, strategy := a.acquire(ctx, log, snap)
	if raw == nil {
		a.settings.SetStatus(StatusError)
		placeholder := RenderPlaceholder(snap.Width, snap.Height, msgError)
		if err := writeAtomic(snap.LatestPath, placeholder); err != nil {
			log.Error("writing error placeholder", zap.Error(err))
		}
		log.Warn("all grab strategies failed")
		return false
	}

	frameBytes, img, err := a.process(raw, snap)
	if err != nil {
		log.Error("processing frame", zap.Error(err))
		a.settings.SetStatus(StatusError)
		return false
	}

	archivePath, wrote := a.persistFrame(log, frameBytes, img, snap)
	if wrote == 0 {
		log.Error("no write target accepted the frame")
		a.settings.SetStatus(StatusError)
		return false
	}

	now := time.Now()
	lastPath := archivePath
	if lastPath == "" {
		lastPath = snap.LatestPath
	}
	a.settings.SetLastFrame(lastPath, now)

	a.cache.Store(SourceID(snap.SourceURL), frameBytes, map[string]any{
		"capture_id": captureID,
		"strategy":   strategy,
		"width":      snap.Width,
		"height":     snap.Height,
	}, 0)

	log.Info("frame captured",
		zap.String("strategy", strategy),
		zap.String("size", humanize.Bytes(uint64(len(frameBytes)))),
		zap.Int("targets", wrote))
	return true
}

// acquire walks the grab strategies in order. Returns the raw encoded frame
// and the name of the strategy that produced it, or nil when every strategy
// failed.
func (a *Acquirer) acquire(ctx context.Context, log *zap.Logger, snap CaptureState) ([]byte, string) {
	// 1. Direct pull, forced TCP, a few short-spaced read attempts.
	var raw []byte
	err := Retry(ctx, RetryConfig{Attempts: 3, Delay: 500 * time.Millisecond}, func() error {
		var grabErr error
		raw, grabErr = a.grabber.Grab(ctx, snap.SourceURL, TransportTCP, 5*time.Second)
		return grabErr
	})
	if err == nil {
		return raw, "direct-tcp"
	}
	log.Warn("direct TCP grab failed", zap.Error(err))

	// 2. Same URL, default transport negotiation.
	raw, err = a.grabber.Grab(ctx, snap.SourceURL, TransportAuto, 10*time.Second)
	if err == nil {
		return raw, "direct-auto"
	}
	log.Warn("auto-transport grab failed", zap.Error(err))

	// 3. Alternate URL candidates, shorter timeouts; a winner becomes the
	// active source URL for subsequent cycles.
	for _, candidate := range a.candidateURLs(snap.SourceURL) {
		raw, err = a.grabber.Grab(ctx, candidate, TransportTCP, 8*time.Second)
		if err == nil {
			log.Info("alternate source URL succeeded, keeping it",
				zap.String("source", MaskURL(candidate)))
			a.settings.SetSourceURL(candidate)
			return raw, "alternate-url"
		}
		log.Warn("alternate URL failed",
			zap.String("source", MaskURL(candidate)), zap.Error(err))
	}

	return nil, ""
}

// candidateURLs builds equivalent source URL variants: query stripped,
// credentials embedded or removed, and the two path layouts this camera
// family is known to serve.
func (a *Acquirer) candidateURLs(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	var out []string
	seen := map[string]bool{rawURL: true}
	add := func(candidate string) {
		if !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	if u.RawQuery != "" {
		stripped := *u
		stripped.RawQuery = ""
		add(stripped.String())
	}

	if u.User == nil && a.username != "" {
		withAuth := *u
		withAuth.User = url.UserPassword(a.username, a.password)
		add(withAuth.String())
	}

	if u.User != nil {
		noAuth := *u
		noAuth.User = nil
		add(noAuth.String())
	}

	if u.Scheme == "rtsp" {
		base := url.URL{Scheme: u.Scheme, Host: u.Host}
		if a.username != "" {
			base.User = url.UserPassword(a.username, a.password)
		}

		ch := base
		ch.Path = "/ch01/0"
		add(ch.String())

		rm := base
		rm.Path = "/cam/realmonitor"
		rm.RawQuery = "channel=1&subtype=0"
		add(rm.String())
	}

	return out
}

// process decodes, optionally resizes (direct resize, aspect ratio not
// preserved) and re-encodes the frame at the configured quality.
func (a *Acquirer) process(raw []byte, snap CaptureState) ([]byte, image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding frame: %w", err)
	}

	if snap.Width > 0 && snap.Height > 0 {
		img = resize.Resize(uint(snap.Width), uint(snap.Height), img, resize.Bilinear)
	}

	quality := snap.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), img, nil
}

// persistFrame writes the frame to the latest path, the timestamped archive
// and the fallback mirror. A failed target is logged and skipped; the frame
// counts as saved while at least one target succeeded.
func (a *Acquirer) persistFrame(log *zap.Logger, frameBytes []byte, img image.Image, snap CaptureState) (archivePath string, wrote int) {
	if err := writeAtomic(snap.LatestPath, frameBytes); err != nil {
		log.Warn("writing latest frame", zap.String("path", snap.LatestPath), zap.Error(err))
	} else {
		wrote++
	}

	timestamp := time.Now().Format("20060102_150405")
	candidate := filepath.Join(snap.SaveDir, fmt.Sprintf("frame_%s.jpg", timestamp))
	if a.isDuplicateOfLastArchive(log, img) {
		log.Info("skipping archive write, frame duplicates previous archive")
	} else if err := writeAtomic(candidate, frameBytes); err != nil {
		log.Warn("writing archive frame", zap.String("path", candidate), zap.Error(err))
	} else {
		archivePath = candidate
		wrote++
	}

	if snap.FallbackDir != "" {
		mirror := filepath.Join(snap.FallbackDir, "latest.jpg")
		if err := writeAtomic(mirror, frameBytes); err != nil {
			log.Warn("writing fallback mirror", zap.String("path", mirror), zap.Error(err))
		} else {
			wrote++
		}
	}

	return archivePath, wrote
}

// isDuplicateOfLastArchive compares perceptual hashes against the previously
// archived frame so a camera parked on one scene doesn't fill the save
// directory with identical JPEGs.
func (a *Acquirer) isDuplicateOfLastArchive(log *zap.Logger, img image.Image) bool {
	if !a.dedupEnabled {
		return false
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		log.Warn("hashing frame for dedup", zap.Error(err))
		return false
	}
	prev := a.lastArchived
	a.lastArchived = hash
	if prev == nil {
		return false
	}
	dist, err := hash.Distance(prev)
	if err != nil {
		return false
	}
	return dist < a.dedupThreshold
}

// LatestFrameBytes returns the most recently written frame, checking the
// canonical latest path first and falling back to the last archived frame
// (copying it back into place when found).
func (a *Acquirer) LatestFrameBytes() []byte {
	snap := a.settings.Snapshot()

	if data, err := os.ReadFile(snap.LatestPath); err == nil && len(data) > 0 {
		return data
	}

	if snap.LastFramePath != "" {
		if data, err := os.ReadFile(snap.LastFramePath); err == nil && len(data) > 0 {
			if err := writeAtomic(snap.LatestPath, data); err != nil {
				a.log.Debug("restoring latest frame copy", zap.Error(err))
			}
			return data
		}
	}
	return nil
}

// PlaceholderBytes renders the status-appropriate placeholder at the
// configured frame size.
func (a *Acquirer) PlaceholderBytes() []byte {
	snap := a.settings.Snapshot()
	return RenderPlaceholder(snap.Width, snap.Height, PlaceholderMessage(snap.Status))
}

// Snapshot serves the live-view endpoint: cached frame when fresh enough,
// otherwise a new capture. bypassCache forces a device grab.
func (a *Acquirer) Snapshot(ctx context.Context, bypassCache bool) []byte {
	snap := a.settings.Snapshot()
	sourceID := SourceID(snap.SourceURL)

	if !bypassCache {
		if frame, _ := a.cache.Fetch(sourceID, 0); frame != nil {
			return frame
		}
	}

	if a.CaptureFrame(ctx) {
		if frame, _ := a.cache.Fetch(sourceID, 0); frame != nil {
			return frame
		}
	}

	if frame := a.LatestFrameBytes(); frame != nil {
		return frame
	}
	return a.PlaceholderBytes()
}

// InitFiles creates the write targets and seeds the latest path with a
// waiting placeholder so the web layer always has something to serve.
func (a *Acquirer) InitFiles() {
	snap := a.settings.Snapshot()

	for _, dir := range []string{snap.SaveDir, filepath.Dir(snap.LatestPath), snap.FallbackDir} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.log.Warn("creating directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	if _, err := os.Stat(snap.LatestPath); os.IsNotExist(err) {
		placeholder := RenderPlaceholder(snap.Width, snap.Height, msgWaiting)
		if err := writeAtomic(snap.LatestPath, placeholder); err != nil {
			a.log.Warn("writing startup placeholder", zap.Error(err))
		}
	}
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never observe a half-written JPEG.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".frame_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// MaskURL hides the password in a URL for logging.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, has := u.User.Password(); !has {
		return rawURL
	}
	masked := *u
	masked.User = url.User(u.User.Username() + ":****")
	// url.User escapes the colon; undo it for readability.
	return strings.Replace(masked.String(), "%3A", ":", 1)
}
