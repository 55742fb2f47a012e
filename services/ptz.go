package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obzorcam/backend/config"
	"github.com/obzorcam/backend/models"
)

const defaultPTZSpeed = 1.0

// Controller drives the camera through home -> preset_1 .. preset_n -> home,
// capturing a frame at every stop. Two independent flags gate the sweep:
// scheduled mode (operator wants auto-cycling) and ptzEnabled (camera link is
// usable). With either false the loop idles and polls the flags without
// moving the camera.
type Controller struct {
	cam      PTZCamera
	acquirer *Acquirer
	storage  *Storage
	log      *zap.Logger

	mu    sync.Mutex
	state ptzState

	loopMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Timing knobs; tests shorten these.
	settleTime       time.Duration
	pollInterval     time.Duration
	homeDwellCeiling time.Duration
	errorCooldown    time.Duration
	flagCheckStep    time.Duration
	initRetryDelay   time.Duration
}

type ptzState struct {
	presets       []int
	homePreset    int
	dwell         time.Duration
	homeDwell     time.Duration
	captureDelay  time.Duration
	currentPreset int
	lastMove      time.Time
	status        string
	scheduledMode bool
	ptzEnabled    bool
	position      *Position
	positionCache map[int]PresetPosition
	presetList    []Preset
}

// PTZOverrides carries a partial-field config update; nil fields are untouched.
type PTZOverrides struct {
	HomePreset      *int
	DwellSec        *int
	HomeDwellSec    *int
	CaptureDelaySec *int
}

func NewController(cfg config.PTZSettings, cam PTZCamera, acquirer *Acquirer, storage *Storage, log *zap.Logger) *Controller {
	c := &Controller{
		cam:      cam,
		acquirer: acquirer,
		storage:  storage,
		log:      log,
		state: ptzState{
			presets:       append([]int(nil), cfg.Presets...),
			homePreset:    cfg.HomePreset,
			dwell:         time.Duration(cfg.DwellSec) * time.Second,
			homeDwell:     time.Duration(cfg.HomeDwellSec) * time.Second,
			captureDelay:  time.Duration(cfg.CaptureDelaySec) * time.Second,
			status:        StatusInitializing,
			scheduledMode: true,
			positionCache: make(map[int]PresetPosition),
		},
		settleTime:       2 * time.Second,
		pollInterval:     10 * time.Second,
		homeDwellCeiling: 60 * time.Second,
		errorCooldown:    30 * time.Second,
		flagCheckStep:    5 * time.Second,
		initRetryDelay:   2 * time.Second,
	}

	if storage != nil {
		if cached, err := storage.LoadPresetPositions(); err == nil {
			for preset, pos := range cached {
				c.state.positionCache[preset] = pos
			}
		} else {
			log.Warn("loading cached preset positions", zap.Error(err))
		}
	}

	return c
}

// Init establishes the camera link, retrying once after a short delay. On
// failure the controller stays alive in degraded mode: status "limited",
// moves disabled, everything else keeps serving.
func (c *Controller) Init(ctx context.Context) bool {
	err := Retry(ctx, RetryConfig{Attempts: 2, Delay: c.initRetryDelay}, func() error {
		return c.cam.Connect(ctx)
	})
	if err != nil {
		c.log.Warn("camera link initialization failed, continuing in degraded mode", zap.Error(err))
		c.mu.Lock()
		c.state.status = StatusLimited
		c.state.ptzEnabled = false
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	c.state.status = StatusOK
	c.state.ptzEnabled = true
	c.mu.Unlock()

	if _, err := c.presetTokens(ctx); err != nil {
		c.log.Warn("fetching presets after connect", zap.Error(err))
	}
	if pos, err := c.cam.GetStatus(ctx); err == nil {
		c.mu.Lock()
		c.state.position = &pos
		c.mu.Unlock()
	}

	c.log.Info("camera link initialized")
	return true
}

// Start spawns the sweep loop; false if one is already live.
func (c *Controller) Start() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		c.log.Info("sweep loop already running")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(ctx, c.done)
	c.log.Info("sweep loop started")
	return true
}

// Stop requests the sweep loop to exit at its next checkpoint.
func (c *Controller) Stop() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if !c.running {
		return true
	}
	c.cancel()
	c.running = false
	c.log.Info("sweep loop stop requested")
	return true
}

// StopWait stops the loop and waits for it to finish, up to the timeout.
func (c *Controller) StopWait(timeout time.Duration) bool {
	c.loopMu.Lock()
	done := c.done
	c.loopMu.Unlock()

	c.Stop()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.log.Warn("sweep loop did not stop in time")
		return false
	}
}

func (c *Controller) Running() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.running
}

// SetScheduledMode toggles automatic cycling. The idle loop notices the flip
// within one polling interval.
func (c *Controller) SetScheduledMode(enabled bool) {
	c.mu.Lock()
	c.state.scheduledMode = enabled
	c.mu.Unlock()
	c.log.Info("automatic mode toggled", zap.Bool("enabled", enabled))
}

// UpdateConfig applies a partial config update. Fields are independent;
// changes simply affect the next wait or move onward.
func (c *Controller) UpdateConfig(o PTZOverrides) {
	c.mu.Lock()
	if o.HomePreset != nil {
		c.state.homePreset = *o.HomePreset
	}
	if o.DwellSec != nil {
		c.state.dwell = time.Duration(*o.DwellSec) * time.Second
	}
	if o.HomeDwellSec != nil {
		c.state.homeDwell = time.Duration(*o.HomeDwellSec) * time.Second
	}
	if o.CaptureDelaySec != nil {
		c.state.captureDelay = time.Duration(*o.CaptureDelaySec) * time.Second
	}
	c.mu.Unlock()
}

// GotoPreset validates the index, resolves it to the camera-native token and
// commands the move. Returns false without mutating controller state on any
// validation or protocol failure.
func (c *Controller) GotoPreset(ctx context.Context, index int) bool {
	c.mu.Lock()
	enabled := c.state.ptzEnabled
	c.mu.Unlock()
	if !enabled {
		c.log.Warn("goto preset ignored, camera link not usable", zap.Int("preset", index))
		return false
	}

	tokens, err := c.presetTokens(ctx)
	if err != nil {
		c.log.Error("resolving presets", zap.Error(err))
		return false
	}
	if index < 0 || index >= len(tokens) {
		c.log.Error("invalid preset index",
			zap.Int("preset", index), zap.Int("available", len(tokens)))
		return false
	}

	preset := tokens[index]
	c.log.Info("moving to preset",
		zap.Int("preset", index), zap.String("token", preset.Token), zap.String("name", preset.Name))

	if err := c.cam.GotoPreset(ctx, preset.Token, defaultPTZSpeed); err != nil {
		c.log.Error("goto preset failed", zap.Int("preset", index), zap.Error(err))
		return false
	}

	// The protocol gives no move-completion signal; a short blind settle
	// wait is the best available.
	sleepCtx(ctx, c.settleTime)

	if pos, err := c.cam.GetStatus(ctx); err == nil {
		cached := PresetPosition{
			Token: preset.Token,
			Name:  preset.Name,
			Pan:   pos.Pan,
			Tilt:  pos.Tilt,
			Zoom:  pos.Zoom,
		}
		c.mu.Lock()
		c.state.position = &pos
		c.state.positionCache[index] = cached
		c.mu.Unlock()

		if c.storage != nil {
			if err := c.storage.SavePresetPosition(index, cached); err != nil {
				c.log.Warn("persisting preset position", zap.Error(err))
			}
		}
	} else {
		c.log.Warn("querying position after move", zap.Error(err))
	}

	c.mu.Lock()
	c.state.currentPreset = index
	c.state.lastMove = time.Now()
	c.mu.Unlock()

	return true
}

// Presets lists the camera's stored presets, re-fetching from the device if
// the cache is empty.
func (c *Controller) Presets(ctx context.Context) ([]models.PresetInfo, error) {
	tokens, err := c.presetTokens(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]models.PresetInfo, 0, len(tokens))
	for i, p := range tokens {
		infos = append(infos, models.PresetInfo{Token: p.Token, Name: p.Name, Index: i})
	}
	return infos, nil
}

// Status reports the controller state, refreshing the live position when the
// camera link is usable.
func (c *Controller) Status(ctx context.Context) models.PTZStatusResponse {
	c.mu.Lock()
	enabled := c.state.ptzEnabled
	c.mu.Unlock()

	if enabled {
		if pos, err := c.cam.GetStatus(ctx); err == nil {
			c.mu.Lock()
			c.state.position = &pos
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp := models.PTZStatusResponse{
		Status:        c.state.status,
		CurrentPreset: c.state.currentPreset,
		AutomaticMode: c.state.scheduledMode,
		PTZEnabled:    c.state.ptzEnabled,
	}
	if !c.state.lastMove.IsZero() {
		t := c.state.lastMove
		resp.LastMoveTime = &t
	}
	if c.state.position != nil {
		resp.Position = &models.PTZPositionJSON{
			Pan:  c.state.position.Pan,
			Tilt: c.state.position.Tilt,
			Zoom: c.state.position.Zoom,
		}
	}
	return resp
}

func (c *Controller) presetTokens(ctx context.Context) ([]Preset, error) {
	c.mu.Lock()
	cached := c.state.presetList
	c.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}

	presets, err := c.cam.GetPresets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching presets: %w", err)
	}
	if len(presets) == 0 {
		return nil, fmt.Errorf("camera reported no presets")
	}

	c.mu.Lock()
	c.state.presetList = presets
	c.mu.Unlock()
	return presets, nil
}

func (c *Controller) flagsOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.scheduledMode && c.state.ptzEnabled
}

func (c *Controller) snapshot() ptzState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.presets = append([]int(nil), c.state.presets...)
	return st
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Park at home before the first cycle.
	if c.flagsOK() {
		c.GotoPreset(ctx, c.snapshot().homePreset)
	}

	for ctx.Err() == nil {
		if !c.flagsOK() {
			if !sleepCtx(ctx, c.pollInterval) {
				break
			}
			continue
		}
		c.runCycle(ctx)
	}
	c.log.Info("sweep loop stopped")
}

// runCycle performs one full sweep: home dwell, every non-home preset with
// capture, then back home. A panic is contained here so the loop survives
// anything a cycle throws at it.
func (c *Controller) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("sweep cycle panicked", zap.Any("panic", r))
			c.GotoPreset(ctx, c.snapshot().homePreset)
			sleepCtx(ctx, c.errorCooldown)
		}
	}()

	st := c.snapshot()

	// The home dwell is capped so a long production value can't make the
	// controls unresponsive for minutes at a time.
	homeDwell := st.homeDwell
	if homeDwell > c.homeDwellCeiling {
		homeDwell = c.homeDwellCeiling
	}
	c.log.Info("dwelling at home", zap.Duration("dwell", homeDwell))
	if !WaitInterval(ctx, homeDwell, c.flagCheckStep, func() bool { return !c.flagsOK() }) {
		c.log.Info("home dwell interrupted")
		return
	}

	for _, preset := range st.presets {
		if ctx.Err() != nil || !c.flagsOK() {
			c.log.Info("sweep aborted mid-cycle")
			break
		}
		if preset == st.homePreset {
			continue
		}

		if !c.GotoPreset(ctx, preset) {
			c.log.Warn("skipping unreachable preset", zap.Int("preset", preset))
			continue
		}

		// Let the physical camera settle before capturing; deliberately a
		// plain sleep.
		time.Sleep(st.captureDelay)

		err := Retry(ctx, RetryConfig{Attempts: 3, Delay: 2 * time.Second}, func() error {
			if c.acquirer.CaptureFrame(ctx) {
				return nil
			}
			return errors.New("capture failed")
		})
		if err != nil {
			c.log.Warn("capture failed after retries", zap.Int("preset", preset), zap.Error(err))
		}

		time.Sleep(st.dwell)
	}

	c.GotoPreset(ctx, st.homePreset)
}
