package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
)

// Default timing and limits.
const (
	DefaultMinHeaterSpeed = program.SpeedMedium
	DefaultDebounce       = 500 * time.Millisecond
	DefaultStopGap        = 500 * time.Millisecond
	DefaultSettleDelay    = 1 * time.Second
	DefaultPumpStartDelay = 2 * time.Second
)

// Override kinds reported to the Recorder.
const (
	OverrideSpeedClamp   = "speed_clamp"
	OverrideStopRejected = "stop_rejected"
	OverrideHeaterRaise  = "heater_raise"
)

// Commander issues program commands. It is satisfied by *hub.Hub.
type Commander interface {
	Activate(ctx context.Context, deviceID string, programID int) bool
	Deactivate(ctx context.Context, deviceID string, programID int) bool
	UpdateStatus(ctx context.Context, force bool) error
	Device(id string) (*device.Device, error)
}

// Recorder counts safety overrides.
type Recorder interface {
	SafetyOverride(kind string)
}

type noopRecorder struct{}

func (noopRecorder) SafetyOverride(string) {}

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator.
type Options struct {
	// DeviceID is the controller this coordinator guards. Required.
	DeviceID string
	// Commander issues commands. Required.
	Commander Commander
	// Mapper resolves pump and heater programs. Required.
	Mapper *program.Mapper

	Notifier Notifier
	Metrics  Recorder
	Logger   Logger

	MinHeaterSpeed int
	Debounce       time.Duration
	StopGap        time.Duration
	SettleDelay    time.Duration
	PumpStartDelay time.Duration

	// Now overrides the notification clock (tests).
	Now func() time.Time
}

// Coordinator owns the pump percentage and heater state of one device.
//
// Thread Safety: All methods are safe for concurrent use. A speed change is
// executed on its own goroutine once the debounce window has elapsed.
type Coordinator struct {
	deviceID  string
	commander Commander
	mapper    *program.Mapper
	notifier  Notifier
	metrics   Recorder
	logger    Logger
	now       func() time.Time

	minHeaterSpeed int
	debounce       time.Duration
	stopGap        time.Duration
	settleDelay    time.Duration
	pumpStartDelay time.Duration

	mu         sync.Mutex
	percentage int
	heaterOn   bool
	override   bool
	pending    *time.Timer
	seq        uint64
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if opts.Mapper == nil {
		return nil, fmt.Errorf("program mapper is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		deviceID:       opts.DeviceID,
		commander:      opts.Commander,
		mapper:         opts.Mapper,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Now,
		minHeaterSpeed: opts.MinHeaterSpeed,
		debounce:       opts.Debounce,
		stopGap:        opts.StopGap,
		settleDelay:    opts.SettleDelay,
		pumpStartDelay: opts.PumpStartDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	if c.metrics == nil {
		c.metrics = noopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.minHeaterSpeed <= 0 {
		c.minHeaterSpeed = DefaultMinHeaterSpeed
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.stopGap <= 0 {
		c.stopGap = DefaultStopGap
	}
	if c.settleDelay <= 0 {
		c.settleDelay = DefaultSettleDelay
	}
	if c.pumpStartDelay <= 0 {
		c.pumpStartDelay = DefaultPumpStartDelay
	}

	if d, err := c.commander.Device(c.deviceID); err == nil {
		c.percentage = c.derivePercentage(d)
		c.heaterOn = c.heaterRunning(d)
	}
	return c, nil
}

// DeviceID returns the guarded device.
func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

// Percentage returns the current pump percentage (0, 30, 50, 75 or 100).
func (c *Coordinator) Percentage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.percentage
}

// HeaterOn reports the heater state used for the interlock.
func (c *Coordinator) HeaterOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heaterOn
}

// Override reports whether the heater interlock changed the last request.
func (c *Coordinator) Override() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.override
}

// SetPercentage requests a pump speed.
//
// The request is clamped to 0..100 and checked against the heater
// interlock. It then replaces any pending request and executes after the
// debounce window, unless a newer request arrives first. It returns the
// percentage that will be applied.
func (c *Coordinator) SetPercentage(percentage int) int {
	percentage = max(0, min(100, percentage))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return percentage
	}
	safe := c.safeSpeedLocked(percentage)
	dropped := safe != percentage && safe == c.percentage
	if !dropped {
		c.scheduleLocked(safe)
	}
	c.mu.Unlock()

	if safe != percentage {
		c.metrics.SafetyOverride(OverrideSpeedClamp)
		c.notifier.Notify(speedOverrideNotification(c.deviceID, percentage, safe, c.now()))
	}
	if dropped {
		c.logger.Info("pump speed unchanged by safety override", "device_id", c.deviceID, "percentage", safe)
	}
	return safe
}

// SetPreset requests the speed of a named preset.
func (c *Coordinator) SetPreset(name string) (int, error) {
	speed, ok := PresetSpeed(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return c.SetPercentage(speed), nil
}

// safeSpeedLocked applies the heater rules. c.mu must be held.
func (c *Coordinator) safeSpeedLocked(requested int) int {
	if c.heaterOn {
		switch {
		case requested > 0 && requested < c.minHeaterSpeed:
			c.logger.Warn("heater on, enforcing minimum pump speed", "device_id", c.deviceID, "requested", requested, "minimum", c.minHeaterSpeed)
			c.override = true
			return c.minHeaterSpeed
		case requested == 0:
			c.logger.Warn("heater on, refusing to stop pump", "device_id", c.deviceID)
			c.override = true
			if c.percentage > 0 {
				return c.percentage
			}
			return c.minHeaterSpeed
		}
	}
	c.override = false
	return requested
}

// scheduleLocked replaces the pending speed change. c.mu must be held.
func (c *Coordinator) scheduleLocked(speed int) {
	c.seq++
	seq := c.seq
	if c.pending != nil {
		c.pending.Stop()
	}
	c.pending = time.AfterFunc(c.debounce, func() { c.fire(seq, speed) })
}

// cancelPendingLocked drops a scheduled speed change. c.mu must be held.
func (c *Coordinator) cancelPendingLocked() {
	c.seq++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Coordinator) fire(seq uint64, speed int) {
	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug("pump speed change superseded", "device_id", c.deviceID, "percentage", speed)
		return
	}
	c.pending = nil
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.execute(c.ctx, speed)
}

// execute stops the running pump programs, starts the target and re-reads
// the device.
func (c *Coordinator) execute(ctx context.Context, speed int) {
	role, actual, on := program.Bucket(speed)
	c.logger.Info("executing pump speed change", "device_id", c.deviceID, "requested", speed, "actual", actual)

	if err := c.stopPumpPrograms(ctx, c.stopGap); err != nil {
		c.logger.Warn("stopping pump programs", "device_id", c.deviceID, "error", err)
	}

	if on {
		target, _ := c.mapper.ProgramFor(role)
		if !c.commander.Activate(ctx, c.deviceID, target) {
			c.logger.Error("pump speed program failed to start", "device_id", c.deviceID, "program_id", target)
			return
		}
	}
	c.mu.Lock()
	c.percentage = actual
	c.mu.Unlock()

	_ = c.commander.UpdateStatus(ctx, true)
	if err := sleep(ctx, c.settleDelay); err != nil {
		return
	}
	c.resync()
}

// stopPumpPrograms deactivates every running pump-speed program, waiting gap
// between stops.
func (c *Coordinator) stopPumpPrograms(ctx context.Context, gap time.Duration) error {
	d, err := c.commander.Device(c.deviceID)
	if err != nil {
		return err
	}

	var failed []int
	for _, id := range d.RunningPrograms() {
		if !c.mapper.IsPumpProgram(id) {
			continue
		}
		if !c.commander.Deactivate(ctx, c.deviceID, id) {
			failed = append(failed, id)
		}
		if err := sleep(ctx, gap); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: programs %v still running", ErrCommandFailed, failed)
	}
	return nil
}

// TurnOffPump stops every pump-speed program.
//
// While the heater is on it returns ErrSafetyViolation, raises the
// pentair_pump_safety_block notification and leaves the pump untouched. If
// any stop fails the percentage is not changed.
func (c *Coordinator) TurnOffPump(ctx context.Context) error {
	c.mu.Lock()
	if c.heaterOn {
		c.mu.Unlock()
		c.logger.Warn("refusing to stop pump while heater is on", "device_id", c.deviceID)
		c.metrics.SafetyOverride(OverrideStopRejected)
		c.notifier.Notify(pumpBlockNotification(c.deviceID, c.now()))
		return ErrSafetyViolation
	}
	c.cancelPendingLocked()
	c.mu.Unlock()

	if err := c.stopPumpPrograms(ctx, 0); err != nil {
		return fmt.Errorf("turning off pump: %w", err)
	}

	c.mu.Lock()
	c.percentage = 0
	c.mu.Unlock()

	_ = c.commander.UpdateStatus(ctx, true)
	return nil
}

// SetHeater switches the heater program.
//
// Turning on with the pump stopped first activates the medium speed program,
// waits for the pump to start and refreshes before arming the heater. A
// failed heater stage is returned and not retried; the pump is left running.
func (c *Coordinator) SetHeater(ctx context.Context, on bool) error {
	heaterID, _ := c.mapper.ProgramFor(program.RoleRelayHeater)

	if !on {
		if !c.commander.Deactivate(ctx, c.deviceID, heaterID) {
			return fmt.Errorf("%w: deactivating heater program %d", ErrCommandFailed, heaterID)
		}
		c.setHeaterState(false)
		return nil
	}

	d, err := c.commander.Device(c.deviceID)
	if err != nil {
		return fmt.Errorf("turning on heater: %w", err)
	}
	if !d.PumpRunning {
		mediumID, _ := c.mapper.ProgramFor(program.RoleSpeedMedium)
		c.logger.Info("heater requested with pump off, starting pump", "device_id", c.deviceID, "program_id", mediumID)
		if !c.commander.Activate(ctx, c.deviceID, mediumID) {
			return fmt.Errorf("%w: starting pump program %d", ErrCommandFailed, mediumID)
		}
		c.mu.Lock()
		c.percentage = program.SpeedMedium
		c.mu.Unlock()

		if err := sleep(ctx, c.pumpStartDelay); err != nil {
			return err
		}
		_ = c.commander.UpdateStatus(ctx, true)
		if err := sleep(ctx, c.settleDelay); err != nil {
			return err
		}
	}

	if !c.commander.Activate(ctx, c.deviceID, heaterID) {
		return fmt.Errorf("%w: activating heater program %d", ErrCommandFailed, heaterID)
	}
	c.setHeaterState(true)
	return nil
}

// Observe updates the coordinator from a freshly polled device.
func (c *Coordinator) Observe(d device.Device) {
	if d.ID != c.deviceID {
		return
	}
	pct := c.derivePercentage(&d)
	heater := c.heaterRunning(&d)

	c.mu.Lock()
	c.percentage = pct
	c.mu.Unlock()

	c.setHeaterState(heater)
}

// setHeaterState records the heater state and raises the pump when the
// heater has just turned on below the minimum speed.
func (c *Coordinator) setHeaterState(on bool) {
	c.mu.Lock()
	was := c.heaterOn
	c.heaterOn = on
	pct := c.percentage
	c.mu.Unlock()

	if on == was {
		return
	}
	c.logger.Info("heater state changed", "device_id", c.deviceID, "on", on)
	if on && pct > 0 && pct < c.minHeaterSpeed {
		c.logger.Info("heater on, raising pump to minimum speed", "device_id", c.deviceID, "from", pct, "to", c.minHeaterSpeed)
		c.metrics.SafetyOverride(OverrideHeaterRaise)
		c.SetPercentage(c.minHeaterSpeed)
	}
}

func (c *Coordinator) resync() {
	d, err := c.commander.Device(c.deviceID)
	if err != nil {
		return
	}
	pct := c.derivePercentage(d)
	c.mu.Lock()
	c.percentage = pct
	c.mu.Unlock()
}

// derivePercentage reads the speed of the first running pump program.
func (c *Coordinator) derivePercentage(d *device.Device) int {
	for _, id := range d.RunningPrograms() {
		if speed, ok := c.mapper.SpeedForProgram(id); ok {
			return speed
		}
	}
	return 0
}

func (c *Coordinator) heaterRunning(d *device.Device) bool {
	id, _ := c.mapper.ProgramFor(program.RoleRelayHeater)
	p, ok := d.Program(id)
	return ok && p.Running()
}

// Close cancels any pending or running speed change and waits for it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelPendingLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
