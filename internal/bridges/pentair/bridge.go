package pentair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

// commandTimeout bounds one command, including the heater start sequence.
const commandTimeout = 60 * time.Second

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Entities resolves entity sets. It is satisfied by *entity.Directory.
type Entities interface {
	For(deviceID string) (*entity.Set, error)
	Entity(deviceID, key string) (*entity.Entity, error)
}

// Thermostats resolves pool thermostats. It is satisfied by *climate.Group.
type Thermostats interface {
	For(deviceID string) (*climate.Thermostat, error)
	Thermostats() []*climate.Thermostat
	UpdateTemperature(ctx context.Context, temp float64) error
	ClearTemperature()
}

// DeviceSource lists the known devices. It is satisfied by *hub.Hub.
type DeviceSource interface {
	Devices() []device.Device
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	Client   MQTTClient
	Topics   mqtt.Topics
	Entities Entities
	Devices  DeviceSource

	// Climate and TemperatureTopic are optional. Without them climate
	// commands are rejected and no sensor is subscribed.
	Climate          Thermostats
	TemperatureTopic string

	// Cloud reports a cloud-side problem to the health reporter. Optional.
	Cloud func() error

	BridgeID       string
	Version        string
	HealthInterval time.Duration
	QoS            byte
	Logger         Logger
}

// Bridge translates between MQTT and the entity layer.
type Bridge struct {
	client      MQTTClient
	topics      mqtt.Topics
	entities    Entities
	devices     DeviceSource
	climate     Thermostats
	tempTopic   string
	qos         byte
	health      *HealthReporter
	commands    atomic.Uint64
	commandErrs atomic.Uint64

	// stateCache holds the last payload per retained topic.
	stateCache   map[string][]byte
	stateCacheMu sync.Mutex

	mu        sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Entities == nil {
		return nil, fmt.Errorf("entities are required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("qos %d out of range", opts.QoS)
	}
	if opts.BridgeID == "" {
		opts.BridgeID = "pentair"
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		client:     opts.Client,
		topics:     opts.Topics,
		entities:   opts.Entities,
		devices:    opts.Devices,
		climate:    opts.Climate,
		tempTopic:  opts.TemperatureTopic,
		qos:        opts.QoS,
		stateCache: make(map[string][]byte),
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Topic:     opts.Topics.BridgeHealth(),
		Interval:  opts.HealthInterval,
		Publisher: opts.Client,
		Devices:   func() int { return len(b.devices.Devices()) },
		Stats:     b.Stats,
		Cloud:     opts.Cloud,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// Start subscribes to commands and the temperature sensor, publishes the
// current state and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.client.Subscribe(commandTopic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	if b.tempTopic != "" && b.climate != nil {
		if err := b.client.Subscribe(b.tempTopic, b.qos, b.handleTemperature); err != nil {
			return fmt.Errorf("subscribe to temperature sensor: %w", err)
		}
		b.logInfo("subscribed to temperature sensor", "topic", b.tempTopic)
	}

	b.PublishAll()
	b.health.Start(ctx)
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes a stopping
// health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Stats returns the number of commands handled and how many failed.
func (b *Bridge) Stats() (total, failed uint64) {
	return b.commands.Load(), b.commandErrs.Load()
}

// PublishAll republishes every device. Call it after a broker reconnect.
func (b *Bridge) PublishAll() {
	b.ClearStateCache()
	for _, d := range b.devices.Devices() {
		b.Observe(d)
	}
}

// ClearStateCache forgets what was published, so the next Observe sends
// every entity again.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string][]byte)
	b.stateCacheMu.Unlock()
}

// Observe publishes the snapshot of a device and any entity whose state
// changed. It is meant to be registered as a hub change listener after the
// safety and climate listeners.
func (b *Bridge) Observe(d device.Device) {
	set, err := b.entities.For(d.ID)
	if err != nil {
		b.logError("building entities", err, "device_id", d.ID)
		return
	}

	states := set.States()
	msg := StateMessage{
		DeviceID:  d.ID,
		Timestamp: time.Now().UTC(),
		Device:    d,
		Entities:  states,
	}
	if t := b.thermostat(d.ID); t != nil {
		st := t.State()
		msg.Climate = &st
		b.publishState(b.topics.EntityState(d.ID, EntityClimate), st)
	}
	for _, st := range states {
		b.publishState(b.topics.EntityState(d.ID, st.Key), st)
	}
	b.publishJSON(b.topics.DeviceState(d.ID), msg, true)
}

// Notify publishes a safety notification. Bridge satisfies safety.Notifier.
func (b *Bridge) Notify(n safety.Notification) {
	b.publishJSON(b.topics.Notification(), n, false)
}

// thermostat returns the thermostat of a device, or nil without climate.
func (b *Bridge) thermostat(deviceID string) *climate.Thermostat {
	if b.climate == nil {
		return nil
	}
	t, err := b.climate.For(deviceID)
	if err != nil {
		return nil
	}
	return t
}

// publishState publishes a retained state when it differs from the last
// one sent on the topic.
func (b *Bridge) publishState(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal state", err, "topic", topic)
		return
	}

	b.stateCacheMu.Lock()
	unchanged := bytes.Equal(b.stateCache[topic], payload)
	if !unchanged {
		b.stateCache[topic] = payload
	}
	b.stateCacheMu.Unlock()
	if unchanged {
		return
	}

	if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
		b.forget(topic)
		b.logError("failed to publish state", err, "topic", topic)
	}
}

func (b *Bridge) forget(topic string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, topic)
	b.stateCacheMu.Unlock()
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err, "topic", topic)
		return
	}
	if err := b.client.Publish(topic, payload, b.qos, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

// track runs fn on its own goroutine unless the bridge is stopping. Paho
// delivers messages in order on one goroutine, so handlers must not block.
func (b *Bridge) track(fn func(ctx context.Context)) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
	return true
}

// handleCommand receives {prefix}/command/{device}/{entity}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, key, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidCommand, topic)
	}

	cmd, err := ParseCommand(key, payload)
	if err != nil {
		b.commands.Add(1)
		b.commandErrs.Add(1)
		b.publishAck(AckMessage{
			DeviceID: deviceID,
			Entity:   key,
			Status:   AckFailed,
			Error:    &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()},
		})
		return err
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", deviceID,
		"entity", key,
		"action", cmd.Action)

	b.track(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		b.execute(ctx, deviceID, key, cmd)
	})
	return nil
}

func (b *Bridge) execute(ctx context.Context, deviceID, key string, cmd CommandMessage) {
	b.commands.Add(1)

	var err error
	if key == EntityClimate {
		err = b.applyClimate(ctx, deviceID, cmd)
	} else {
		var e *entity.Entity
		if e, err = b.entities.Entity(deviceID, key); err == nil {
			err = e.Apply(ctx, cmd.EntityCommand())
		}
	}

	ack := AckMessage{
		CommandID: cmd.ID,
		DeviceID:  deviceID,
		Entity:    key,
		Action:    cmd.Action,
		Status:    AckAccepted,
	}
	if err != nil {
		b.commandErrs.Add(1)
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
		b.logWarn("command failed", "command_id", cmd.ID, "device_id", deviceID, "entity", key, "error", err)
	}
	b.publishAck(ack)
}

func (b *Bridge) applyClimate(ctx context.Context, deviceID string, cmd CommandMessage) error {
	if b.climate == nil {
		return ErrClimateDisabled
	}
	t, err := b.climate.For(deviceID)
	if err != nil {
		return err
	}

	switch cmd.Action {
	case ActionSetHVACMode:
		err = t.SetMode(ctx, cmd.Mode)
	case ActionSetTemperature:
		if cmd.Temperature == nil {
			return fmt.Errorf("%w: %s requires temperature", entity.ErrMissingArgument, cmd.Action)
		}
		err = t.SetTarget(ctx, *cmd.Temperature)
	case entity.ActionTurnOn:
		err = t.SetMode(ctx, climate.ModeHeat)
	case entity.ActionTurnOff:
		err = t.SetMode(ctx, climate.ModeOff)
	default:
		return fmt.Errorf("%w: %q on climate", entity.ErrUnsupported, cmd.Action)
	}
	b.publishState(b.topics.EntityState(deviceID, EntityClimate), t.State())
	return err
}

// handleTemperature receives the pool temperature sensor.
func (b *Bridge) handleTemperature(_ string, payload []byte) error {
	temp, err := climate.ParseTemperature(payload)
	if err != nil {
		b.climate.ClearTemperature()
		b.publishClimate()
		return err
	}

	b.track(func(ctx context.Context) {
		if err := b.climate.UpdateTemperature(ctx, temp); err != nil {
			b.logError("thermostat update failed", err, "temperature", temp)
		}
		b.publishClimate()
	})
	return nil
}

func (b *Bridge) publishClimate() {
	for _, t := range b.climate.Thermostats() {
		b.publishState(b.topics.EntityState(t.DeviceID(), EntityClimate), t.State())
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	ack.Timestamp = time.Now().UTC()
	b.publishJSON(b.topics.Ack(ack.DeviceID), ack, false)
}

// errorCode maps an error to an acknowledgement code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, safety.ErrSafetyViolation):
		return ErrCodeSafetyViolation
	case errors.Is(err, entity.ErrUnknownEntity), errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeUnknownEntity
	case errors.Is(err, entity.ErrUnsupported), errors.Is(err, ErrClimateDisabled):
		return ErrCodeUnsupported
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, entity.ErrMissingArgument),
		errors.Is(err, climate.ErrInvalidMode), errors.Is(err, safety.ErrUnknownPreset):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeCommandFailed
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
