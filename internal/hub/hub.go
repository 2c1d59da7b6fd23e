package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/pentair-cloud-core/internal/cloud"
	"github.com/nerrad567/pentair-cloud-core/internal/credentials"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
)

// Default timing.
const (
	DefaultMinInterval  = 60 * time.Second
	DefaultScanInterval = 30 * time.Second
	DefaultStartupRetry = 5 * time.Minute
)

// CredentialSource is the session the hub signs requests with.
// It is satisfied by *credentials.Manager.
type CredentialSource interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
	EnsureToken(ctx context.Context) (credentials.Credential, error)
	Reauthenticate(ctx context.Context) error
}

// CloudAPI is the remote device API. It is satisfied by *cloud.Client.
type CloudAPI interface {
	ListDevices(ctx context.Context, cred credentials.Credential) ([]cloud.DeviceInfo, error)
	GetStatus(ctx context.Context, cred credentials.Credential, deviceIDs []string) ([]cloud.DeviceStatus, error)
	SetField(ctx context.Context, cred credentials.Credential, deviceID, field, value string) error
}

// Recorder receives poll and command outcomes for metrics.
type Recorder interface {
	PollCompleted(result string, at time.Time)
	CommandCompleted(action, result string)
	DevicesDiscovered(n int)
}

type noopRecorder struct{}

func (noopRecorder) PollCompleted(string, time.Time)  {}
func (noopRecorder) CommandCompleted(string, string) {}
func (noopRecorder) DevicesDiscovered(int)           {}

// Logger defines the logging interface used by the Hub.
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

// Poll and command results reported to the Recorder.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// ChangeFunc is called with a fresh copy of a device after its state changed.
type ChangeFunc func(d device.Device)

// Options configures a Hub.
type Options struct {
	// Credentials is the signing session. Required.
	Credentials CredentialSource
	// Cloud is the remote API. Required.
	Cloud CloudAPI
	// Registry receives discovered devices. Default: a new empty registry.
	Registry *device.Registry
	// MinInterval rate-limits unforced refreshes. Default: 60s.
	MinInterval time.Duration
	// ScanInterval is the scheduler period. Default: 30s.
	ScanInterval time.Duration
	Logger       Logger
	Metrics      Recorder
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Hub owns the device registry and every call to the Pentair cloud.
type Hub struct {
	creds        CredentialSource
	cloud        CloudAPI
	registry     *device.Registry
	minInterval  time.Duration
	scanInterval time.Duration
	logger       Logger
	metrics      Recorder
	now          func() time.Time

	refreshMu   sync.Mutex
	lastRefresh time.Time

	// rediscover is set when the bearer token changes; the next scheduler
	// cycle runs a full discovery instead of a status refresh.
	rediscover atomic.Bool

	listenersMu sync.RWMutex
	listeners   []ChangeFunc

	started  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Hub. No remote calls are made until Authenticate or Startup.
func New(opts Options) (*Hub, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if opts.Cloud == nil {
		return nil, fmt.Errorf("cloud client is required")
	}

	h := &Hub{
		creds:        opts.Credentials,
		cloud:        opts.Cloud,
		registry:     opts.Registry,
		minInterval:  opts.MinInterval,
		scanInterval: opts.ScanInterval,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		done:         make(chan struct{}),
	}
	if h.registry == nil {
		h.registry = device.NewRegistry()
	}
	if h.minInterval <= 0 {
		h.minInterval = DefaultMinInterval
	}
	if h.scanInterval <= 0 {
		h.scanInterval = DefaultScanInterval
	}
	if h.logger == nil {
		h.logger = noopLogger{}
	}
	if h.metrics == nil {
		h.metrics = noopRecorder{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Registry returns the device registry owned by the hub.
func (h *Hub) Registry() *device.Registry {
	return h.registry
}

// OnChange registers a listener for device state changes.
func (h *Hub) OnChange(fn ChangeFunc) {
	h.listenersMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenersMu.Unlock()
}

func (h *Hub) notify(devices ...device.Device) {
	h.listenersMu.RLock()
	listeners := make([]ChangeFunc, len(h.listeners))
	copy(listeners, h.listeners)
	h.listenersMu.RUnlock()

	for _, d := range devices {
		for _, fn := range listeners {
			fn(d)
		}
	}
}

func (h *Hub) notifyDevice(id string) {
	d, err := h.registry.FindDevice(id)
	if err != nil {
		return
	}
	h.notify(*d)
}

// TokenChanged schedules a full rediscovery on the next scheduler cycle.
// Wire it to the credential manager's token change hook.
func (h *Hub) TokenChanged(cred credentials.Credential) {
	h.logger.Info("bearer token changed, rediscovery scheduled", "generation", cred.Generation)
	h.rediscover.Store(true)
}

// RediscoveryPending reports whether a token change is awaiting discovery.
func (h *Hub) RediscoveryPending() bool {
	return h.rediscover.Load()
}

// Authenticate signs in with the given account. On success the next scheduler
// cycle rediscovers devices.
func (h *Hub) Authenticate(ctx context.Context, username, password string) bool {
	ok, err := h.creds.Authenticate(ctx, username, password)
	if err != nil {
		h.logger.Error("authentication failed", "error", err)
		return false
	}
	if ok {
		h.rediscover.Store(true)
	}
	return ok
}

// Devices returns every known device in discovery order.
func (h *Hub) Devices() []device.Device {
	return h.registry.ListDevices()
}

// Device returns one device by ID.
func (h *Hub) Device(id string) (*device.Device, error) {
	return h.registry.FindDevice(id)
}

// Startup signs in and discovers devices, retrying transient failures with
// exponential backoff for up to maxElapsed. Rejected credentials stop the
// retries immediately.
func (h *Hub) Startup(ctx context.Context, username, password string, maxElapsed time.Duration) error {
	if maxElapsed <= 0 {
		maxElapsed = DefaultStartupRetry
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	op := func() error {
		if _, err := h.creds.Authenticate(ctx, username, password); err != nil {
			if errors.Is(err, credentials.ErrAuth) {
				return backoff.Permanent(err)
			}
			return err
		}
		return h.PopulateDevices(ctx)
	}
	notify := func(err error, next time.Duration) {
		h.logger.Warn("startup failed, retrying", "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("starting pentair cloud session: %w", err)
	}
	return nil
}
