package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/pentair-cloud-core/internal/auth"
	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/credentials"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/pentair-cloud-core/internal/program"
	"github.com/nerrad567/pentair-cloud-core/internal/safety"
)

const testDevice = "dev-1"

// fakeCore is a registry-backed Core and entity.Source.
type fakeCore struct {
	reg *device.Registry

	mu          sync.Mutex
	calls       []string
	failCommand bool
	refreshErr  error
	discoverErr error
}

func newFakeCore(t *testing.T) *fakeCore {
	t.Helper()
	reg := device.NewRegistry()
	if err := reg.Replace([]device.Device{{ID: testDevice, Name: "Pool"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	for _, p := range []struct {
		id   int
		name string
	}{{1, "Max"}, {2, "Medium"}, {5, "Lights"}, {6, "Heater"}} {
		if err := reg.UpsertProgram(testDevice, p.id, p.name, device.ProgramTypeManual, device.ControlInactive); err != nil {
			t.Fatalf("UpsertProgram() error = %v", err)
		}
	}
	return &fakeCore{reg: reg}
}

func (f *fakeCore) Devices() []device.Device                 { return f.reg.ListDevices() }
func (f *fakeCore) Device(id string) (*device.Device, error) { return f.reg.FindDevice(id) }

func (f *fakeCore) Activate(_ context.Context, deviceID string, programID int) bool {
	f.record(fmt.Sprintf("activate %d", programID))
	if f.failing() {
		return false
	}
	return f.reg.SetProgramControl(deviceID, programID, device.ControlActive) == nil
}

func (f *fakeCore) Deactivate(_ context.Context, deviceID string, programID int) bool {
	f.record(fmt.Sprintf("deactivate %d", programID))
	if f.failing() {
		return false
	}
	return f.reg.SetProgramControl(deviceID, programID, device.ControlInactive) == nil
}

func (f *fakeCore) StopAllPrograms(_ context.Context, deviceID string) bool {
	f.record("stop-all " + deviceID)
	return !f.failing()
}

func (f *fakeCore) UpdateStatus(_ context.Context, force bool) error {
	f.record(fmt.Sprintf("refresh force=%t", force))
	return f.refreshErr
}

func (f *fakeCore) PopulateDevices(context.Context) error {
	f.record("discover")
	return f.discoverErr
}

func (f *fakeCore) Authenticate(_ context.Context, username, password string) bool {
	f.record("authenticate " + username)
	return username == "owner@example.com" && password == "hunter2"
}

func (f *fakeCore) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failCommand
}

func (f *fakeCore) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSafety satisfies entity.Safety and climate.Heater.
type fakeSafety struct {
	mu         sync.Mutex
	percentage int
	heaterOn   bool
	turnOffErr error
}

func (f *fakeSafety) SetPercentage(p int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.percentage = p
	return p
}

func (f *fakeSafety) SetPreset(name string) (int, error) {
	speed, ok := safety.PresetSpeed(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", safety.ErrUnknownPreset, name)
	}
	return f.SetPercentage(speed), nil
}

func (f *fakeSafety) TurnOffPump(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.turnOffErr != nil {
		return f.turnOffErr
	}
	f.percentage = 0
	return nil
}

func (f *fakeSafety) SetHeater(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heaterOn = on
	return nil
}

func (f *fakeSafety) Percentage() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.percentage
}

func (f *fakeSafety) HeaterOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heaterOn
}

func (f *fakeSafety) Override() bool { return false }

type fixture struct {
	srv    *Server
	router http.Handler
	core   *fakeCore
	safety *fakeSafety
}

type fixtureOption func(*Deps)

func withAPIKey(t *testing.T, key string) fixtureOption {
	t.Helper()
	hash, err := auth.HashKey(key)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	return func(d *Deps) { d.Config.APIKeyHash = hash }
}

func withoutClimate() fixtureOption {
	return func(d *Deps) { d.Climate = nil }
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// newFixture creates a Server over a fake core, a real entity directory and
// a real climate group.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	core := newFakeCore(t)
	sc := &fakeSafety{}
	mapper, err := program.New(config.Default().Programs)
	if err != nil {
		t.Fatalf("program.New() error = %v", err)
	}
	dir, err := entity.NewDirectory(core, mapper, func(string) (entity.Safety, error) { return sc, nil })
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Core:     core,
		Entities: dir,
		Climate: climate.NewGroup(climate.Options{}, func(string) (climate.Heater, error) {
			return sc, nil
		}),
		Version: "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{srv: srv, router: srv.buildRouter(), core: core, safety: sc}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, w)["code"].(string)
	return code
}

func TestNew_Validation(t *testing.T) {
	core := newFakeCore(t)
	mapper, _ := program.New(config.Default().Programs)
	dir, _ := entity.NewDirectory(core, mapper, func(string) (entity.Safety, error) { return &fakeSafety{}, nil })

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Core: core, Entities: dir}},
		{"no core", Deps{Logger: testLogger(), Entities: dir}},
		{"no entities", Deps{Logger: testLogger(), Core: core}},
		{"bad key hash", Deps{Logger: testLogger(), Core: core, Entities: dir, Config: config.APIConfig{APIKeyHash: "plain"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok and version test", body)
	}
	if body["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", body["devices"])
	}
}

type fakeSession struct {
	authenticated bool
	cred          credentials.Credential
	haveCred      bool
}

func (f fakeSession) Authenticated() bool { return f.authenticated }

func (f fakeSession) Current() (credentials.Credential, bool) { return f.cred, f.haveCred }

func TestHealth_Session(t *testing.T) {
	expiry := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		session fakeSession
		want    map[string]any
	}{
		{
			name:    "signed out",
			session: fakeSession{},
			want:    map[string]any{"authenticated": false},
		},
		{
			name: "signed in",
			session: fakeSession{
				authenticated: true,
				cred:          credentials.Credential{Generation: 3, IDTokenExpiry: expiry},
				haveCred:      true,
			},
			want: map[string]any{
				"authenticated":    true,
				"token_generation": float64(3),
				"token_expires_at": "2026-07-01T13:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Session = tt.session })
			body := decodeBody(t, f.do(t, http.MethodGet, "/api/v1/health", ""))

			got := map[string]any{}
			for _, key := range []string{"authenticated", "token_generation", "token_expires_at"} {
				if v, ok := body[key]; ok {
					got[key] = v
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("session fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "")
	if got := w.Header().Get("X-Request-ID"); len(got) != 2*requestIDBytes {
		t.Errorf("generated X-Request-ID = %q, want %d hex chars", got, 2*requestIDBytes)
	}

	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"client id", "client-42", true},
		{"dotted", "ha.pool_1", true},
		{"header injection", "a b\r\nx", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", tt.inbound)
			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.inbound {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.inbound)
			}
			if !tt.keep && got == tt.inbound {
				t.Errorf("X-Request-ID %q should have been replaced", got)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		headers     []string
		wantStatus  int
		wantAllowed string
		wantMethods bool
	}{
		{
			name:        "preflight any origin",
			method:      http.MethodOptions,
			headers:     []string{"Origin", "http://panel.local", "Access-Control-Request-Method", "PUT"},
			wantStatus:  http.StatusNoContent,
			wantAllowed: "http://panel.local",
			wantMethods: true,
		},
		{
			name:       "preflight refused origin",
			origins:    []string{"http://ha.local"},
			method:     http.MethodOptions,
			headers:    []string{"Origin", "http://evil.example", "Access-Control-Request-Method", "PUT"},
			wantStatus: http.StatusNoContent,
		},
		{
			name:        "simple request",
			origins:     []string{"http://ha.local"},
			method:      http.MethodGet,
			headers:     []string{"Origin", "http://ha.local"},
			wantStatus:  http.StatusOK,
			wantAllowed: "http://ha.local",
		},
		{
			name:       "no origin",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.origins })
			w := f.do(t, tt.method, "/api/v1/devices", "", tt.headers...)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if got := w.Header().Get("Access-Control-Allow-Methods") != ""; got != tt.wantMethods {
				t.Errorf("Allow-Methods present = %v, want %v", got, tt.wantMethods)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Use(f.srv.recoveryMiddleware)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := errorCode(t, w); got != ErrCodeInternal {
		t.Errorf("code = %q, want %q", got, ErrCodeInternal)
	}
}

func TestListDevices(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/devices", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || len(resp.Devices) != 1 || resp.Devices[0].ID != testDevice {
		t.Errorf("devices = %+v, want one %s", resp, testDevice)
	}
	if len(resp.Devices[0].Programs) != 4 {
		t.Errorf("programs = %d, want 4", len(resp.Devices[0].Programs))
	}
}

func TestGetDevice(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/devices/"+testDevice, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody(t, w)["name"]; got != "Pool" {
		t.Errorf("name = %v, want Pool", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/devices/dev-9", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDiscover(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/devices/discover", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	f.core.discoverErr = errors.New("cloud down")
	w = f.do(t, http.MethodPost, "/api/v1/devices/discover", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("failing discovery status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		err       error
		wantCode  int
		wantCalls []string
	}{
		{"default", "", nil, http.StatusOK, []string{"refresh force=false"}},
		{"forced", "?force=true", nil, http.StatusOK, []string{"refresh force=true"}},
		{"bad flag", "?force=maybe", nil, http.StatusBadRequest, nil},
		{"cancelled", "", context.Canceled, http.StatusServiceUnavailable, []string{"refresh force=false"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.core.refreshErr = tt.err

			w := f.do(t, http.MethodPost, "/api/v1/status/refresh"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if diff := cmp.Diff(tt.wantCalls, f.core.getCalls()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		fail      bool
		wantCode  int
		wantCalls []string
	}{
		{"activate", "/api/v1/devices/dev-1/programs/5/activate", false, http.StatusOK, []string{"activate 5"}},
		{"deactivate", "/api/v1/devices/dev-1/programs/5/deactivate", false, http.StatusOK, []string{"deactivate 5"}},
		{"slot out of range", "/api/v1/devices/dev-1/programs/9/activate", false, http.StatusBadRequest, nil},
		{"slot not a number", "/api/v1/devices/dev-1/programs/abc/activate", false, http.StatusBadRequest, nil},
		{"unknown device", "/api/v1/devices/dev-9/programs/5/activate", false, http.StatusNotFound, nil},
		{"not confirmed", "/api/v1/devices/dev-1/programs/5/activate", true, http.StatusBadGateway, []string{"activate 5"}},
		{"stop all", "/api/v1/devices/dev-1/programs/stop-all", false, http.StatusOK, []string{"stop-all dev-1"}},
		{"stop all fails", "/api/v1/devices/dev-1/programs/stop-all", true, http.StatusBadGateway, []string{"stop-all dev-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.core.failCommand = tt.fail

			w := f.do(t, http.MethodPost, tt.path, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if diff := cmp.Diff(tt.wantCalls, f.core.getCalls()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListEntities(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/devices/dev-1/entities", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Entities []entity.State `json:"entities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var keys []string
	for _, e := range resp.Entities {
		keys = append(keys, e.Key)
	}
	want := []string{"pump", "pump_speed", "heater", "light", "program_1", "program_2", "program_5", "program_6"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("entity keys mismatch (-want +got):\n%s", diff)
	}
}

func TestEntityCommand(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		body      string
		wantCode  int
		wantCalls []string
	}{
		{"light on", "light", `{"action":"turn_on"}`, http.StatusAccepted, []string{"activate 5"}},
		{"program off", "program_2", `{"action":"turn_off"}`, http.StatusAccepted, []string{"deactivate 2"}},
		{"unknown entity", "spa", `{"action":"turn_on"}`, http.StatusNotFound, nil},
		{"missing action", "light", `{}`, http.StatusBadRequest, nil},
		{"invalid json", "light", `{`, http.StatusBadRequest, nil},
		{"unsupported", "light", `{"action":"set_percentage","percentage":50}`, http.StatusBadRequest, nil},
		{"missing argument", "pump", `{"action":"set_percentage"}`, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/entities/"+tt.key, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if diff := cmp.Diff(tt.wantCalls, f.core.getCalls()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPump(t *testing.T) {
	t.Run("preset", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/pump", `{"preset_mode":"high","percentage":30}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
		}
		if got := f.safety.Percentage(); got != 75 {
			t.Errorf("percentage = %d, want 75", got)
		}
	})

	t.Run("percentage", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/pump", `{"percentage":30}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
		}
		if got := f.safety.Percentage(); got != 30 {
			t.Errorf("percentage = %d, want 30", got)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		f := newFixture(t)
		if w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/pump", `{}`); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown preset", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/pump", `{"preset_mode":"turbo"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("get", func(t *testing.T) {
		f := newFixture(t)
		f.safety.SetPercentage(50)
		w := f.do(t, http.MethodGet, "/api/v1/devices/dev-1/pump", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if body["key"] != entity.KeyPump || body["kind"] != string(entity.KindFan) {
			t.Errorf("body = %v, want the pump fan entity", body)
		}
	})

	t.Run("stop", func(t *testing.T) {
		f := newFixture(t)
		f.safety.SetPercentage(50)
		if w := f.do(t, http.MethodDelete, "/api/v1/devices/dev-1/pump", ""); w.Code != http.StatusAccepted {
			t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
		}
		if got := f.safety.Percentage(); got != 0 {
			t.Errorf("percentage = %d, want 0", got)
		}
	})

	t.Run("stop refused while heating", func(t *testing.T) {
		f := newFixture(t)
		f.safety.turnOffErr = safety.ErrSafetyViolation
		w := f.do(t, http.MethodDelete, "/api/v1/devices/dev-1/pump", "")
		if w.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
		}
		if got := errorCode(t, w); got != ErrCodeSafetyViolation {
			t.Errorf("code = %q, want %q", got, ErrCodeSafetyViolation)
		}
	})
}

func TestHeater(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/heater", `{"on":true}`); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if !f.safety.HeaterOn() {
		t.Error("heater should be on")
	}

	if w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/heater", `{"on":false}`); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if f.safety.HeaterOn() {
		t.Error("heater should be off")
	}

	if w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/heater", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing on status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestClimate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/devices/dev-1/climate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	var st climate.State
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Mode != climate.ModeOff {
		t.Errorf("mode = %q, want %q", st.Mode, climate.ModeOff)
	}

	w = f.do(t, http.MethodPut, "/api/v1/devices/dev-1/climate", `{"hvac_mode":"heat","target_temperature":85}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Mode != climate.ModeHeat || st.Target != 85 {
		t.Errorf("state = %+v, want heat at 85", st)
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad mode", `{"hvac_mode":"cool"}`, http.StatusBadRequest},
		{"empty", `{}`, http.StatusBadRequest},
		{"invalid json", `[`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPut, "/api/v1/devices/dev-1/climate", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestClimate_Disabled(t *testing.T) {
	f := newFixture(t, withoutClimate())
	if w := f.do(t, http.MethodGet, "/api/v1/devices/dev-1/climate", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"accepted", `{"username":"owner@example.com","password":"hunter2"}`, http.StatusOK},
		{"rejected", `{"username":"owner@example.com","password":"wrong"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"owner@example.com"}`, http.StatusBadRequest},
		{"invalid json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if w := f.do(t, http.MethodPost, "/api/v1/auth/login", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, withAPIKey(t, "s3cret-key"))

	tests := []struct {
		name     string
		method   string
		path     string
		headers  []string
		wantCode int
	}{
		{"read without key", http.MethodGet, "/api/v1/devices", nil, http.StatusOK},
		{"health without key", http.MethodGet, "/api/v1/health", nil, http.StatusOK},
		{"write without key", http.MethodPost, "/api/v1/devices/dev-1/programs/5/activate", nil, http.StatusUnauthorized},
		{"wrong scheme", http.MethodPost, "/api/v1/devices/dev-1/programs/5/activate", []string{"Authorization", "Basic s3cret-key"}, http.StatusUnauthorized},
		{"wrong key", http.MethodPost, "/api/v1/devices/dev-1/programs/5/activate", []string{"Authorization", "Bearer guess"}, http.StatusUnauthorized},
		{"valid key", http.MethodPost, "/api/v1/devices/dev-1/programs/5/activate", []string{"Authorization", "Bearer s3cret-key"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, tt.method, tt.path, "", tt.headers...); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMetricsRoutes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pentaircloud_devices 1\n")) //nolint:errcheck
	})
	f := newFixture(t, func(d *Deps) {
		d.MetricsHandler = handler
		d.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	})

	for _, path := range []string{"/metrics", "/api/v1/metrics"} {
		w := f.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pentaircloud_devices") {
			t.Errorf("GET %s = %d %q, want the exposition", path, w.Code, w.Body.String())
		}
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
	}{
		{fmt.Errorf("stop: %w", safety.ErrSafetyViolation), http.StatusConflict},
		{device.ErrDeviceNotFound, http.StatusNotFound},
		{device.ErrProgramNotFound, http.StatusNotFound},
		{entity.ErrUnknownEntity, http.StatusNotFound},
		{entity.ErrUnsupported, http.StatusBadRequest},
		{entity.ErrMissingArgument, http.StatusBadRequest},
		{safety.ErrUnknownPreset, http.StatusBadRequest},
		{climate.ErrInvalidMode, http.StatusBadRequest},
		{entity.ErrCommandFailed, http.StatusBadGateway},
		{safety.ErrCommandFailed, http.StatusBadGateway},
		{safety.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeDomainError(w, tt.err)
		if w.Code != tt.wantCode {
			t.Errorf("writeDomainError(%v) = %d, want %d", tt.err, w.Code, tt.wantCode)
		}
	}
}

func TestTicketStore(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue()
	if len(ticket) != 2*ticketBytes {
		t.Errorf("ticket length = %d, want %d", len(ticket), 2*ticketBytes)
	}
	if !store.consume(ticket) {
		t.Error("ticket should be valid on first use")
	}
	if store.consume(ticket) {
		t.Error("ticket should not be valid on second use")
	}

	now := time.Now()
	store.now = func() time.Time { return now }
	expired := store.issue()
	store.now = func() time.Time { return now.Add(ticketTTL + time.Second) }
	if store.consume(expired) {
		t.Error("expired ticket should not be valid")
	}

	stale := store.issue()
	store.now = func() time.Time { return now.Add(3 * ticketTTL) }
	store.clean()
	store.mu.Lock()
	_, kept := store.tickets[stale]
	store.mu.Unlock()
	if kept {
		t.Error("clean() kept an expired ticket")
	}
}

type recordedRequest struct {
	route  string
	method string
	status int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *fakeRecorder) HTTPRequest(route, method string, status int, _ time.Duration) {
	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{route, method, status})
	r.mu.Unlock()
}

func TestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	f := newFixture(t, func(d *Deps) { d.Recorder = rec })

	f.do(t, http.MethodGet, "/api/v1/devices/"+testDevice+"/pump", "")
	f.do(t, http.MethodGet, "/nowhere", "")

	want := []recordedRequest{
		{route: "/api/v1/devices/{id}/pump", method: http.MethodGet, status: http.StatusOK},
		{route: "unmatched", method: http.MethodGet, status: http.StatusNotFound},
	}
	if diff := cmp.Diff(want, rec.requests, cmp.AllowUnexported(recordedRequest{})); diff != "" {
		t.Errorf("recorded requests mismatch (-want +got):\n%s", diff)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	c := newWSClient(hub, nil)
	c.subscribe(WSSubscribePayload{Channels: channels})
	return c
}

func receive(t *testing.T, c *WSClient) (WSMessage, bool) {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg, true
	case <-time.After(100 * time.Millisecond):
		return WSMessage{}, false
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	subscribed := newTestClient(hub, EventSafetyNotification)
	wildcard := newTestClient(hub, channelAll)
	other := newTestClient(hub, EventDeviceStateChanged)
	for _, c := range []*WSClient{subscribed, wildcard, other} {
		hub.Register(c)
	}

	hub.Broadcast(Event{Channel: EventSafetyNotification, Payload: map[string]any{"id": "x"}})

	for name, c := range map[string]*WSClient{"subscribed": subscribed, "wildcard": wildcard} {
		msg, ok := receive(t, c)
		if !ok {
			t.Errorf("%s client got nothing", name)
			continue
		}
		if msg.Type != WSTypeEvent || msg.EventType != EventSafetyNotification {
			t.Errorf("%s client got %+v, want a %s event", name, msg, EventSafetyNotification)
		}
	}
	if _, ok := receive(t, other); ok {
		t.Error("unsubscribed client should not receive the event")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	c := newTestClient(hub)

	hub.Register(c)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("after register count = %d, want 1", got)
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("after unregister count = %d, want 0", got)
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	pool := newTestClient(hub, EventDeviceStateChanged)
	pool.subscribe(WSSubscribePayload{Channels: []string{EventDeviceStateChanged}, Devices: []string{"dev-1"}})
	everything := newTestClient(hub, channelAll)
	hub.Register(pool)
	hub.Register(everything)

	hub.Broadcast(Event{Channel: EventDeviceStateChanged, DeviceID: "dev-2"})
	if _, ok := receive(t, pool); ok {
		t.Error("filtered client received an event for another device")
	}
	if _, ok := receive(t, everything); !ok {
		t.Error("unfiltered client missed the dev-2 event")
	}

	hub.Broadcast(Event{Channel: EventDeviceStateChanged, DeviceID: "dev-1"})
	msg, ok := receive(t, pool)
	if !ok || msg.DeviceID != "dev-1" {
		t.Errorf("filtered client got %+v, %v; want the dev-1 event", msg, ok)
	}
}

func TestHub_DropsForSlowAndClosedClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	slow := newTestClient(hub, channelAll)
	hub.Register(slow)

	for range wsSendBufferSize + 3 {
		hub.Broadcast(Event{Channel: EventSafetyNotification})
	}
	if got := hub.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}

	hub.Unregister(slow)
	if slow.trySend([]byte("{}")) {
		t.Error("trySend() on a closed client = true, want false")
	}
}

func TestWSClient_SubscribeSendsSnapshot(t *testing.T) {
	f := newFixture(t)
	c := newTestClient(f.srv.Hub())

	c.handleMessage([]byte(`{"type":"subscribe","id":"s1","payload":{"channels":["device.state_changed"]}}`))

	ack, ok := receive(t, c)
	if !ok || ack.Type != WSTypeResponse || ack.ID != "s1" {
		t.Fatalf("first message = %+v, want response s1", ack)
	}
	event, ok := receive(t, c)
	if !ok {
		t.Fatal("no snapshot event after subscribe")
	}
	if event.EventType != EventDeviceStateChanged || event.DeviceID != testDevice {
		t.Errorf("snapshot = %+v, want %s for %s", event, EventDeviceStateChanged, testDevice)
	}
}

func TestWSClient_HandleMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"invalid json", `{`, "invalid JSON message"},
		{"unknown type", `{"type":"shout","id":"x"}`, "unknown message type: shout"},
		{"missing payload", `{"type":"subscribe","id":"x"}`, "invalid subscribe payload"},
		{"no channels", `{"type":"unsubscribe","id":"x","payload":{"channels":[]}}`, "channels are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(NewHub(config.WebSocketConfig{}, testLogger()))
			c.handleMessage([]byte(tt.raw))

			msg, ok := receive(t, c)
			if !ok || msg.Type != WSTypeError {
				t.Fatalf("got %+v, want an error message", msg)
			}
			payload, _ := msg.Payload.(map[string]any)
			if payload["message"] != tt.want {
				t.Errorf("message = %v, want %q", payload["message"], tt.want)
			}
		})
	}
}

func TestServer_Observe(t *testing.T) {
	f := newFixture(t)
	c := newTestClient(f.srv.Hub(), EventDeviceStateChanged)
	f.srv.Hub().Register(c)

	d, err := f.core.Device(testDevice)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	f.srv.Observe(*d)

	select {
	case raw := <-c.send:
		var msg struct {
			EventType string      `json:"event_type"`
			Payload   DeviceEvent `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.EventType != EventDeviceStateChanged || msg.Payload.Device.ID != testDevice {
			t.Errorf("event = %+v, want %s for %s", msg, EventDeviceStateChanged, testDevice)
		}
		if len(msg.Payload.Entities) != 8 {
			t.Errorf("entities = %d, want 8", len(msg.Payload.Entities))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device event")
	}
}

func TestServer_Notify(t *testing.T) {
	f := newFixture(t)
	c := newTestClient(f.srv.Hub(), EventSafetyNotification)
	f.srv.Hub().Register(c)

	var notifier safety.Notifier = f.srv
	notifier.Notify(safety.Notification{ID: safety.NotificationPumpBlock, DeviceID: testDevice, Title: "Pump"})

	msg, ok := receive(t, c)
	if !ok {
		t.Fatal("no notification event")
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["id"] != safety.NotificationPumpBlock {
		t.Errorf("payload = %v, want id %s", payload, safety.NotificationPumpBlock)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	f := newFixture(t, withAPIKey(t, "s3cret-key"))

	if w := f.do(t, http.MethodGet, "/api/v1/ws", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no ticket status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/ws?ticket=forged", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad ticket status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWebSocket_FullConnection(t *testing.T) {
	f := newFixture(t, withAPIKey(t, "s3cret-key"))
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer s3cret-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{EventSafetyNotification}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("response = %+v, want response sub-1", ack)
	}

	f.srv.Notify(safety.Notification{ID: safety.NotificationSpeedOverride, DeviceID: testDevice})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != EventSafetyNotification {
		t.Errorf("event_type = %q, want %q", event.EventType, EventSafetyNotification)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p-1" {
		t.Errorf("pong = %+v, want pong p-1", pong)
	}
}
