package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/pentair-cloud-core/internal/credentials"
)

// API paths.
const (
	devicesPath      = "/device/device-service/user/devices"
	deviceStatusPath = "/device2/device2-service/user/device"
	deviceSetPath    = "/device/device-service/user/device/"
)

const (
	signingService  = "execute-api"
	userAgent       = "aws-amplify/4.3.10 react-native"
	contentType     = "application/json; charset=UTF-8"
	setSuccessCode  = "set_device_success"
	maxResponseBody = 4 << 20
)

// Default client settings.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxFailures     = 5
	DefaultBreakerTimeout  = 60 * time.Second
	defaultBreakerName     = "pentair-cloud"
	defaultBreakerInterval = 0
)

// Logger defines the logging interface used by the Client.
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

// Options configures a Client.
type Options struct {
	// Endpoint is the API base URL. Required.
	Endpoint string
	// Region is the SigV4 signing region. Required.
	Region string
	// HTTPClient performs requests. Default: a client with DefaultTimeout.
	HTTPClient *http.Client
	// MaxFailures is the number of consecutive transient failures that opens
	// the breaker. Default: 5.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open. Default: 60s.
	OpenTimeout time.Duration
	// OnBreakerChange is called on every breaker state transition.
	OnBreakerChange func(from, to gobreaker.State)
	Logger          Logger
	// Now overrides the signing clock (tests).
	Now func() time.Time
}

// DeviceInfo is one entry of the account's device list.
type DeviceInfo struct {
	ID          string `json:"deviceId"`
	Type        string `json:"deviceType"`
	Status      string `json:"status"`
	ProductName string `json:"pname"`
	ProductInfo struct {
		NickName string `json:"nickName"`
	} `json:"productInfo"`
}

// Name returns the user-assigned nickname.
func (d DeviceInfo) Name() string {
	return d.ProductInfo.NickName
}

// DeviceStatus is the raw field map reported for one device.
type DeviceStatus struct {
	ID     string `json:"deviceId"`
	Fields Fields `json:"fields"`
}

// Client is a SigV4-signing Pentair cloud API client.
//
// All calls go through one circuit breaker. Only transient failures count
// against it; protocol errors mean the cloud answered.
type Client struct {
	endpoint string
	region   string
	http     *http.Client
	signer   *v4.Signer
	breaker  *gobreaker.CircuitBreaker
	logger   Logger
	now      func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}

	c := &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		region:   opts.Region,
		http:     opts.HTTPClient,
		signer:   v4.NewSigner(),
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultBreakerTimeout
	}
	onChange := opts.OnBreakerChange

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     defaultBreakerName,
		Interval: defaultBreakerInterval,
		Timeout:  openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("cloud circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(from, to)
			}
		},
	})

	return c, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// ListDevices returns every device registered to the account.
func (c *Client) ListDevices(ctx context.Context, cred credentials.Credential) ([]DeviceInfo, error) {
	var resp struct {
		Data *[]DeviceInfo `json:"data"`
	}
	if err := c.do(ctx, cred, http.MethodGet, devicesPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("listing devices: %w: missing data", ErrProtocol)
	}
	return *resp.Data, nil
}

// GetStatus fetches the field maps of the given devices in one request.
func (c *Client) GetStatus(ctx context.Context, cred credentials.Credential, deviceIDs []string) ([]DeviceStatus, error) {
	body := struct {
		DeviceIDs []string `json:"deviceIds"`
	}{DeviceIDs: deviceIDs}
	if body.DeviceIDs == nil {
		body.DeviceIDs = []string{}
	}

	var resp struct {
		Response *struct {
			Data []DeviceStatus `json:"data"`
		} `json:"response"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, cred, http.MethodPost, deviceStatusPath, body, &resp); err != nil {
		return nil, fmt.Errorf("fetching device status: %w", err)
	}
	if resp.Response == nil {
		return nil, fmt.Errorf("fetching device status: %w", messageError(http.StatusOK, resp.Message, ErrProtocol))
	}
	return resp.Response.Data, nil
}

// SetField writes a single field on a device. The call succeeds only when the
// cloud answers with code set_device_success.
func (c *Client) SetField(ctx context.Context, cred credentials.Credential, deviceID, field, value string) error {
	body := map[string]map[string]string{
		"payload": {field: value},
	}

	var resp struct {
		Data struct {
			Code string `json:"code"`
		} `json:"data"`
		Message string `json:"message"`
	}
	path := deviceSetPath + url.PathEscape(deviceID)
	if err := c.do(ctx, cred, http.MethodPut, path, body, &resp); err != nil {
		return fmt.Errorf("setting %s on %s: %w", field, deviceID, err)
	}
	if resp.Data.Code != setSuccessCode {
		return fmt.Errorf("setting %s on %s: %w", field, deviceID, &APIError{
			Status:  http.StatusOK,
			Message: resp.Message,
			Code:    resp.Data.Code,
			kind:    ErrProtocol,
		})
	}
	return nil
}

// do signs and sends one request through the breaker and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, cred credentials.Credential, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-amz-id-token", cred.IDToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)

	sum := sha256.Sum256(payload)
	if err := c.signer.SignHTTP(ctx, cred.AWS, req, hex.EncodeToString(sum[:]), signingService, c.region, c.now()); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}

	start := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	c.logger.Debug("cloud request completed", "method", method, "path", path, "duration", time.Since(start))

	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrProtocol, err)
	}
	return nil
}

// send performs the HTTP exchange and classifies the outcome.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	return nil, statusError(resp.StatusCode, body.Message)
}

func statusError(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Status: status, Message: message, kind: ErrUnauthorized}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &APIError{Status: status, Message: message, kind: ErrTimeout}
	case status == http.StatusTooManyRequests || status >= 500:
		return messageError(status, message, ErrTransient)
	default:
		return messageError(status, message, ErrProtocol)
	}
}

// messageError builds an APIError, promoting it to ErrTimeout when the
// message mentions a timeout.
func messageError(status int, message string, kind error) *APIError {
	if strings.Contains(strings.ToLower(message), "timeout") {
		kind = ErrTimeout
	}
	return &APIError{Status: status, Message: message, kind: kind}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
