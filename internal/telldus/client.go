package telldus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
	"github.com/AndreCAndersen/home2telldus/internal/observability"
)

const (
	DefaultLiveURL  = "https://live.telldus.com"
	DefaultLoginURL = "https://login.telldus.com/openid/server"
	DefaultTimeout  = 30 * time.Second
)

type Endpoints struct {
	Live  string
	Login string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{Live: DefaultLiveURL, Login: DefaultLoginURL}
}

// Client holds one authenticated Telldus Live session and the inventory
// fetched right after login. It is not safe for concurrent use and must not
// be shared between requests.
type Client struct {
	hc        *http.Client
	endpoints Endpoints
	auth      Authenticator
	sleep     func(time.Duration)
	logger    *slog.Logger

	email    string
	clients  []RemoteClient
	devices  []Device
	openedAt time.Time
	closed   bool
}

type Option func(*Client)

// WithHTTPClient uses a copy of hc as the transport; the session cookie jar is always fresh.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.hc = &cp
		}
	}
}

func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		if e.Live != "" {
			c.endpoints.Live = strings.TrimRight(e.Live, "/")
		}
		if e.Login != "" {
			c.endpoints.Login = e.Login
		}
	}
}

func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) {
		if a != nil {
			c.auth = a
		}
	}
}

// WithSleeper replaces time.Sleep between command repeats.
func WithSleeper(fn func(time.Duration)) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

var tracer = otel.Tracer("home2telldus/telldus")

// Open logs in to Telldus Live and loads the client and device lists.
func Open(ctx context.Context, creds Credentials, opts ...Option) (*Client, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, apperrors.CredentialsMissing()
	}

	c := &Client{
		hc:        &http.Client{Timeout: DefaultTimeout},
		endpoints: DefaultEndpoints(),
		sleep:     time.Sleep,
		logger:    slog.Default(),
		email:     creds.Email,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.auth == nil {
		c.auth = OpenIDFormAuthenticator{Logger: c.logger}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	c.hc.Jar = jar

	ctx, span := tracer.Start(ctx, "telldus.open")
	defer span.End()

	if err := c.auth.Authenticate(ctx, c.hc, c.endpoints, creds); err != nil {
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}

	var clients clientListResponse
	if err := c.getJSON(ctx, "client_list", "/client/list", nil, &clients); err != nil {
		span.SetStatus(codes.Error, "client list failed")
		return nil, err
	}
	if clients.Error != "" {
		span.SetStatus(codes.Error, "client list rejected")
		return nil, apperrors.RemoteRequestFailed(fmt.Errorf("client list: %s", clients.Error))
	}
	var devices deviceListResponse
	if err := c.getJSON(ctx, "device_list", "/device/list", nil, &devices); err != nil {
		span.SetStatus(codes.Error, "device list failed")
		return nil, err
	}
	if devices.Error != "" {
		span.SetStatus(codes.Error, "device list rejected")
		return nil, apperrors.RemoteRequestFailed(fmt.Errorf("device list: %s", devices.Error))
	}

	for _, e := range clients.Client {
		c.clients = append(c.clients, e.remoteClient())
	}
	for _, e := range devices.Device {
		c.devices = append(c.devices, e.device())
	}
	c.openedAt = time.Now()
	span.SetAttributes(attribute.Int("telldus.devices", len(c.devices)), attribute.Int("telldus.clients", len(c.clients)))
	c.logger.Info("telldus session opened", "email", c.email, "devices", len(c.devices), "clients", len(c.clients))
	return c, nil
}

// Close releases the session. Telldus Live has no logout call, so nothing
// goes over the wire; the cookies are simply dropped.
func (c *Client) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true
	c.hc.Jar = nil
	if !c.openedAt.IsZero() {
		observability.SessionDuration.Observe(time.Since(c.openedAt).Seconds())
	}
	c.logger.Debug("telldus session released", "email", c.email)
	return nil
}

// WithClient opens a session, hands it to fn and always releases it.
func WithClient(ctx context.Context, creds Credentials, fn func(*Client) error, opts ...Option) error {
	c, err := Open(ctx, creds, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (c *Client) Devices() []Device {
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

func (c *Client) RemoteClients() []RemoteClient {
	out := make([]RemoteClient, len(c.clients))
	copy(out, c.clients)
	return out
}

// FindDevice matches name exactly (case and whitespace included).
func (c *Client) FindDevice(name string) (Device, error) {
	for _, d := range c.devices {
		if d.Name == name {
			return d, nil
		}
	}
	return Device{}, apperrors.UnknownDevice()
}

// RunCommand sends command to the named device repeat times, sleeping
// between consecutive requests. The first failed request aborts the rest.
func (c *Client) RunCommand(ctx context.Context, deviceName, command string, repeat int, sleep time.Duration) error {
	if c.closed {
		return fmt.Errorf("telldus: client is closed")
	}
	device, err := c.FindDevice(deviceName)
	if err != nil {
		return err
	}
	method, err := MethodFor(command)
	if err != nil {
		return err
	}
	if repeat < 1 {
		return apperrors.InvalidNumber("repeat")
	}
	if sleep < 0 {
		return apperrors.InvalidNumber("sleep")
	}

	ctx, span := tracer.Start(ctx, "telldus.command")
	defer span.End()
	span.SetAttributes(
		attribute.String("telldus.device_id", device.ID),
		attribute.Int("telldus.method", method),
		attribute.Int("telldus.repeat", repeat),
	)

	q := url.Values{}
	q.Set("id", device.ID)
	q.Set("method", strconv.Itoa(method))

	for i := 0; i < repeat; i++ {
		if i > 0 {
			c.sleep(sleep)
		}
		if err := c.getJSON(ctx, "command", "/device/command", q, nil); err != nil {
			span.SetStatus(codes.Error, "command failed")
			c.logger.Error("telldus command failed", "device", device.Name, "command", command, "attempt", i+1, "error", err)
			return err
		}
		c.logger.Debug("telldus command sent", "device", device.Name, "command", command, "attempt", i+1, "repeat", repeat)
	}
	observability.CommandsSent.WithLabelValues(command).Inc()
	return nil
}

// getJSON issues an authenticated GET. dst may be nil when the body is ignored.
func (c *Client) getJSON(ctx context.Context, operation, path string, query url.Values, dst interface{}) error {
	u := c.endpoints.Live + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.RemoteRequestFailed(err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveRemote(operation, err)
		return apperrors.RemoteRequestFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%s returned status %d", path, resp.StatusCode)
		observability.ObserveRemote(operation, err)
		return apperrors.RemoteRequestFailed(err)
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		observability.ObserveRemote(operation, nil)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		err = fmt.Errorf("decoding %s: %w", path, err)
		observability.ObserveRemote(operation, err)
		return apperrors.RemoteRequestFailed(err)
	}
	observability.ObserveRemote(operation, nil)
	return nil
}
