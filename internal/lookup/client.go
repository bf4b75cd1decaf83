package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/pkg/vrm"
)

// Client fetches vehicle and tyre fitment data from the upstream provider.
// Setting TREADLOG_UTLS=1 switches the transport to a browser-like TLS
// fingerprint; some fitment providers reject default Go handshakes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retries    int
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets the number of retry attempts for transient failures
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, for tests
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a provider client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	useUTLS := strings.TrimSpace(os.Getenv("TREADLOG_UTLS")) == "1"
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: newTransport(useUTLS),
		},
		retries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// vehicleResponse is the provider's wire format.
type vehicleResponse struct {
	VRM   string `json:"vrm"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
	Tyres []struct {
		Front tyreSpecResponse `json:"front"`
		Rear  tyreSpecResponse `json:"rear"`
	} `json:"tyres"`
	Torque string `json:"torque"`
}

type tyreSpecResponse struct {
	Size        string `json:"size"`
	Runflat     bool   `json:"runflat"`
	PressurePSI int    `json:"pressure_psi"`
}

// FetchVehicle retrieves vehicle data for a normalized registration mark.
// Server errors and transport failures are retried; a 404 is terminal.
func (c *Client) FetchVehicle(ctx context.Context, mark string) (*models.Vehicle, error) {
	key := vrm.Normalize(mark)
	if !vrm.Valid(key) {
		return nil, &errors.ErrLookupFailed{VRM: mark, Err: fmt.Errorf("invalid registration mark")}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &errors.ErrLookupFailed{VRM: key, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		v, retryable, err := c.fetchOnce(ctx, key)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, &errors.ErrLookupFailed{VRM: key, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, key string) (*models.Vehicle, bool, error) {
	endpoint := fmt.Sprintf("%s/v1/vehicles/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("vehicle not found")
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}

	var wire vehicleResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, false, fmt.Errorf("malformed provider response: %w", err)
	}

	v := &models.Vehicle{
		VRM:    key,
		Make:   wire.Make,
		Model:  wire.Model,
		Year:   wire.Year,
		Torque: wire.Torque,
	}
	for _, t := range wire.Tyres {
		v.TyreRecords = append(v.TyreRecords, models.TyreRecord{
			Front: models.TyreSpec{Size: t.Front.Size, Runflat: t.Front.Runflat, PressurePSI: t.Front.PressurePSI},
			Rear:  models.TyreSpec{Size: t.Rear.Size, Runflat: t.Rear.Runflat, PressurePSI: t.Rear.PressurePSI},
		})
	}
	return v, false, nil
}

func newTransport(useUTLS bool) http.RoundTripper {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			config := &utls.Config{
				ServerName: host,
				NextProtos: []string{"h2", "http/1.1"},
			}
			uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
			if err := uconn.Handshake(); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}
