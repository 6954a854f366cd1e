package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Format selects which Locationforecast endpoint variant to call.
type Format string

const (
	FormatCompact  Format = "compact"
	FormatComplete Format = "complete"
	FormatClassic  Format = "classic"
)

// Client fetches forecasts from the MET Norway Locationforecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the API's base URL, for pointing at a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient returns a Client identifying itself with userAgent, as MET's
// terms of service require.
func NewClient(userAgent string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.met.no/weatherapi/locationforecast/2.0",
		userAgent:  userAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCompact fetches the compact forecast variant.
func (c *Client) GetCompact(ctx context.Context, params QueryParams) (*ForecastResponse, error) {
	return c.Fetch(ctx, FormatCompact, params)
}

// GetComplete fetches the complete forecast variant.
func (c *Client) GetComplete(ctx context.Context, params QueryParams) (*ForecastResponse, error) {
	return c.Fetch(ctx, FormatComplete, params)
}

// GetClassic fetches the classic forecast variant.
func (c *Client) GetClassic(ctx context.Context, params QueryParams) (*ForecastResponse, error) {
	return c.Fetch(ctx, FormatClassic, params)
}

// Fetch requests the given forecast format for params.Location.
func (c *Client) Fetch(ctx context.Context, format Format, params QueryParams) (*ForecastResponse, error) {
	if err := ValidateLocation(params.Location); err != nil {
		return nil, err
	}

	reqURL, err := c.buildURL(format, params)
	if err != nil {
		return nil, fmt.Errorf("build forecast url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch forecast", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read forecast response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var forecast ForecastResponse
	if err := json.Unmarshal(body, &forecast); err != nil {
		return nil, fmt.Errorf("unmarshal forecast response: %w", err)
	}
	return &forecast, nil
}

func (c *Client) buildURL(format Format, params QueryParams) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = fmt.Sprintf("%s/%s", u.Path, format)

	query := u.Query()
	query.Set("lat", formatFloat(params.Location.Latitude))
	query.Set("lon", formatFloat(params.Location.Longitude))
	if params.Location.Altitude != nil {
		query.Set("altitude", strconv.Itoa(*params.Location.Altitude))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ValidateLocation rejects coordinates outside the physically valid range.
func ValidateLocation(loc Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return &ValidationError{Field: "latitude", Message: fmt.Sprintf("must be between -90 and 90, got %f", loc.Latitude)}
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return &ValidationError{Field: "longitude", Message: fmt.Sprintf("must be between -180 and 180, got %f", loc.Longitude)}
	}
	if loc.Altitude != nil && *loc.Altitude < 0 {
		return &ValidationError{Field: "altitude", Message: fmt.Sprintf("must be non-negative, got %d", *loc.Altitude)}
	}
	return nil
}
