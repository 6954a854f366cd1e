package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	client := NewClient("TestApp/1.0 (test@example.com)")
	if client.baseURL != "https://api.met.no/weatherapi/locationforecast/2.0" {
		t.Errorf("baseURL = %q, want the default MET API root", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNewClientOptions(t *testing.T) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	client := NewClient("TestApp/1.0", WithHTTPClient(httpClient), WithBaseURL("https://custom.example.com/api"))

	if client.httpClient != httpClient {
		t.Error("WithHTTPClient did not take effect")
	}
	if client.baseURL != "https://custom.example.com/api" {
		t.Errorf("baseURL = %q, want overridden value", client.baseURL)
	}
}

func TestBuildURL(t *testing.T) {
	client := NewClient("TestApp/1.0", WithBaseURL("https://api.example.com"))

	tests := []struct {
		name     string
		format   Format
		params   QueryParams
		expected string
	}{
		{
			name:     "compact, no altitude",
			format:   FormatCompact,
			params:   QueryParams{Location: Location{Latitude: 59.9139, Longitude: 10.7522}},
			expected: "https://api.example.com/compact?lat=59.9139&lon=10.7522",
		},
		{
			name:     "complete, with altitude",
			format:   FormatComplete,
			params:   QueryParams{Location: Location{Latitude: 60.5, Longitude: 11.59, Altitude: ptr(1001)}},
			expected: "https://api.example.com/complete?altitude=1001&lat=60.5&lon=11.59",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := client.buildURL(tt.format, tt.params)
			if err != nil {
				t.Fatalf("buildURL returned error: %v", err)
			}
			if url != tt.expected {
				t.Errorf("buildURL = %q, want %q", url, tt.expected)
			}
		})
	}
}

func TestValidateLocation(t *testing.T) {
	tests := []struct {
		name        string
		location    Location
		expectError bool
	}{
		{"valid location", Location{Latitude: 59.9139, Longitude: 10.7522}, false},
		{"valid with altitude", Location{Latitude: 60.0, Longitude: 11.0, Altitude: ptr(500)}, false},
		{"latitude too high", Location{Latitude: 91.0, Longitude: 10.0}, true},
		{"latitude too low", Location{Latitude: -91.0, Longitude: 10.0}, true},
		{"longitude too high", Location{Latitude: 60.0, Longitude: 181.0}, true},
		{"longitude too low", Location{Latitude: 60.0, Longitude: -181.0}, true},
		{"negative altitude", Location{Latitude: 60.0, Longitude: 11.0, Altitude: ptr(-100)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocation(tt.location)
			if tt.expectError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
			if tt.expectError {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestGetCompact(t *testing.T) {
	testForecast := ForecastResponse{
		Type: "Feature",
		Geometry: &PointGeometry{
			Type:        "Point",
			Coordinates: []float64{10.7522, 59.9139, 14},
		},
		Properties: &Forecast{
			Meta: ForecastMeta{UpdatedAt: time.Now()},
			Timeseries: []ForecastTimeStep{
				{
					Time: time.Now(),
					Data: &ForecastTimeStepData{
						Instant: &ForecastInstantData{
							Details: &ForecastTimeInstant{AirTemperature: ptr(15.5)},
						},
						Next1Hours: &ForecastPeriodData{
							Summary: &ForecastSummary{SymbolCode: ClearSkyDay},
						},
					},
				},
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestApp/1.0" {
			t.Errorf("User-Agent = %q, want TestApp/1.0", r.Header.Get("User-Agent"))
		}
		if r.URL.Query().Get("lat") != "59.9139" {
			t.Errorf("lat = %q, want 59.9139", r.URL.Query().Get("lat"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testForecast)
	}))
	defer server.Close()

	client := NewClient("TestApp/1.0", WithBaseURL(server.URL))
	forecast, err := client.GetCompact(context.Background(), QueryParams{
		Location: Location{Latitude: 59.9139, Longitude: 10.7522},
	})
	if err != nil {
		t.Fatalf("GetCompact returned error: %v", err)
	}
	if forecast.Type != "Feature" {
		t.Errorf("Type = %q, want Feature", forecast.Type)
	}
	if len(forecast.Properties.Timeseries) != 1 {
		t.Fatalf("len(Timeseries) = %d, want 1", len(forecast.Properties.Timeseries))
	}
}

func TestGetCompactRejectsInvalidLocation(t *testing.T) {
	client := NewClient("TestApp/1.0")
	_, err := client.GetCompact(context.Background(), QueryParams{Location: Location{Latitude: 200}})
	if err == nil {
		t.Fatal("expected a validation error for an out-of-range latitude, got nil")
	}
}

func TestFetchReturnsAPIErrorOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request: Invalid parameters"))
	}))
	defer server.Close()

	client := NewClient("TestApp/1.0", WithBaseURL(server.URL))
	_, err := client.GetCompact(context.Background(), QueryParams{
		Location: Location{Latitude: 59.9139, Longitude: 10.7522},
	})
	if err == nil {
		t.Fatal("expected an API error, got nil")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusBadRequest)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{59.9139, "59.9139"},
		{10.0, "10"},
		{-123.456789, "-123.456789"},
		{0.0, "0"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.input); got != tt.expected {
			t.Errorf("formatFloat(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
