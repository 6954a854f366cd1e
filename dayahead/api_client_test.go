package dayahead

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleXMLResponse = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:0">
    <mRID>1</mRID>
    <revisionNumber>1</revisionNumber>
    <type>A44</type>
    <sender_MarketParticipant.mRID codingScheme="A01">10X1001A1001A450</sender_MarketParticipant.mRID>
    <receiver_MarketParticipant.mRID codingScheme="A01">10X1001A1001A450</receiver_MarketParticipant.mRID>
    <createdDateTime>2025-09-05T21:00:00Z</createdDateTime>
    <period.timeInterval>
        <start>2025-09-05T22:00Z</start>
        <end>2025-09-06T21:00Z</end>
    </period.timeInterval>
    <TimeSeries>
        <mRID>1</mRID>
        <businessType>A62</businessType>
        <in_Domain.mRID codingScheme="A01">10Y1001A1001A83F</in_Domain.mRID>
        <out_Domain.mRID codingScheme="A01">10Y1001A1001A83F</out_Domain.mRID>
        <currency_Unit.name>EUR</currency_Unit.name>
        <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
        <curveType>A01</curveType>
        <Period>
            <timeInterval>
                <start>2025-09-05T22:00Z</start>
                <end>2025-09-06T21:00Z</end>
            </timeInterval>
            <resolution>PT1H</resolution>
            <Point>
                <position>1</position>
                <price.amount>45.50</price.amount>
            </Point>
            <Point>
                <position>2</position>
                <price.amount>42.30</price.amount>
            </Point>
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`

func xmlTestServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header on the day-ahead request")
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestFeedClientFetch_Success(t *testing.T) {
	server := xmlTestServer(t, sampleXMLResponse, http.StatusOK)
	defer server.Close()

	doc, err := newFeedClient().fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetch() failed: %v", err)
	}
	if len(doc.TimeSeries) != 1 {
		t.Fatalf("len(TimeSeries) = %d, want 1", len(doc.TimeSeries))
	}
	if len(doc.TimeSeries[0].Period.Points) != 2 {
		t.Errorf("len(Points) = %d, want 2", len(doc.TimeSeries[0].Period.Points))
	}
}

func TestFeedClientFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	_, err := newFeedClient().fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected an error for HTTP 500, got nil")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %q, want it to mention status 500", err.Error())
	}
}

func TestFeedClientFetch_InvalidXML(t *testing.T) {
	server := xmlTestServer(t, "<invalid><xml></invalid>", http.StatusOK)
	defer server.Close()

	_, err := newFeedClient().fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected an error for invalid XML, got nil")
	}
}

func TestFeedClientFetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXMLResponse))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newFeedClient().fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected an error for context timeout, got nil")
	}
}

func TestBuildPublicationMarketDataURL(t *testing.T) {
	securityToken := "test-token"
	urlFormat := "https://example.com?start=%s&end=%s&token=%s"

	location, err := time.LoadLocation("CET")
	if err != nil {
		t.Fatalf("failed to load CET location: %v", err)
	}

	tests := []struct {
		name     string
		now      time.Time
		expected string
	}{
		{"22:00", time.Date(2024, 6, 1, 22, 0, 0, 0, location), "https://example.com?start=202405312200&end=202406012200&token=test-token"},
		{"23:00", time.Date(2024, 6, 1, 23, 0, 0, 0, location), "https://example.com?start=202405312200&end=202406012200&token=test-token"},
		{"00:00", time.Date(2024, 6, 2, 0, 0, 0, 0, location), "https://example.com?start=202406012200&end=202406022200&token=test-token"},
		{"02:00", time.Date(2024, 6, 2, 2, 0, 0, 0, location), "https://example.com?start=202406012200&end=202406022200&token=test-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := buildPublicationMarketDataURL(securityToken, urlFormat, tt.now)
			if url != tt.expected {
				t.Errorf("got url %s, want %s", url, tt.expected)
			}
		})
	}
}

func TestMergePublicationMarketData(t *testing.T) {
	doc1 := &PriceDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{Period: Period{Points: []Point{{Position: 1, PriceAmount: 45.50}}}}},
	}
	doc2 := &PriceDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{Period: Period{Points: []Point{{Position: 1, PriceAmount: 50.00}}}}},
	}

	merged := mergePublicationMarketData(doc1, doc2)
	if len(merged.TimeSeries) != 2 {
		t.Fatalf("len(TimeSeries) = %d, want 2", len(merged.TimeSeries))
	}
	expectedEnd := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if !merged.PeriodTimeInterval.End.Equal(expectedEnd) {
		t.Errorf("PeriodTimeInterval.End = %v, want %v", merged.PeriodTimeInterval.End, expectedEnd)
	}
	if len(doc1.TimeSeries) != 1 {
		t.Errorf("original doc1 should be unmodified, got %d TimeSeries", len(doc1.TimeSeries))
	}
}

func TestMergePublicationMarketData_NilInputs(t *testing.T) {
	doc := &PriceDocument{TimeSeries: []TimeSeries{{}}}

	if result := mergePublicationMarketData(nil, doc); result != doc {
		t.Error("merging nil with doc should return doc")
	}
	if result := mergePublicationMarketData(doc, nil); result != doc {
		t.Error("merging doc with nil should return doc")
	}
	if result := mergePublicationMarketData(nil, nil); result != nil {
		t.Error("merging nil with nil should return nil")
	}
}

func TestMergePublicationMarketData_EndTimeNotExtended(t *testing.T) {
	doc1 := &PriceDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{}},
	}
	doc2 := &PriceDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{}},
	}

	merged := mergePublicationMarketData(doc1, doc2)
	expectedEnd := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if !merged.PeriodTimeInterval.End.Equal(expectedEnd) {
		t.Errorf("PeriodTimeInterval.End = %v, want unchanged %v", merged.PeriodTimeInterval.End, expectedEnd)
	}
}

func TestDownloadPublicationMarketData_FetchesAndDecodes(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXMLResponse))
	}))
	defer server.Close()

	// DownloadPublicationMarketData always fetches "now", which this test
	// can't pin to before/after 13:00 without a clock seam, so it runs the
	// single-day or the today+tomorrow path depending on the time of day
	// and only asserts that the download succeeds end-to-end against a
	// live server.
	doc, err := DownloadPublicationMarketData(context.Background(), "token", server.URL+"?start=%s&end=%s&token=%s", time.UTC)
	if err != nil {
		t.Fatalf("DownloadPublicationMarketData() failed: %v", err)
	}
	if doc == nil || len(doc.TimeSeries) == 0 {
		t.Fatal("expected a non-empty document")
	}
	if requests == 0 {
		t.Error("expected at least one request to the feed server")
	}
}
