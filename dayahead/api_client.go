package dayahead

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oskarsson/solkvot/utils"
)

// feedClient fetches and decodes one day's Publication_MarketDocument from
// the ENTSO-E transparency platform.
type feedClient struct {
	httpClient *http.Client
	userAgent  string
}

func newFeedClient() *feedClient {
	return &feedClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "solkvot-dayahead/1.0",
	}
}

func (c *feedClient) fetch(ctx context.Context, apiURL string) (*PriceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build day-ahead request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("day-ahead request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("day-ahead request returned status %d: %s", resp.StatusCode, body)
	}
	return DecodeEnergyPricesXML(resp.Body)
}

// DownloadPublicationMarketData fetches the published price curve for the
// ENTSO-E day covering now, in location's timezone. ENTSO-E publishes the
// next day's prices starting around 13:00 local time, so once that has
// passed the next day's document is fetched too and merged in, giving the
// planner a full 24h lookahead rather than just whatever remains of today.
func DownloadPublicationMarketData(ctx context.Context, securityToken, urlFormat string, location *time.Location) (*PriceDocument, error) {
	client := newFeedClient()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().In(location)
	doc, err := client.fetch(ctx, buildPublicationMarketDataURL(securityToken, urlFormat, now))
	if err != nil {
		return nil, err
	}

	if now.Hour() >= 13 {
		tomorrow := now.AddDate(0, 0, 1)
		nextDoc, err := client.fetch(ctx, buildPublicationMarketDataURL(securityToken, urlFormat, tomorrow))
		if err != nil {
			return nil, err
		}
		doc = mergePublicationMarketData(doc, nextDoc)
	}
	return doc, nil
}

// buildPublicationMarketDataURL fills urlFormat's %s placeholders with the
// UTC start/end of the ENTSO-E day containing now, plus the security token.
func buildPublicationMarketDataURL(securityToken, urlFormat string, now time.Time) string {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return fmt.Sprintf(urlFormat, utils.GetUTCString(start), utils.GetUTCString(start.AddDate(0, 0, 1)), securityToken)
}

// mergePublicationMarketData concatenates two documents' TimeSeries and
// widens the published window to cover both. first wins ties; nil arguments
// pass through unchanged.
func mergePublicationMarketData(first, second *PriceDocument) *PriceDocument {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	merged := *first
	merged.TimeSeries = append(append([]TimeSeries{}, first.TimeSeries...), second.TimeSeries...)
	if second.PeriodTimeInterval.End.After(merged.PeriodTimeInterval.End) {
		merged.PeriodTimeInterval.End = second.PeriodTimeInterval.End
	}
	return &merged
}
