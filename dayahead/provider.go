package dayahead

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oskarsson/solkvot/ctlerr"
	"github.com/oskarsson/solkvot/pricing"
)

// Provider is the price-provider adapter contract the controller
// depends on: an ordered list of PricePoints covering at least today and
// tomorrow, in the local market timezone.
type Provider interface {
	FetchDay(ctx context.Context, day time.Time) ([]pricing.PricePoint, error)
}

// EntsoeProvider is the day-ahead price-provider adapter for an ENTSO-E
// bidding zone (SE3 by default). It wraps DownloadPublicationMarketData,
// which already fetches today and, after 13:00 local time, tomorrow too.
type EntsoeProvider struct {
	SecurityToken string
	URLFormat     string // %s=period start, %s=period end, %s=security token
	Location      *time.Location
	ImportFeePerKWh float64
	ExportFeePerKWh float64
	Logger        *log.Logger
}

// FetchDay downloads the published curve for the current wall-clock date
// in p.Location (plus the next day's once it is fetched after 13:00) and
// converts it to quarter-hour PricePoints in currency-per-kWh. The day
// argument does not select the document.
func (p *EntsoeProvider) FetchDay(ctx context.Context, day time.Time) ([]pricing.PricePoint, error) {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}

	doc, err := DownloadPublicationMarketData(ctx, p.SecurityToken, p.URLFormat, p.Location)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	if len(doc.TimeSeries) == 0 {
		return nil, &ctlerr.InputMissing{Field: "day-ahead price curve"}
	}

	points := documentToPricePoints(doc, p.ImportFeePerKWh, p.ExportFeePerKWh)
	if len(points) == 0 {
		return nil, &ctlerr.InputMissing{Field: "day-ahead price curve"}
	}
	logger.Printf("dayahead: fetched %d price points covering %s to %s", len(points), points[0].Start, points[len(points)-1].End)
	return points, nil
}

// documentToPricePoints flattens every TimeSeries/Period/Point in doc
// into quarter-hour PricePoints, converting EUR/MWh to currency/kWh and
// adding the configured import fee.
func documentToPricePoints(doc *PriceDocument, importFee, exportFee float64) []pricing.PricePoint {
	var points []pricing.PricePoint
	for _, ts := range doc.TimeSeries {
		period := ts.Period
		for _, pt := range period.Points {
			slotStart, slotEnd, ok := period.GetTimeRangeForPosition(pt.Position)
			if !ok {
				continue
			}
			pricePerKWh := pt.PriceAmount/1000.0 + importFee
			points = append(points, pricing.PricePoint{Start: slotStart, End: slotEnd, Value: pricePerKWh})
		}
	}
	return pricing.Upsample(points, 15*time.Minute)
}

func classifyFetchError(err error) error {
	return &ctlerr.TransientAdapterError{Err: fmt.Errorf("fetch day-ahead prices: %w", err)}
}
