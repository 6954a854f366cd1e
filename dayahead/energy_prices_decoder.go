package dayahead

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

// PriceDocument is the decoded ENTSO-E Publication_MarketDocument, trimmed to
// the fields the day-ahead provider actually reads: the published window and
// the per-bidding-zone time series that carry the price curve.
type PriceDocument struct {
	PeriodTimeInterval TimeInterval `xml:"period.timeInterval"`
	TimeSeries         []TimeSeries `xml:"TimeSeries"`
}

// TimeInterval is a start/end pair as published in ENTSO-E documents, which
// use either RFC3339 or a seconds-less variant depending on the endpoint.
type TimeInterval struct {
	Start time.Time `xml:"start"`
	End   time.Time `xml:"end"`
}

func (ti *TimeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	var err error
	if ti.Start, err = parseTimeString(aux.Start); err != nil {
		return fmt.Errorf("parsing start time: %w", err)
	}
	if ti.End, err = parseTimeString(aux.End); err != nil {
		return fmt.Errorf("parsing end time: %w", err)
	}
	return nil
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized ENTSO-E timestamp: %q", s)
}

// TimeSeries carries one bidding zone's price curve for the published window.
type TimeSeries struct {
	Period Period `xml:"Period"`
}

// Period is a resolution-stepped run of price points within a TimeSeries.
type Period struct {
	TimeInterval TimeInterval  `xml:"timeInterval"`
	Resolution   time.Duration `xml:"resolution"`
	Points       []Point       `xml:"Point"`
}

func (p *Period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		TimeInterval TimeInterval `xml:"timeInterval"`
		Resolution   string       `xml:"resolution"`
		Points       []Point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	p.TimeInterval = aux.TimeInterval
	p.Points = aux.Points
	resolution, err := parseISO8601Duration(aux.Resolution)
	if err != nil {
		return fmt.Errorf("parsing resolution: %w", err)
	}
	p.Resolution = resolution
	return nil
}

// durationPattern matches the ISO 8601 duration subset ENTSO-E actually
// emits for resolutions: PT15M, PT60M, P1D and combinations thereof. Years
// and months are approximated at 365 and 30 days, which is fine here since
// ENTSO-E never publishes a resolution coarser than a day.
var durationPattern = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`,
)

func parseISO8601Duration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q", s)
	}
	var d time.Duration
	if m[1] != "" {
		years, _ := strconv.Atoi(m[1])
		d += time.Duration(years) * 365 * 24 * time.Hour
	}
	if m[2] != "" {
		months, _ := strconv.Atoi(m[2])
		d += time.Duration(months) * 30 * 24 * time.Hour
	}
	if m[3] != "" {
		days, _ := strconv.Atoi(m[3])
		d += time.Duration(days) * 24 * time.Hour
	}
	if m[4] != "" {
		hours, _ := strconv.Atoi(m[4])
		d += time.Duration(hours) * time.Hour
	}
	if m[5] != "" {
		minutes, _ := strconv.Atoi(m[5])
		d += time.Duration(minutes) * time.Minute
	}
	if m[6] != "" {
		seconds, _ := strconv.ParseFloat(m[6], 64)
		d += time.Duration(seconds * float64(time.Second))
	}
	return d, nil
}

// Point is a single price at a 1-based position within a Period.
type Point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

// LookupPriceByTime searches every TimeSeries in the document for the price
// covering t. Returns the first match and true, or (0, false) if t falls
// outside every published period.
func (doc *PriceDocument) LookupPriceByTime(t time.Time) (float64, bool) {
	for _, ts := range doc.TimeSeries {
		if price, found := ts.Period.GetPriceByTime(t); found {
			return price, true
		}
	}
	return 0, false
}

// GetPriceByTime returns the price for the interval containing t, or
// (0, false) if t is outside the period.
func (p *Period) GetPriceByTime(t time.Time) (float64, bool) {
	position := p.calculatePosition(t)
	if position <= 0 {
		return 0, false
	}
	var last *Point
	for i := range p.Points {
		pt := &p.Points[i]
		if pt.Position == position {
			return pt.PriceAmount, true
		}
		if pt.Position > position && last != nil {
			return last.PriceAmount, true
		}
		last = pt
	}
	return 0, false
}

// calculatePosition returns the 1-based position covering t, where position
// 1 is [start, start+resolution). Returns 0 if t is outside the period.
func (p *Period) calculatePosition(t time.Time) int {
	diff := t.Sub(p.TimeInterval.Start)
	if diff < 0 {
		return 0
	}
	if !t.Before(p.TimeInterval.End) {
		return 0
	}
	return int(diff.Nanoseconds()/p.Resolution.Nanoseconds()) + 1
}

// GetTimeRangeForPosition returns the [start, end) window for a 1-based
// position, clamped to the period's end. valid is false for a position
// outside the period.
func (p *Period) GetTimeRangeForPosition(position int) (start, end time.Time, valid bool) {
	if position < 1 {
		return time.Time{}, time.Time{}, false
	}
	start = p.TimeInterval.Start.Add(time.Duration(position-1) * p.Resolution)
	if !start.Before(p.TimeInterval.End) {
		return time.Time{}, time.Time{}, false
	}
	end = start.Add(p.Resolution)
	if end.After(p.TimeInterval.End) {
		end = p.TimeInterval.End
	}
	return start, end, true
}

// DecodeEnergyPricesXML parses an ENTSO-E Publication_MarketDocument.
func DecodeEnergyPricesXML(r io.Reader) (*PriceDocument, error) {
	var doc PriceDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing publication market document: %w", err)
	}
	return &doc, nil
}
