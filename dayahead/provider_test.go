package dayahead

import (
	"strings"
	"testing"
)

func TestDocumentToPricePoints(t *testing.T) {
	doc, err := DecodeEnergyPricesXML(strings.NewReader(samplePublicationMarketDocument))
	if err != nil {
		t.Fatalf("DecodeEnergyPricesXML() error = %v", err)
	}
	points := documentToPricePoints(doc, 0.02, 0.0)
	if len(points) == 0 {
		t.Fatal("expected at least one price point")
	}
	for _, p := range points {
		if !p.End.After(p.Start) {
			t.Errorf("point %+v has non-positive duration", p)
		}
	}
	// position 15 carries price.amount 57.73 EUR/MWh = 0.05773 EUR/kWh + 0.02 fee
	want := 57.73/1000.0 + 0.02
	found := false
	for _, p := range points {
		if p.Start.Hour() == 12 && p.Start.Minute() == 0 {
			if round(p.Value) != round(want) {
				t.Errorf("slot at 12:00 = %v, want %v", p.Value, want)
			}
			found = true
		}
	}
	if !found {
		t.Error("expected to find the 12:00 slot after upsampling")
	}
}

func round(v float64) float64 {
	return float64(int(v*100000+0.5)) / 100000
}
