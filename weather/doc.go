// Package weather fetches the hourly forecast the scheduler needs to
// turn a peak solar rating into a 24-hour PV power curve (see package
// solar). It speaks the MET Norway Locationforecast 2.0 API directly:
// no forecast provider abstraction, because the controller only ever
// runs against one weather source.
//
// Basic usage:
//
//	client := weather.NewClient("solkvot/1.0 (ops@example.com)")
//
//	forecast, err := client.GetCompact(ctx, weather.QueryParams{
//		Location: weather.Location{Latitude: 59.9139, Longitude: 10.7522},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if signal, ok := forecast.SignalAt(time.Now()); ok {
//		fmt.Printf("cloud cover %.0f%%, symbol %s\n", signal.CloudCoveragePercent, signal.Symbol)
//	}
//
// For the full Locationforecast schema, see
// https://api.met.no/weatherapi/locationforecast/2.0/documentation
package weather
