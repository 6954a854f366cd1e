package inverter

import (
	"fmt"
	"strings"
)

// Summary renders a PlantSnapshot as the human-readable block the
// "inspect" CLI command prints — the controller's own use of a plant
// read, as opposed to the tick loop's numeric-only IntervalRecord.
func (s PlantSnapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plant snapshot @ %s\n", s.SystemTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  ems mode:        %s\n", emsWorkModeName(s.EMSWorkMode))
	fmt.Fprintf(&b, "  grid connection: %s\n", onOffGridStatusName(s.OnOffGridStatus))
	fmt.Fprintf(&b, "  running state:   %d\n", s.PlantRunningState)
	fmt.Fprintf(&b, "  grid power:      %.3f kW (%s)\n", s.GridActivePowerKW, flowDirection(s.GridActivePowerKW, "import", "export"))
	fmt.Fprintf(&b, "  pv power:        %.3f kW\n", s.PhotovoltaicPowerKW)
	fmt.Fprintf(&b, "  battery power:   %.3f kW (%s)\n", s.ESSPowerKW, flowDirection(s.ESSPowerKW, "charging", "discharging"))
	fmt.Fprintf(&b, "  battery soc:     %.1f %%\n", s.ESSSOCPercent)
	fmt.Fprintf(&b, "  battery soh:     %.1f %%\n", s.ESSSOHPercent)
	fmt.Fprintf(&b, "  battery rated:   %.2f kWh\n", s.ESSRatedCapacityKWh)
	if s.Alarmed() {
		fmt.Fprintf(&b, "  alarms:          %04x %04x %04x %04x\n", s.Alarms[0], s.Alarms[1], s.Alarms[2], s.Alarms[3])
	}
	return b.String()
}

func flowDirection(v float64, positiveName, negativeName string) string {
	switch {
	case v > 0.01:
		return positiveName
	case v < -0.01:
		return negativeName
	default:
		return "idle"
	}
}

func emsWorkModeName(mode uint16) string {
	switch mode {
	case 0:
		return "max self consumption"
	case 1:
		return "AI mode"
	case 2:
		return "TOU"
	case 7:
		return "remote EMS"
	default:
		return fmt.Sprintf("unknown (%d)", mode)
	}
}

func onOffGridStatusName(status uint16) string {
	switch status {
	case 0:
		return "on grid"
	case 1:
		return "off grid (auto)"
	case 2:
		return "off grid (manual)"
	default:
		return fmt.Sprintf("unknown (%d)", status)
	}
}
