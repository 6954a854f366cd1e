package inverter

import (
	"fmt"
	"sync"

	"github.com/oskarsson/solkvot/ctlerr"
	"github.com/oskarsson/solkvot/decision"
)

// EnergyFlow is the instantaneous power sample the controller reads
// once per tick.
type EnergyFlow struct {
	PVPowerKW      float64
	LoadPowerKW    float64
	GridPowerKW    float64 // positive = importing, negative = exporting
	BatteryPowerKW float64 // positive = charging, negative = discharging
}

// Adapter is the contract the controller depends on: read the current
// power flows, read state of charge, and command a mode. A real
// deployment backs it with SigenAdapter; tests back it with a fake.
type Adapter interface {
	GetEnergyFlow(systemID string) (EnergyFlow, error)
	GetBatterySOC(systemID string) (float64, error)
	SetMode(systemID string, action decision.Action, powerKW float64) error
}

// SigenAdapter implements Adapter over a Sigenergy plant's Modbus
// interface: mode 4 is "command charging, PV first", mode 6 is
// "command discharging, ESS first". A coarse per-system lock serializes
// commands so at most one is in flight for a given system at a time.
type SigenAdapter struct {
	address string

	mu     sync.Mutex
	client *PlantClient
}

// NewSigenAdapter returns an Adapter that dials address lazily on first
// use and keeps the Modbus connection open across ticks.
func NewSigenAdapter(address string) *SigenAdapter {
	return &SigenAdapter{address: address}
}

func (a *SigenAdapter) connect() (*PlantClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := DialTCP(a.address, PlantAddress)
	if err != nil {
		return nil, &ctlerr.TransientAdapterError{Err: fmt.Errorf("connect to plant modbus at %s: %w", a.address, err)}
	}
	a.client = client
	return client, nil
}

// GetEnergyFlow reads the plant's instantaneous PV, load, grid, and
// battery power. house load itself has no dedicated register on this
// plant, so it is derived from the power-balance identity: whatever PV
// and the battery aren't exporting or importing must be the load.
func (a *SigenAdapter) GetEnergyFlow(systemID string) (EnergyFlow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	client, err := a.connect()
	if err != nil {
		return EnergyFlow{}, err
	}
	snap, err := client.ReadSnapshot()
	if err != nil {
		return EnergyFlow{}, &ctlerr.TransientAdapterError{Err: fmt.Errorf("read plant snapshot: %w", err)}
	}
	if snap.Alarmed() {
		return EnergyFlow{}, &ctlerr.TransientAdapterError{Err: fmt.Errorf("plant alarm bits set: %v", snap.Alarms)}
	}

	gridImport, gridExport := splitBySign(snap.GridActivePowerKW)
	battCharge, battDischarge := splitBySign(snap.ESSPowerKW) // +charging, -discharging
	load := snap.PhotovoltaicPowerKW + battDischarge + gridImport - battCharge - gridExport

	return EnergyFlow{
		PVPowerKW:      snap.PhotovoltaicPowerKW,
		LoadPowerKW:    load,
		GridPowerKW:    snap.GridActivePowerKW,
		BatteryPowerKW: snap.ESSPowerKW,
	}, nil
}

// splitBySign returns (positivePart, negativePartMagnitude) such that
// value = positivePart - negativePartMagnitude.
func splitBySign(value float64) (positive, negative float64) {
	if value >= 0 {
		return value, 0
	}
	return 0, -value
}

// GetBatterySOC reads the plant's ESS state of charge, 0..100.
func (a *SigenAdapter) GetBatterySOC(systemID string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	client, err := a.connect()
	if err != nil {
		return 0, err
	}
	snap, err := client.ReadSnapshot()
	if err != nil {
		return 0, &ctlerr.TransientAdapterError{Err: fmt.Errorf("read plant snapshot: %w", err)}
	}
	return snap.ESSSOCPercent, nil
}

// actionMode is the remote-EMS mode plus the limit setter SetMode uses
// to realize one decision.Action. Idle reuses the charge-mode register
// with both limits pinned to zero, since the vendor protocol has no
// dedicated "hold" mode.
type actionMode struct {
	mode        uint16
	setLimit    func(*PlantClient, float64) error
	limitReason string
}

var actionModes = map[decision.Action]actionMode{
	decision.Charge:          {modeCommandChargePVFirst, (*PlantClient).SetChargeLimitKW, "charge limit"},
	decision.Discharge:       {modeCommandDischargeESSFirst, (*PlantClient).SetDischargeLimitKW, "discharge limit"},
	decision.SelfConsume:     {modeCommandDischargeESSFirst, (*PlantClient).SetDischargeLimitKW, "discharge limit"},
	decision.SelfConsumeGrid: {modeCommandDischargeESSFirst, (*PlantClient).SetDischargeLimitKW, "discharge limit"},
	decision.Idle:            {modeCommandChargePVFirst, (*PlantClient).SetChargeLimitKW, "idle limit"},
}

// SetMode maps an Action to the Sigenergy remote-EMS mode/limit register
// writes via the actionModes table. It is idempotent per quarter:
// issuing the same (action, power) twice writes the same registers both
// times, producing no observable behavior difference.
func (a *SigenAdapter) SetMode(systemID string, action decision.Action, powerKW float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	client, err := a.connect()
	if err != nil {
		return err
	}

	if err := client.EnableRemoteEMS(true); err != nil {
		return &ctlerr.TransientAdapterError{Err: fmt.Errorf("enable remote EMS: %w", err)}
	}

	am, ok := actionModes[action]
	if !ok {
		am = actionModes[decision.Idle]
	}
	if err := client.SetRemoteEMSMode(am.mode); err != nil {
		return &ctlerr.TransientAdapterError{Err: fmt.Errorf("set remote EMS mode %d: %w", am.mode, err)}
	}

	power := powerKW
	if action == decision.Idle {
		power = 0
	}
	if err := am.setLimit(client, power); err != nil {
		return &ctlerr.TransientAdapterError{Err: fmt.Errorf("set %s: %w", am.limitReason, err)}
	}
	if action == decision.Idle {
		// zero both directions: the charge-mode register above already
		// pins max charge to 0, but a stale discharge limit from a prior
		// tick could still let the plant discharge under mode 4.
		if err := client.SetDischargeLimitKW(0); err != nil {
			return &ctlerr.TransientAdapterError{Err: fmt.Errorf("zero discharge limit: %w", err)}
		}
	}
	return nil
}

// Close releases the underlying Modbus connection, if one was opened.
func (a *SigenAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
