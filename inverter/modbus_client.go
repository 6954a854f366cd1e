package inverter

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// PlantAddress is the fixed slave address the Sigenergy plant-level
// registers respond on; individual inverters/chargers live at their own
// addresses, but this controller only ever talks to the plant as a
// whole, so no other slave address is wired here.
const PlantAddress = 247

// Plant-level register map (Sigenergy Modbus protocol section 5.1/5.2).
// Only the registers this controller's decision-and-execution pipeline
// actually reads or writes are named; the vendor protocol defines many
// more (per-inverter, AC/DC charger, battery-pack detail) that a
// multi-device installer tool would need and a single-system home
// battery controller does not.
const (
	regPlantRunningInfo = 30000 // 52 input registers: power/SOC/alarm block
	regESSCapacity      = 30083 // 5 input registers: rated capacity, SOH, cutoffs

	regRemoteEMSEnable = 40029 // 1 holding register: 0/1
	regRemoteEMSMode   = 40031 // 1 holding register: mode enum
	regESSChargeLimit  = 40032 // 2 holding registers: kW * 1000, signed
	regESSDischargeLimit = 40034 // 2 holding registers: kW * 1000, signed
)

// Remote-EMS mode values SetRemoteEMSMode accepts. The vendor protocol
// defines more (PCS remote control, standby, max self-consumption,
// command-charging grid-first) that this controller never selects,
// since Decide only ever emits the five decision.Action values.
const (
	modeCommandChargePVFirst    = 4
	modeCommandDischargeESSFirst = 6
)

// PlantClient speaks the Sigenergy plant-level Modbus register protocol
// over a single transport (TCP or RTU). It knows nothing about
// decision.Action; that mapping lives in SigenAdapter, one layer up.
type PlantClient struct {
	client  modbus.Client
	rtu     *modbus.RTUClientHandler
	tcp     *modbus.TCPClientHandler
	slaveID byte
}

// DialTCP opens a Modbus TCP connection to a Sigenergy plant gateway.
func DialTCP(address string, slaveID byte) (*PlantClient, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = 1 * time.Second
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("dial plant modbus tcp at %s: %w", address, err)
	}
	return &PlantClient{client: modbus.NewClient(handler), tcp: handler, slaveID: slaveID}, nil
}

// DialRTU opens a Modbus RTU connection, for installations where the
// plant gateway is reached over a serial bus rather than TCP.
func DialRTU(device string, baudRate int, slaveID byte) (*PlantClient, error) {
	handler := modbus.NewRTUClientHandler(device)
	handler.BaudRate = baudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = slaveID
	handler.Timeout = 1 * time.Second
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("dial plant modbus rtu at %s: %w", device, err)
	}
	return &PlantClient{client: modbus.NewClient(handler), rtu: handler, slaveID: slaveID}, nil
}

// Close releases the underlying transport.
func (c *PlantClient) Close() error {
	if c.tcp != nil {
		return c.tcp.Close()
	}
	if c.rtu != nil {
		return c.rtu.Close()
	}
	return nil
}

// regCursor walks a register-read byte buffer sequentially with a
// single advancing offset, so adding or dropping a field in the decode
// path never requires re-deriving later byte offsets by hand.
type regCursor struct {
	data []byte
	pos  int
}

func (c *regCursor) u16() uint16 {
	v := binary.BigEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v
}

func (c *regCursor) s16() int16 { return int16(c.u16()) }

func (c *regCursor) u32() uint32 {
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *regCursor) s32() int32 { return int32(c.u32()) }

func (c *regCursor) skip(registers int) { c.pos += registers * 2 }

// PlantSnapshot is the plant-level telemetry SigenAdapter reads once per
// tick, scaled to engineering units.
type PlantSnapshot struct {
	SystemTime      time.Time
	EMSWorkMode     uint16
	OnOffGridStatus uint16

	GridActivePowerKW float64 // +import, -export
	PlantActivePowerKW float64
	PhotovoltaicPowerKW float64
	ESSPowerKW          float64 // +charging, -discharging
	ESSSOCPercent       float64
	PlantRunningState   uint16

	ESSRatedCapacityKWh float64
	ESSSOHPercent       float64

	Alarms [4]uint16
}

// Alarmed reports whether any general alarm bit is set.
func (s PlantSnapshot) Alarmed() bool {
	for _, a := range s.Alarms {
		if a != 0 {
			return true
		}
	}
	return false
}

// ReadSnapshot reads the plant running-info block plus the trailing ESS
// capacity block, matching the vendor's two contiguous register ranges.
func (c *PlantClient) ReadSnapshot() (PlantSnapshot, error) {
	data, err := c.client.ReadInputRegisters(regPlantRunningInfo, 52)
	if err != nil {
		return PlantSnapshot{}, fmt.Errorf("read plant running info: %w", err)
	}
	cur := &regCursor{data: data}

	var s PlantSnapshot
	s.SystemTime = time.Unix(int64(cur.u32()), 0)
	cur.skip(1) // system timezone offset, unused
	s.EMSWorkMode = cur.u16()
	cur.skip(1) // grid sensor connected/disconnected flag, unused
	s.GridActivePowerKW = float64(cur.s32()) / 1000
	cur.skip(2) // grid sensor reactive power, unused
	s.OnOffGridStatus = cur.u16()
	cur.skip(2)              // max active/apparent power ceiling, unused
	s.ESSSOCPercent = float64(cur.u16()) / 10
	cur.skip(12) // per-phase active/reactive power, unused
	for i := range s.Alarms {
		s.Alarms[i] = cur.u16()
	}
	s.PlantActivePowerKW = float64(cur.s32()) / 1000
	cur.skip(2) // plant reactive power, unused
	s.PhotovoltaicPowerKW = float64(cur.s32()) / 1000
	s.ESSPowerKW = float64(cur.s32()) / 1000
	cur.skip(8) // available power envelope registers, unused
	s.PlantRunningState = cur.u16()

	extra, err := c.client.ReadInputRegisters(regESSCapacity, 5)
	if err == nil {
		ec := &regCursor{data: extra}
		s.ESSRatedCapacityKWh = float64(ec.u32()) / 100
		ec.skip(1) // ESS charge-off SOC, unused
		ec.skip(1) // ESS discharge-off SOC, unused
		s.ESSSOHPercent = float64(ec.u16()) / 10
	}

	return s, nil
}

func (c *PlantClient) writeU16(register int, value uint16) error {
	_, err := c.client.WriteSingleRegister(uint16(register), value)
	return err
}

func (c *PlantClient) writeU32(register int, value uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	_, err := c.client.WriteMultipleRegisters(uint16(register), 2, buf)
	return err
}

// EnableRemoteEMS switches the plant into (or out of) remote-EMS
// command mode; SetRemoteEMSMode and the limit setters only take effect
// while it is enabled.
func (c *PlantClient) EnableRemoteEMS(enable bool) error {
	var v uint16
	if enable {
		v = 1
	}
	return c.writeU16(regRemoteEMSEnable, v)
}

// SetRemoteEMSMode selects one of the vendor's command modes. This
// controller only ever passes modeCommandChargePVFirst or
// modeCommandDischargeESSFirst, chosen by SigenAdapter.SetMode.
func (c *PlantClient) SetRemoteEMSMode(mode uint16) error {
	return c.writeU16(regRemoteEMSMode, mode)
}

// SetChargeLimitKW caps how much power the battery may draw while in
// command-charging mode.
func (c *PlantClient) SetChargeLimitKW(kw float64) error {
	return c.writeU32(regESSChargeLimit, uint32(kw*1000))
}

// SetDischargeLimitKW caps how much power the battery may deliver while
// in command-discharging mode.
func (c *PlantClient) SetDischargeLimitKW(kw float64) error {
	return c.writeU32(regESSDischargeLimit, uint32(kw*1000))
}
