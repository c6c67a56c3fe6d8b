package stlink

import (
	"encoding/binary"

	"stlinkflash/internal/stlinkerr"
)

// Transport is the subset of usbtransport.Framer the driver needs, kept as
// an interface so tests can substitute a fake.
type Transport interface {
	Xfer(cmd []byte, data []byte, rxLen int) ([]byte, error)
}

// Mode is the probe's current operating mode, as returned by
// GET_CURRENT_MODE (lib/stlinkv2.py's STLINK_MODE_* constants).
type Mode byte

const (
	ModeDFU        Mode = 0x00
	ModeMass       Mode = 0x01
	ModeDebug      Mode = 0x02
	ModeSWIM       Mode = 0x03
	ModeBootloader Mode = 0x04
)

// Driver wraps a Transport with the ST-Link/V2 command set: version and
// mode queries, SWD entry and frequency selection, debug-register and
// core-register access, and 8/32-bit target memory access. Grounded on the
// original project's lib/stlinkv2.py StlinkDriver class.
type Driver struct {
	t Transport
}

func New(t Transport) *Driver {
	return &Driver{t: t}
}

// Version returns the raw 16-bit version word returned by GET_VERSION.
func (d *Driver) Version() (uint16, error) {
	rx, err := d.t.Xfer([]byte{cmdGetVersion, 0x80}, nil, 6)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(rx[:2]), nil
}

// CurrentMode reports the probe's current operating mode.
func (d *Driver) CurrentMode() (Mode, error) {
	rx, err := d.t.Xfer([]byte{cmdGetCurrentMode}, nil, 2)
	if err != nil {
		return 0, err
	}
	return Mode(rx[0]), nil
}

// LeaveState exits whatever mode the probe is currently in (DFU, debug, or
// SWIM), so a fresh SWD session can be entered cleanly.
func (d *Driver) LeaveState() error {
	mode, err := d.CurrentMode()
	if err != nil {
		return err
	}
	switch mode {
	case ModeDFU:
		_, err = d.t.Xfer([]byte{cmdDfuCommand, modeDfuExit}, nil, 0)
	case ModeDebug:
		_, err = d.t.Xfer([]byte{cmdDebugCommand, debugExit}, nil, 0)
	case ModeSWIM:
		_, err = d.t.Xfer([]byte{cmdSwimCommand, 0x01}, nil, 0)
	}
	return err
}

// TargetVoltage reads the probe's target-voltage ADC channels and computes
// the supply voltage, per lib/stlinkv2.py get_target_voltage: 2*a1*1.2/a0.
func (d *Driver) TargetVoltage() (float64, error) {
	if err := d.LeaveState(); err != nil {
		return 0, err
	}
	rx, err := d.t.Xfer([]byte{cmdGetTargetVoltage}, nil, 8)
	if err != nil {
		return 0, err
	}
	a0 := binary.LittleEndian.Uint32(rx[0:4])
	a1 := binary.LittleEndian.Uint32(rx[4:8])
	if a0 == 0 {
		return 0, stlinkerr.New(stlinkerr.Protocol, "target voltage ADC returned zero reference")
	}
	return 2 * float64(a1) * 1.2 / float64(a0), nil
}

// SetSWDFreq selects the nearest supported SWD clock at or below freqHz,
// matching the original's greedy descending-table walk in set_swd_freq.
func (d *Driver) SetSWDFreq(freqHz int) error {
	for _, f := range swdFrequencies {
		if freqHz >= f.khz*1000 {
			cmd := []byte{cmdDebugCommand, debugApiV2SetSWDFreq, byte(f.div), byte(f.div >> 8)}
			rx, err := d.t.Xfer(cmd, nil, 2)
			if err != nil {
				return err
			}
			if rx[0] != 0x80 {
				return stlinkerr.New(stlinkerr.Protocol, "probe rejected SWD frequency switch")
			}
			return nil
		}
	}
	return stlinkerr.New(stlinkerr.BadParam, "requested SWD frequency %d Hz is below the minimum supported 25000 Hz", freqHz)
}

// EnterSWDDebug switches the probe into APIv2 SWD debug mode.
func (d *Driver) EnterSWDDebug() error {
	_, err := d.t.Xfer([]byte{cmdDebugCommand, debugApiV2EnterState, debugApiV2EnterSWD}, nil, 2)
	return err
}

// ReadCoreID reads the Cortex-M ROM table CoreID.
func (d *Driver) ReadCoreID() (uint32, error) {
	rx, err := d.t.Xfer([]byte{cmdDebugCommand, debugReadCoreID}, nil, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rx[:4]), nil
}

// ReadIDCodes reads the combined CoreID/IDCODE pair via APIV2_READ_IDCODES.
func (d *Driver) ReadIDCodes() (coreID, idCode uint32, err error) {
	rx, err := d.t.Xfer([]byte{cmdDebugCommand, debugApiV2ReadIDCodes}, nil, 12)
	if err != nil {
		return 0, 0, err
	}
	coreID = binary.LittleEndian.Uint32(rx[0:4])
	idCode = binary.LittleEndian.Uint32(rx[4:8])
	return coreID, idCode, nil
}

func checkAlign(addr uint32, mult uint32) error {
	if addr%mult != 0 {
		return stlinkerr.New(stlinkerr.Alignment, "address must be a multiple of %d", mult).WithAddr(addr)
	}
	return nil
}

// SetDebugReg32 writes a 32-bit debug/system-control register.
func (d *Driver) SetDebugReg32(addr, value uint32) error {
	if err := checkAlign(addr, 4); err != nil {
		return err
	}
	cmd := make([]byte, 2, 10)
	cmd[0], cmd[1] = cmdDebugCommand, debugApiV2WriteDebugReg
	cmd = binary.LittleEndian.AppendUint32(cmd, addr)
	cmd = binary.LittleEndian.AppendUint32(cmd, value)
	_, err := d.t.Xfer(cmd, nil, 2)
	return err
}

// GetDebugReg32 reads a 32-bit debug/system-control register.
func (d *Driver) GetDebugReg32(addr uint32) (uint32, error) {
	if err := checkAlign(addr, 4); err != nil {
		return 0, err
	}
	cmd := make([]byte, 2, 6)
	cmd[0], cmd[1] = cmdDebugCommand, debugApiV2ReadDebugReg
	cmd = binary.LittleEndian.AppendUint32(cmd, addr)
	rx, err := d.t.Xfer(cmd, nil, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rx[4:8]), nil
}

// GetDebugReg16 reads a 16-bit register window out of the 32-bit debug
// register space, per get_debugreg16.
func (d *Driver) GetDebugReg16(addr uint32) (uint16, error) {
	if err := checkAlign(addr, 2); err != nil {
		return 0, err
	}
	val, err := d.GetDebugReg32(addr &^ 3)
	if err != nil {
		return 0, err
	}
	if addr%4 != 0 {
		val >>= 16
	}
	return uint16(val), nil
}

// GetDebugReg8 reads an 8-bit byte out of the 32-bit debug register space.
func (d *Driver) GetDebugReg8(addr uint32) (uint8, error) {
	val, err := d.GetDebugReg32(addr &^ 3)
	if err != nil {
		return 0, err
	}
	val >>= (addr % 4) * 8
	return uint8(val), nil
}

const numCoreRegs = 21

// GetReg reads core register index reg (0..20: R0-R12, SP, LR, PC, PSR, MSP,
// PSP, plus control regs, per the Cortex-M register file order).
func (d *Driver) GetReg(reg int) (uint32, error) {
	if reg < 0 || reg >= numCoreRegs {
		return 0, stlinkerr.New(stlinkerr.BadParam, "core register index %d out of range", reg)
	}
	rx, err := d.t.Xfer([]byte{cmdDebugCommand, debugApiV2ReadReg, byte(reg)}, nil, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rx[4:8]), nil
}

// SetReg writes core register index reg.
func (d *Driver) SetReg(reg int, value uint32) error {
	if reg < 0 || reg >= numCoreRegs {
		return stlinkerr.New(stlinkerr.BadParam, "core register index %d out of range", reg)
	}
	cmd := make([]byte, 3, 7)
	cmd[0], cmd[1], cmd[2] = cmdDebugCommand, debugApiV2WriteReg, byte(reg)
	cmd = binary.LittleEndian.AppendUint32(cmd, value)
	_, err := d.t.Xfer(cmd, nil, 2)
	return err
}

// GetAllRegs reads the full core register file in one round trip.
func (d *Driver) GetAllRegs() ([numCoreRegs]uint32, error) {
	var regs [numCoreRegs]uint32
	rx, err := d.t.Xfer([]byte{cmdDebugCommand, debugApiV2ReadAllRegs}, nil, 4+numCoreRegs*4)
	if err != nil {
		return regs, err
	}
	for i := 0; i < numCoreRegs; i++ {
		off := 4 + i*4
		regs[i] = binary.LittleEndian.Uint32(rx[off : off+4])
	}
	return regs, nil
}

const maxMem32Transfer = 1024

// GetMem32 reads size bytes of target memory starting at addr (both must be
// 4-byte aligned), in chunks no larger than maxMem32Transfer.
func (d *Driver) GetMem32(addr uint32, size int) ([]byte, error) {
	if err := checkAlign(addr, 4); err != nil {
		return nil, err
	}
	if size%4 != 0 {
		return nil, stlinkerr.New(stlinkerr.Alignment, "read size must be a multiple of 4, got %d", size)
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		chunk := size - len(out)
		if chunk > maxMem32Transfer {
			chunk = maxMem32Transfer
		}
		a := addr + uint32(len(out))
		cmd := make([]byte, 2, 10)
		cmd[0], cmd[1] = cmdDebugCommand, debugApiV2ReadMem32Bit
		cmd = binary.LittleEndian.AppendUint32(cmd, a)
		cmd = binary.LittleEndian.AppendUint32(cmd, uint32(chunk))
		rx, err := d.t.Xfer(cmd, nil, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, rx...)
	}
	return out, nil
}

// SetMem32 writes data (length must be a multiple of 4) to target memory at
// addr (also 4-byte aligned), in chunks no larger than maxMem32Transfer.
func (d *Driver) SetMem32(addr uint32, data []byte) error {
	if err := checkAlign(addr, 4); err != nil {
		return err
	}
	if len(data)%4 != 0 {
		return stlinkerr.New(stlinkerr.Alignment, "write size must be a multiple of 4, got %d", len(data))
	}
	for off := 0; off < len(data); {
		chunk := len(data) - off
		if chunk > maxMem32Transfer {
			chunk = maxMem32Transfer
		}
		a := addr + uint32(off)
		cmd := make([]byte, 2, 10)
		cmd[0], cmd[1] = cmdDebugCommand, debugApiV2WriteMem32Bit
		cmd = binary.LittleEndian.AppendUint32(cmd, a)
		cmd = binary.LittleEndian.AppendUint32(cmd, uint32(chunk))
		if _, err := d.t.Xfer(cmd, data[off:off+chunk], 0); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

const maxMem8Transfer = 64

// GetMem8 reads up to maxMem8Transfer bytes (no alignment requirement).
func (d *Driver) GetMem8(addr uint32, size int) ([]byte, error) {
	if size > maxMem8Transfer {
		return nil, stlinkerr.New(stlinkerr.BadParam, "8-bit read of %d bytes exceeds maximum %d", size, maxMem8Transfer)
	}
	cmd := make([]byte, 2, 10)
	cmd[0], cmd[1] = cmdDebugCommand, debugReadMem8Bit
	cmd = binary.LittleEndian.AppendUint32(cmd, addr)
	cmd = binary.LittleEndian.AppendUint32(cmd, uint32(size))
	return d.t.Xfer(cmd, nil, size)
}

// SetMem8 writes up to maxMem8Transfer bytes (no alignment requirement).
func (d *Driver) SetMem8(addr uint32, data []byte) error {
	if len(data) > maxMem8Transfer {
		return stlinkerr.New(stlinkerr.BadParam, "8-bit write of %d bytes exceeds maximum %d", len(data), maxMem8Transfer)
	}
	cmd := make([]byte, 2, 10)
	cmd[0], cmd[1] = cmdDebugCommand, debugWriteMem8Bit
	cmd = binary.LittleEndian.AppendUint32(cmd, addr)
	cmd = binary.LittleEndian.AppendUint32(cmd, uint32(len(data)))
	_, err := d.t.Xfer(cmd, data, 0)
	return err
}

// DriveNRST drives the target reset line high or low; it issues no pulse.
func (d *Driver) DriveNRST(high bool) error {
	v := byte(driveNRSTLow)
	if high {
		v = driveNRSTHigh
	}
	_, err := d.t.Xfer([]byte{cmdDebugCommand, debugApiV2DriveNRST, v}, nil, 2)
	return err
}
