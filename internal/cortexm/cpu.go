// Package cortexm implements C3: the Cortex-M CPU layer on top of the
// ST-Link wire driver — register file access, halt/run/step/reset control,
// and alignment-aware target memory access. Grounded on the original
// project's lib/stm32.py Stm32 base class.
package cortexm

import (
	"strings"

	"stlinkflash/internal/progress"
	"stlinkflash/internal/stlinkerr"
)

// Probe is the subset of *stlink.Driver the CPU layer depends on.
type Probe interface {
	GetReg(reg int) (uint32, error)
	SetReg(reg int, value uint32) error
	GetAllRegs() ([21]uint32, error)
	GetDebugReg32(addr uint32) (uint32, error)
	SetDebugReg32(addr, value uint32) error
	GetMem32(addr uint32, size int) ([]byte, error)
	SetMem32(addr uint32, data []byte) error
	GetMem8(addr uint32, size int) ([]byte, error)
	SetMem8(addr uint32, data []byte) error
}

// Registers names the core register file in ST-Link index order.
var Registers = []string{
	"R0", "R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8", "R9", "R10", "R11",
	"R12", "SP", "LR", "PC", "PSR", "MSP", "PSP",
}

const (
	SRAMStart  uint32 = 0x20000000
	FlashStart uint32 = 0x08000000

	AIRCRReg uint32 = 0xe000ed0c
	DHCSRReg uint32 = 0xe000edf0
	DEMCRReg uint32 = 0xe000edfc

	aircrKey            = 0x05fa0000
	aircrSysResetReqBit = 0x00000004
	aircrSysResetReq    = aircrKey | aircrSysResetReqBit

	dhcsrKey           = 0xa05f0000
	dhcsrDebugEnBit    = 0x00000001
	dhcsrHaltBit       = 0x00000002
	dhcsrStepBit       = 0x00000004
	dhcsrStatusHaltBit = 0x00020000
	dhcsrDebugDis      = dhcsrKey
	dhcsrDebugEn       = dhcsrKey | dhcsrDebugEnBit
	dhcsrHalt          = dhcsrKey | dhcsrDebugEnBit | dhcsrHaltBit
	dhcsrStep          = dhcsrKey | dhcsrDebugEnBit | dhcsrStepBit

	DemcrRunAfterReset  = 0x00000000
	DemcrHaltAfterReset = 0x00000001
)

// CPU is the Cortex-M register/memory/control facade handed to flash
// programming and CLI code.
type CPU struct {
	p   Probe
	log progress.Sink
}

func New(p Probe, log progress.Sink) *CPU {
	if log == nil {
		log = progress.Noop{}
	}
	return &CPU{p: p, log: log}
}

// IsReg reports whether name (case-insensitive) names a core register.
func IsReg(name string) bool {
	_, ok := regIndex(name)
	return ok
}

func regIndex(name string) (int, bool) {
	u := strings.ToUpper(name)
	for i, r := range Registers {
		if r == u {
			return i, true
		}
	}
	return 0, false
}

// GetReg reads a core register by name.
func (c *CPU) GetReg(name string) (uint32, error) {
	idx, ok := regIndex(name)
	if !ok {
		return 0, stlinkerr.New(stlinkerr.BadParam, "unknown register name %q", name)
	}
	return c.p.GetReg(idx)
}

// SetReg writes a core register by name.
func (c *CPU) SetReg(name string, value uint32) error {
	idx, ok := regIndex(name)
	if !ok {
		return stlinkerr.New(stlinkerr.BadParam, "unknown register name %q", name)
	}
	return c.p.SetReg(idx, value)
}

// NamedReg is one entry of a full register-file dump.
type NamedReg struct {
	Name  string
	Value uint32
}

// GetRegAll reads every core register in table order.
func (c *CPU) GetRegAll() ([]NamedReg, error) {
	raw, err := c.p.GetAllRegs()
	if err != nil {
		return nil, err
	}
	out := make([]NamedReg, 0, len(Registers))
	for i, name := range Registers {
		if i >= len(raw) {
			break
		}
		out = append(out, NamedReg{Name: name, Value: raw[i]})
	}
	return out, nil
}

const defaultBlockSize = 1024

// GetMem reads size bytes from addr, using 8-bit transfers for the
// misaligned lead-in and tail and 32-bit bulk transfers for the aligned
// middle, exactly per lib/stm32.py's get_mem chunking algorithm.
func (c *CPU) GetMem(addr uint32, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	c.log.BargraphStart("Reading memory", 0, size)
	defer c.log.BargraphDone()

	data := make([]byte, 0, size)
	if addr%4 != 0 {
		lead := int(4 - addr%4)
		if lead > size {
			lead = size
		}
		b, err := c.p.GetMem8(addr, lead)
		if err != nil {
			return nil, err
		}
		data = append(data, b...)
	}
	for {
		c.log.BargraphUpdate(len(data))
		remain := (size - len(data)) &^ 3
		readSize := remain
		if readSize > defaultBlockSize {
			readSize = defaultBlockSize
		}
		if readSize == 0 {
			break
		}
		b, err := c.p.GetMem32(addr+uint32(len(data)), readSize)
		if err != nil {
			return nil, err
		}
		data = append(data, b...)
	}
	if len(data) < size {
		b, err := c.p.GetMem8(addr+uint32(len(data)), size-len(data))
		if err != nil {
			return nil, err
		}
		data = append(data, b...)
	}
	return data, nil
}

// SetMem writes data to addr using the same alignment-splitting strategy as
// GetMem, per lib/stm32.py's set_mem.
func (c *CPU) SetMem(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.log.BargraphStart("Writing memory", 0, len(data))
	defer c.log.BargraphDone()

	size := 0
	if addr%4 != 0 {
		lead := int(4 - addr%4)
		if lead > len(data) {
			lead = len(data)
		}
		if err := c.p.SetMem8(addr, data[:lead]); err != nil {
			return err
		}
		size = lead
	}
	for {
		c.log.BargraphUpdate(size)
		remain := (len(data) - size) &^ 3
		writeSize := remain
		if writeSize > defaultBlockSize {
			writeSize = defaultBlockSize
		}
		if writeSize == 0 {
			break
		}
		if err := c.p.SetMem32(addr+uint32(size), data[size:size+writeSize]); err != nil {
			return err
		}
		size += writeSize
	}
	if size < len(data) {
		if err := c.p.SetMem8(addr+uint32(size), data[size:]); err != nil {
			return err
		}
	}
	return nil
}

// Fill writes size bytes of the repeating pattern starting at addr.
func (c *CPU) Fill(addr uint32, size int, pattern []byte) error {
	if len(pattern) == 0 {
		return stlinkerr.New(stlinkerr.BadParam, "fill pattern must not be empty")
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return c.SetMem(addr, data)
}

// Reset issues a system reset and lets the core run afterward.
func (c *CPU) Reset() error {
	if err := c.p.SetDebugReg32(DEMCRReg, DemcrRunAfterReset); err != nil {
		return err
	}
	if err := c.p.SetDebugReg32(AIRCRReg, aircrSysResetReq); err != nil {
		return err
	}
	_, err := c.p.GetDebugReg32(AIRCRReg)
	return err
}

// ResetHalt issues a system reset and halts the core immediately after.
func (c *CPU) ResetHalt() error {
	if err := c.p.SetDebugReg32(DHCSRReg, dhcsrHalt); err != nil {
		return err
	}
	if err := c.p.SetDebugReg32(DEMCRReg, DemcrHaltAfterReset); err != nil {
		return err
	}
	if err := c.p.SetDebugReg32(AIRCRReg, aircrSysResetReq); err != nil {
		return err
	}
	_, err := c.p.GetDebugReg32(AIRCRReg)
	return err
}

// Halt stops core execution.
func (c *CPU) Halt() error {
	return c.p.SetDebugReg32(DHCSRReg, dhcsrHalt)
}

// Step single-steps one instruction.
func (c *CPU) Step() error {
	return c.p.SetDebugReg32(DHCSRReg, dhcsrStep)
}

// Run resumes core execution, leaving debug mode enabled.
func (c *CPU) Run() error {
	return c.p.SetDebugReg32(DHCSRReg, dhcsrDebugEn)
}

// NoDebug disables the debug interface entirely, letting the target run
// freestanding until the next probe session.
func (c *CPU) NoDebug() error {
	return c.p.SetDebugReg32(DHCSRReg, dhcsrDebugDis)
}

// IsHalted reports whether DHCSR currently reports the core halted.
func (c *CPU) IsHalted() (bool, error) {
	v, err := c.p.GetDebugReg32(DHCSRReg)
	if err != nil {
		return false, err
	}
	return v&dhcsrStatusHaltBit != 0, nil
}

// WaitHalted polls DHCSR until the core halts or attempts run out, returning
// a Timeout error on exhaustion. Grounded on stm32f0.py's breakpoint poll
// loop in flash_write.
func (c *CPU) WaitHalted(attempts int) error {
	for i := 0; i < attempts; i++ {
		halted, err := c.IsHalted()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return stlinkerr.New(stlinkerr.Timeout, "core did not halt within %d polls", attempts)
}
