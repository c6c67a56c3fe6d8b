// Package flash implements C4/C5: STM32 on-chip flash programming for both
// the page-erase family (STM32F0/F1/F3, "FP") and the sector-erase family
// (STM32F2/F4, "FS"). Grounded on the original project's lib/stm32f0.py and
// lib/stm32fs.py.
package flash

import (
	"time"
)

// Probe is the subset of *stlink.Driver the flash layer needs directly, for
// the debug-register and breakpoint-poll operations the CPU layer doesn't
// already wrap.
type Probe interface {
	GetDebugReg32(addr uint32) (uint32, error)
	SetDebugReg32(addr, value uint32) error
}

// CPU is the subset of *cortexm.CPU the flash layer drives: register file
// access, memory access, and reset/run control around the writer stub.
type CPU interface {
	SetReg(name string, value uint32) error
	SetMem(addr uint32, data []byte) error
	GetMem(addr uint32, size int) ([]byte, error)
	Run() error
	Reset() error
	ResetHalt() error
	WaitHalted(attempts int) error
}

// Writer is the common contract both flash families satisfy.
type Writer interface {
	// EraseAll performs a mass erase of the whole flash array.
	EraseAll() error
	// Write programs data starting at addr, erasing first if erase is true
	// and verifying by read-back afterward if verify is true.
	Write(addr uint32, data []byte, erase, verify bool) error
}

const busyPollInterval = 10 * time.Millisecond

func fillToMultiple(data []byte, mult int, pad byte) []byte {
	if len(data)%mult == 0 {
		return data
	}
	out := make([]byte, len(data), len(data)+mult)
	copy(out, data)
	for len(out)%mult != 0 {
		out = append(out, pad)
	}
	return out
}

func allFF(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

// loadWriterStub installs the Thumb writer code at writerOffset in target
// RAM, grounded on stm32f0.py/stm32fs.py's init_write.
func loadWriterStub(cpu CPU, writerOffset uint32, code []byte) error {
	return cpu.SetMem(writerOffset, code)
}

// invokeWriterStub programs one block via the resident writer stub: uploads
// the block to dataOffset, sets up R0-R2/PC, and runs it. If haltPolls>0 it
// also waits for the bkpt to halt the core via cpu.WaitHalted; callers that
// need a time-based wait (the sector family) pass haltPolls<=0 and poll for
// the halt themselves afterward. Grounded on stm32f0.py's flash_write inner
// loop.
func invokeWriterStub(cpu CPU, writerOffset, dataOffset, addr uint32, block []byte, haltPolls int) error {
	if err := cpu.SetMem(dataOffset, block); err != nil {
		return err
	}
	if err := cpu.SetReg("PC", writerOffset); err != nil {
		return err
	}
	if err := cpu.SetReg("R0", dataOffset); err != nil {
		return err
	}
	if err := cpu.SetReg("R1", addr); err != nil {
		return err
	}
	if err := cpu.SetReg("R2", uint32(len(block))); err != nil {
		return err
	}
	if err := cpu.Run(); err != nil {
		return err
	}
	if haltPolls > 0 {
		return cpu.WaitHalted(haltPolls)
	}
	return nil
}
