package flash

import (
	"time"

	"stlinkflash/internal/cortexm"
	"stlinkflash/internal/progress"
	"stlinkflash/internal/stlinkerr"
)

// Page-family (STM32F0/F1/F3) flash register bank, per stm32f0.py.
const (
	fpRegBase = 0x40022000
	fpKeyrReg = fpRegBase + 0x04
	fpSrReg   = fpRegBase + 0x0c
	fpCrReg   = fpRegBase + 0x10
	fpArReg   = fpRegBase + 0x14

	fpCrLockBit = 0x00000080
	fpCrPGBit   = 0x00000001
	fpCrPERBit  = 0x00000002
	fpCrMERBit  = 0x00000004
	fpCrSTRTBit = 0x00000040
	fpSrBusyBit = 0x00000001
	fpSrEOPBit  = 0x00000020

	fpKey1 = 0x45670123
	fpKey2 = 0xcdef89ab
)

// fpWriterCode is the resident Thumb stub that polls FLASH_SR and advances
// by 2 bytes per halfword, transcribed verbatim from stm32f0.py's
// FLASH_WRITER_F0_CODE.
var fpWriterCode = []byte{
	0x03, 0x88,
	0x0b, 0x80,
	0xe3, 0x68,
	0x2b, 0x42,
	0xfc, 0xd1,
	0x33, 0x42,
	0x04, 0xd0,
	0x02, 0x30,
	0x02, 0x31,
	0x02, 0x3a,
	0x00, 0x2a,
	0xf3, 0xd1,
	0x00, 0xbe,
}

const fpPageSize = 1024

// PageFlash drives the page-erase STM32F0/F1/F3 flash controller.
type PageFlash struct {
	probe Probe
	cpu   CPU
	log   progress.Sink
}

func NewPageFlash(probe Probe, cpu CPU, log progress.Sink) *PageFlash {
	if log == nil {
		log = progress.Noop{}
	}
	return &PageFlash{probe: probe, cpu: cpu, log: log}
}

// unlock resets and halts the core then clears FLASH_CR's LOCK bit if set,
// per stm32f0.py's flash_unlock.
func (f *PageFlash) unlock() error {
	if err := f.cpu.ResetHalt(); err != nil {
		return err
	}
	cr, err := f.probe.GetDebugReg32(fpCrReg)
	if err != nil {
		return err
	}
	if cr&fpCrLockBit != 0 {
		if err := f.probe.SetDebugReg32(fpKeyrReg, fpKey1); err != nil {
			return err
		}
		if err := f.probe.SetDebugReg32(fpKeyrReg, fpKey2); err != nil {
			return err
		}
	}
	cr, err = f.probe.GetDebugReg32(fpCrReg)
	if err != nil {
		return err
	}
	if cr&fpCrLockBit != 0 {
		return stlinkerr.New(stlinkerr.FlashLock, "failed to unlock flash controller")
	}
	return nil
}

func (f *PageFlash) lock() error {
	return f.probe.SetDebugReg32(fpCrReg, fpCrLockBit)
}

func (f *PageFlash) waitNotBusy(limit int) (uint32, error) {
	var status uint32
	var err error
	for i := 0; i < limit; i++ {
		status, err = f.probe.GetDebugReg32(fpSrReg)
		if err != nil {
			return 0, err
		}
		if status&fpSrBusyBit == 0 {
			return status, nil
		}
		time.Sleep(busyPollInterval)
	}
	return status, stlinkerr.New(stlinkerr.Timeout, "flash operation still busy after %d polls", limit)
}

// EraseAll performs a mass erase, per stm32f0.py's flash_erase(addr=None).
func (f *PageFlash) EraseAll() error {
	return f.erase(0, false)
}

// ErasePage erases the single page containing addr.
func (f *PageFlash) ErasePage(addr uint32) error {
	return f.erase(addr, true)
}

// EraseRange erases every page overlapping [addr, addr+size).
func (f *PageFlash) EraseRange(addr uint32, size int) error {
	if size <= 0 {
		return nil
	}
	start := addr - addr%fpPageSize
	end := addr + uint32(size)
	f.log.BargraphStart("Erasing FLASH", int(start), int(end))
	for p := start; p < end; p += fpPageSize {
		f.log.BargraphUpdate(int(p))
		if err := f.erase(p, true); err != nil {
			f.log.BargraphDone()
			return err
		}
	}
	f.log.BargraphDone()
	return nil
}

func (f *PageFlash) erase(addr uint32, page bool) error {
	f.log.BargraphStart("Erasing FLASH", 0, 1)
	defer f.log.BargraphDone()

	if err := f.unlock(); err != nil {
		return err
	}
	if page {
		if err := f.probe.SetDebugReg32(fpCrReg, fpCrPERBit); err != nil {
			return err
		}
		if err := f.probe.SetDebugReg32(fpArReg, addr); err != nil {
			return err
		}
		if err := f.probe.SetDebugReg32(fpCrReg, fpCrPERBit|fpCrSTRTBit); err != nil {
			return err
		}
	} else {
		if err := f.probe.SetDebugReg32(fpCrReg, fpCrMERBit); err != nil {
			return err
		}
		if err := f.probe.SetDebugReg32(fpCrReg, fpCrMERBit|fpCrSTRTBit); err != nil {
			return err
		}
	}
	status, err := f.waitNotBusy(100)
	if err != nil {
		return err
	}
	if status&fpSrEOPBit == 0 {
		return stlinkerr.New(stlinkerr.FlashProgram, "erase failed, FLASH_SR=0x%08x", status).WithValue(status)
	}
	if err := f.probe.SetDebugReg32(fpSrReg, fpSrEOPBit); err != nil {
		return err
	}
	return f.lock()
}

// Write programs data starting at addr (cortexm.FlashStart if addr==0), per
// stm32f0.py's flash_write. The 0xFF-only blocks are skipped as an
// optimization matching the original.
func (f *PageFlash) Write(addr uint32, data []byte, erase, verify bool) error {
	if addr == 0 {
		addr = cortexm.FlashStart
	}
	if addr%2 != 0 {
		return stlinkerr.New(stlinkerr.Alignment, "flash address must be 2-byte aligned").WithAddr(addr)
	}
	data = fillToMultiple(data, 2, 0xff)

	if erase {
		if err := f.EraseRange(addr, len(data)); err != nil {
			return err
		}
	}

	writerOffset := cortexm.SRAMStart
	dataOffset := cortexm.SRAMStart + 0x100

	f.log.BargraphStart("Writing FLASH", int(addr), int(addr)+len(data))
	defer f.log.BargraphDone()

	if err := f.unlock(); err != nil {
		return err
	}
	if err := loadWriterStub(f.cpu, writerOffset, fpWriterCode); err != nil {
		return err
	}
	if err := f.cpu.SetReg("R4", fpRegBase); err != nil {
		return err
	}
	if err := f.cpu.SetReg("R5", fpSrBusyBit); err != nil {
		return err
	}
	if err := f.cpu.SetReg("R6", fpSrEOPBit); err != nil {
		return err
	}
	if err := f.probe.SetDebugReg32(fpCrReg, fpCrPGBit); err != nil {
		return err
	}

	const blockSize = 1024
	for off := 0; off < len(data); off += blockSize {
		end := off + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[off:end]
		a := addr + uint32(off)
		f.log.BargraphUpdate(int(a))
		if allFF(block) {
			continue
		}
		block = fillToMultiple(block, 4, 0xff)
		if err := invokeWriterStub(f.cpu, writerOffset, dataOffset, a, block, 100); err != nil {
			return err
		}
		status, err := f.probe.GetDebugReg32(fpSrReg)
		if err != nil {
			return err
		}
		if status&fpSrEOPBit == 0 {
			return stlinkerr.New(stlinkerr.FlashProgram, "write failed at 0x%08x, FLASH_SR=0x%08x", a, status).WithAddr(a).WithValue(status)
		}
		if err := f.probe.SetDebugReg32(fpSrReg, fpSrEOPBit); err != nil {
			return err
		}
	}

	if err := f.cpu.Reset(); err != nil {
		return err
	}
	if err := f.lock(); err != nil {
		return err
	}

	if verify {
		got, err := f.cpu.GetMem(addr, len(data))
		if err != nil {
			return err
		}
		for i := range got {
			if got[i] != data[i] {
				return stlinkerr.New(stlinkerr.VerifyMismatch, "verify mismatch at 0x%08x: wrote 0x%02x, read 0x%02x", addr+uint32(i), data[i], got[i]).WithAddr(addr + uint32(i))
			}
		}
	}
	return nil
}
