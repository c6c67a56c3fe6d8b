package flash

import (
	"time"

	"stlinkflash/internal/cortexm"
	"stlinkflash/internal/progress"
	"stlinkflash/internal/stlinkerr"
)

// Sector-family (STM32F2/F4) flash register bank, per stm32fs.py.
const (
	fsRegBase     = 0x40023c00
	fsKeyrReg     = fsRegBase + 0x04
	fsSrReg       = fsRegBase + 0x0c
	fsCrReg       = fsRegBase + 0x10
	fsCrLockBit   = 0x80000000
	fsCrPGBit     = 0x00000001
	fsCrSERBit    = 0x00000002
	fsCrMERBit    = 0x00000004
	fsCrSTRTBit   = 0x00010000
	fsCrPsizeX8   = 0x00000000
	fsCrPsizeX16  = 0x00000100
	fsCrPsizeX32  = 0x00000200
	fsCrSNBShift  = 3
	fsSrBusyBit   = 0x00010000
	fsKey1        = 0x45670123
	fsKey2        = 0xcdef89ab
)

// voltageParams holds the PSIZE/writer-stub/timing selection for one supply
// voltage band, per stm32fs.py's VOLTAGE_DEPENDEND_PARAMS.
type voltageParams struct {
	minVoltage    float64
	maxMassErase  time.Duration
	maxEraseBySize map[int]time.Duration // keyed by sector size in KB
	psize         uint32
	writerCode    []byte
}

var fsWriterX8 = []byte{
	0x03, 0x78, 0x0b, 0x70,
	0x23, 0x68, 0x2b, 0x42, 0xfc, 0xd1,
	0x00, 0x2b, 0x04, 0xd1,
	0x01, 0x30, 0x01, 0x31, 0x01, 0x3a,
	0x00, 0x2a, 0xf3, 0xd1,
	0x00, 0xbe,
}

var fsWriterX16 = []byte{
	0x03, 0x88, 0x0b, 0x80,
	0x23, 0x68, 0x2b, 0x42, 0xfc, 0xd1,
	0x00, 0x2b, 0x04, 0xd1,
	0x02, 0x30, 0x02, 0x31, 0x02, 0x3a,
	0x00, 0x2a, 0xf3, 0xd1,
	0x00, 0xbe,
}

var fsWriterX32 = []byte{
	0x03, 0x68, 0x0b, 0x60,
	0x23, 0x68, 0x2b, 0x42, 0xfc, 0xd1,
	0x00, 0x2b, 0x04, 0xd1,
	0x04, 0x30, 0x04, 0x31, 0x04, 0x3a,
	0x00, 0x2a, 0xf3, 0xd1,
	0x00, 0xbe,
}

var voltageTable = []voltageParams{
	{
		minVoltage:   2.7,
		maxMassErase: 16 * time.Second,
		maxEraseBySize: map[int]time.Duration{
			16: 500 * time.Millisecond, 32: 1100 * time.Millisecond, 64: 1100 * time.Millisecond,
			128: 2 * time.Second, 256: 2 * time.Second,
		},
		psize:      fsCrPsizeX32,
		writerCode: fsWriterX32,
	},
	{
		minVoltage:   2.1,
		maxMassErase: 22 * time.Second,
		maxEraseBySize: map[int]time.Duration{
			16: 600 * time.Millisecond, 32: 1400 * time.Millisecond, 64: 1400 * time.Millisecond,
			128: 2600 * time.Millisecond, 256: 2600 * time.Millisecond,
		},
		psize:      fsCrPsizeX16,
		writerCode: fsWriterX16,
	},
	{
		minVoltage:   1.8,
		maxMassErase: 32 * time.Second,
		maxEraseBySize: map[int]time.Duration{
			16: 800 * time.Millisecond, 32: 2400 * time.Millisecond, 64: 2400 * time.Millisecond,
			128: 4 * time.Second, 256: 4 * time.Second,
		},
		psize:      fsCrPsizeX8,
		writerCode: fsWriterX8,
	},
}

func voltageParamsFor(volts float64) (voltageParams, error) {
	for _, p := range voltageTable {
		if volts > p.minVoltage {
			return p, nil
		}
	}
	return voltageParams{}, stlinkerr.New(stlinkerr.FlashVoltage, "supply voltage %.2fV is below the 1.8V minimum required for flash program/erase", volts)
}

// SectorFlash drives the sector-erase STM32F2/F4 flash controller.
type SectorFlash struct {
	probe       Probe
	cpu         CPU
	log         progress.Sink
	params      voltageParams
	writerAddr  uint32
	dataAddr    uint32
	erasedSizes []int // sector sizes in KB, in address order
}

// NewSectorFlash unlocks the controller and selects writer/timing
// parameters for the given target supply voltage, per stm32fs.py's Flash
// constructor. eraseSizes lists sector sizes (KB) in address order and is
// used by EraseRange; pass nil if only EraseAll/Write without erase-by-range
// is needed.
func NewSectorFlash(probe Probe, cpu CPU, log progress.Sink, targetVoltage float64, eraseSizes []int) (*SectorFlash, error) {
	if log == nil {
		log = progress.Noop{}
	}
	params, err := voltageParamsFor(targetVoltage)
	if err != nil {
		return nil, err
	}
	f := &SectorFlash{
		probe: probe, cpu: cpu, log: log, params: params,
		writerAddr: cortexm.SRAMStart, dataAddr: cortexm.SRAMStart + 0x100,
		erasedSizes: eraseSizes,
	}
	if err := f.unlock(); err != nil {
		return nil, err
	}
	return f, nil
}

// unlock resets and halts the core, then performs the two mandatory dummy
// FLASH_CR reads before testing LOCK — stm32fs.py's unlock() issues these
// reads unconditionally (a silicon quirk on the F2/F4 controller absent from
// the simpler F0/F1 page controller) — then clears LOCK if set.
func (f *SectorFlash) unlock() error {
	if err := f.cpu.ResetHalt(); err != nil {
		return err
	}
	if _, err := f.probe.GetDebugReg32(fsCrReg); err != nil {
		return err
	}
	if _, err := f.probe.GetDebugReg32(fsCrReg); err != nil {
		return err
	}
	cr, err := f.probe.GetDebugReg32(fsCrReg)
	if err != nil {
		return err
	}
	if cr&fsCrLockBit != 0 {
		if err := f.probe.SetDebugReg32(fsKeyrReg, fsKey1); err != nil {
			return err
		}
		if err := f.probe.SetDebugReg32(fsKeyrReg, fsKey2); err != nil {
			return err
		}
	}
	cr, err = f.probe.GetDebugReg32(fsCrReg)
	if err != nil {
		return err
	}
	if cr&fsCrLockBit != 0 {
		return stlinkerr.New(stlinkerr.FlashLock, "failed to unlock flash controller")
	}
	return nil
}

func (f *SectorFlash) lock() error {
	if err := f.probe.SetDebugReg32(fsCrReg, fsCrLockBit); err != nil {
		return err
	}
	return f.cpu.ResetHalt()
}

func (f *SectorFlash) waitBusy(maxWait time.Duration, label string) error {
	deadline := time.Now().Add(maxWait + maxWait/2)
	if label != "" {
		f.log.BargraphStart(label, 0, int(maxWait.Milliseconds()))
	}
	for time.Now().Before(deadline) {
		if label != "" {
			f.log.BargraphUpdate(int(time.Until(deadline).Milliseconds()))
		}
		status, err := f.probe.GetDebugReg32(fsSrReg)
		if err != nil {
			return err
		}
		if status&fsSrBusyBit == 0 {
			if label != "" {
				f.log.BargraphDone()
			}
			return endOfOperation(status)
		}
		time.Sleep(maxWait / 20)
	}
	return stlinkerr.New(stlinkerr.Timeout, "flash operation timed out")
}

func endOfOperation(status uint32) error {
	if status != 0 {
		return stlinkerr.New(stlinkerr.FlashProgram, "flash operation failed, FLASH_SR=0x%08x", status).WithValue(status)
	}
	return nil
}

// EraseAll performs a mass erase, per stm32fs.py's erase_all.
func (f *SectorFlash) EraseAll() error {
	if err := f.probe.SetDebugReg32(fsCrReg, fsCrMERBit); err != nil {
		return err
	}
	if err := f.probe.SetDebugReg32(fsCrReg, fsCrMERBit|fsCrSTRTBit); err != nil {
		return err
	}
	return f.waitBusy(f.params.maxMassErase, "Erasing FLASH")
}

// EraseSector erases a single sector by index, sized eraseSizeKB (used to
// pick the correct busy-wait timeout band).
func (f *SectorFlash) EraseSector(sector int, eraseSizeKB int) error {
	cr := uint32(fsCrSERBit) | f.params.psize | (uint32(sector) << fsCrSNBShift)
	if err := f.probe.SetDebugReg32(fsCrReg, cr); err != nil {
		return err
	}
	if err := f.probe.SetDebugReg32(fsCrReg, cr|fsCrSTRTBit); err != nil {
		return err
	}
	wait, ok := f.params.maxEraseBySize[eraseSizeKB]
	if !ok {
		wait = 4 * time.Second
	}
	return f.waitBusy(wait, "")
}

// EraseRange erases every sector overlapping [addr, addr+size), per
// stm32fs.py's erase_sectors: it walks the erasedSizes table from flash
// base, erasing each sector whose span intersects the requested range.
func (f *SectorFlash) EraseRange(flashStart, addr uint32, size int) error {
	if len(f.erasedSizes) == 0 {
		return stlinkerr.New(stlinkerr.BadParam, "sector size table not configured for this part")
	}
	f.log.BargraphStart("Erasing FLASH", int(flashStart), int(flashStart)+size)
	defer f.log.BargraphDone()

	eraseAddr := flashStart
	sector := 0
	for {
		for _, kb := range f.erasedSizes {
			eraseSize := uint32(kb * 1024)
			if addr < eraseAddr+eraseSize {
				f.log.BargraphUpdate(int(eraseAddr))
				if err := f.EraseSector(sector, kb); err != nil {
					return err
				}
			}
			eraseAddr += eraseSize
			if addr+uint32(size) <= eraseAddr {
				return nil
			}
			sector++
		}
	}
}

// initWrite installs the writer stub and prepares R4/R5/FLASH_CR, per
// stm32fs.py's init_write.
func (f *SectorFlash) initWrite() error {
	if err := loadWriterStub(f.cpu, f.writerAddr, f.params.writerCode); err != nil {
		return err
	}
	if err := f.cpu.SetReg("R4", fsSrReg); err != nil {
		return err
	}
	if err := f.cpu.SetReg("R5", fsSrBusyBit); err != nil {
		return err
	}
	return f.probe.SetDebugReg32(fsCrReg, fsCrPGBit|f.params.psize)
}

const maxStlinkTransfer = 1024

// Write programs data starting at addr (cortexm.FlashStart if addr==0),
// optionally erasing and verifying, per stm32fs.py's Stm32FS.flash_write.
func (f *SectorFlash) Write(addr uint32, data []byte, erase, verify bool) error {
	if addr == 0 {
		addr = cortexm.FlashStart
	}
	if addr%4 != 0 {
		return stlinkerr.New(stlinkerr.Alignment, "flash start address must be word aligned").WithAddr(addr)
	}
	data = fillToMultiple(data, 4, 0xff)

	if erase {
		if len(f.erasedSizes) > 0 {
			if err := f.EraseRange(cortexm.FlashStart, addr, len(data)); err != nil {
				return err
			}
		} else if err := f.EraseAll(); err != nil {
			return err
		}
	}

	f.log.BargraphStart("Writing FLASH", int(addr), int(addr)+len(data))
	defer f.log.BargraphDone()

	if err := f.initWrite(); err != nil {
		return err
	}

	for off := 0; off < len(data); {
		end := off + maxStlinkTransfer
		if end > len(data) {
			end = len(data)
		}
		block := data[off:end]
		a := addr + uint32(off)
		f.log.BargraphUpdate(int(a))

		if !allFF(block) {
			if err := invokeWriterStub(f.cpu, f.writerAddr, f.dataAddr, a, block, 0); err != nil {
				return err
			}
			if err := f.waitForBreakpoint(200 * time.Millisecond); err != nil {
				return err
			}
			if verify {
				got, err := f.cpu.GetMem(a, len(block))
				if err != nil {
					return err
				}
				for i := range block {
					if got[i] != block[i] {
						return stlinkerr.New(stlinkerr.VerifyMismatch, "verify mismatch at 0x%08x", a+uint32(i)).WithAddr(a + uint32(i))
					}
				}
			}
		}
		off = end
	}

	return f.lock()
}

// waitForBreakpoint polls DHCSR for the halt bit after a writer-stub run,
// per stm32fs.py's wait_for_breakpoint.
func (f *SectorFlash) waitForBreakpoint(maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		v, err := f.probe.GetDebugReg32(cortexm.DHCSRReg)
		if err != nil {
			return err
		}
		if v&0x00020000 != 0 {
			break
		}
		time.Sleep(maxWait / 20)
	}
	status, err := f.probe.GetDebugReg32(fsSrReg)
	if err != nil {
		return err
	}
	return endOfOperation(status)
}
