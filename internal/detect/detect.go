// Package detect implements C6: target detection, chaining CoreID -> CPUID
// -> catalog part_no match -> IDCODE -> catalog dev_id match -> flash-size
// register -> variant filtering -> optional cputype filter. The result
// carries the matched device record, whose flash-driver tag the caller uses
// to pick a flash driver; Detect itself builds no driver. Grounded on the original project's lib/stlinkstm32.py
// (StlinkStm32.detect/find_mcu_core/find_mcu_devid/find_mcu_info).
package detect

import (
	"strings"

	"stlinkflash/internal/catalog"
	"stlinkflash/internal/progress"
	"stlinkflash/internal/stlinkerr"
)

// Probe is the subset of *stlink.Driver detection needs for register reads.
type Probe interface {
	ReadCoreID() (uint32, error)
	GetDebugReg32(addr uint32) (uint32, error)
	GetDebugReg16(addr uint32) (uint16, error)
}

const cpuidReg uint32 = 0xe000ed00

// Result is everything known about the attached target after a successful
// detection pass.
type Result struct {
	CoreID       uint32
	CPUID        uint32
	PartNo       uint16
	Core         catalog.Core
	IDCode       uint32
	DevID        uint16
	Device       catalog.Device
	FlashSizeKB  uint16
	Variants     []catalog.Variant
	SRAMSizeKB   uint16
	EEPROMSizeKB uint16
}

// NormalizeCputype upper-cases a user-supplied type filter and, per
// stlinkstm32.py's detect(), masks position 9 to 'x' when the string is
// longer than 9 characters (package-suffix wildcarding), after checking it
// starts with "STM32".
func NormalizeCputype(cputype string) (string, error) {
	if cputype == "" {
		return "", nil
	}
	u := strings.ToUpper(cputype)
	if !strings.HasPrefix(u, "STM32") {
		return "", stlinkerr.New(stlinkerr.BadParam, "selected CPU type %q is not an STM32 part", cputype)
	}
	if len(u) > 9 {
		b := []byte(u)
		b[9] = 'x'
		u = string(b)
	}
	return u, nil
}

// Detect runs the full chain against cat, optionally filtered to cputype
// (already normalized via NormalizeCputype, or raw — Detect normalizes it
// itself).
func Detect(p Probe, cat catalog.Catalog, cputype string, log progress.Sink) (*Result, error) {
	if log == nil {
		log = progress.Noop{}
	}
	norm, err := NormalizeCputype(cputype)
	if err != nil {
		return nil, err
	}

	coreID, err := p.ReadCoreID()
	if err != nil {
		return nil, err
	}
	if coreID == 0 {
		return nil, stlinkerr.New(stlinkerr.NotConnected, "CoreID read as zero, target not connected")
	}
	log.Info("CoreID detected")

	cpuid, err := p.GetDebugReg32(cpuidReg)
	if err != nil {
		return nil, err
	}
	partNo := uint16((cpuid >> 4) & 0xfff)

	core, ok := cat.FindCore(partNo)
	if !ok {
		return nil, stlinkerr.New(stlinkerr.Unsupported, "CPUID part_no 0x%03x is not in the catalog", partNo).WithValue(uint32(partNo))
	}

	idcode, err := readFirstNonzero(p, core.IDCodeReg)
	if err != nil {
		return nil, err
	}
	devID := uint16(idcode & 0xfff)

	device, ok := core.FindDevice(devID)
	if !ok {
		return nil, stlinkerr.New(stlinkerr.Unsupported, "IDCODE dev_id 0x%03x is not in the catalog for core %s", devID, core.CoreName).WithValue(uint32(devID))
	}

	flashSizeKB, err := p.GetDebugReg16(device.FlashSizeReg)
	if err != nil {
		return nil, err
	}

	variants, err := filterVariants(device.Variants, flashSizeKB, norm, devID)
	if err != nil {
		return nil, err
	}

	sramKB, eepromKB, diff := minSizes(variants)
	if diff {
		log.Warning("detected CPUs have different SRAM/EEPROM sizes; recommend selecting a specific type")
	}

	return &Result{
		CoreID: coreID, CPUID: cpuid, PartNo: partNo, Core: core,
		IDCode: idcode, DevID: devID, Device: device,
		FlashSizeKB: flashSizeKB, Variants: variants,
		SRAMSizeKB: sramKB, EEPROMSizeKB: eepromKB,
	}, nil
}

func readFirstNonzero(p Probe, addrs []uint32) (uint32, error) {
	var last uint32
	for _, a := range addrs {
		v, err := p.GetDebugReg32(a)
		if err != nil {
			return 0, err
		}
		if v&0xfff != 0 {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func filterVariants(all []catalog.Variant, flashSizeKB uint16, cputype string, devID uint16) ([]catalog.Variant, error) {
	var bySize []catalog.Variant
	for _, v := range all {
		if v.FlashSizeKB == flashSizeKB {
			bySize = append(bySize, v)
		}
	}
	if len(bySize) == 0 {
		return nil, stlinkerr.New(stlinkerr.Unsupported, "dev_id 0x%03x with FLASH size %dKB is not supported", devID, flashSizeKB).WithValue(uint32(devID))
	}
	if cputype == "" {
		return bySize, nil
	}
	var byType []catalog.Variant
	for _, v := range bySize {
		if strings.HasPrefix(v.Type, cputype) {
			byType = append(byType, v)
		}
	}
	if len(byType) == 0 {
		names := make([]string, len(bySize))
		for i, v := range bySize {
			names[i] = v.Type
		}
		if len(bySize) > 1 {
			return nil, stlinkerr.New(stlinkerr.Unsupported, "connected CPU is not %s but one of: %s", cputype, strings.Join(names, ","))
		}
		return nil, stlinkerr.New(stlinkerr.Unsupported, "connected CPU is not %s but: %s", cputype, names[0])
	}
	return byType, nil
}

func minSizes(variants []catalog.Variant) (sram, eeprom uint16, diff bool) {
	if len(variants) == 0 {
		return 0, 0, false
	}
	sram, eeprom = variants[0].SRAMSizeKB, variants[0].EEPROMSizeKB
	maxSRAM, maxEEPROM := sram, eeprom
	for _, v := range variants[1:] {
		if v.SRAMSizeKB < sram {
			sram = v.SRAMSizeKB
		}
		if v.SRAMSizeKB > maxSRAM {
			maxSRAM = v.SRAMSizeKB
		}
		if v.EEPROMSizeKB < eeprom {
			eeprom = v.EEPROMSizeKB
		}
		if v.EEPROMSizeKB > maxEEPROM {
			maxEEPROM = v.EEPROMSizeKB
		}
	}
	diff = sram != maxSRAM || eeprom != maxEEPROM
	return sram, eeprom, diff
}
