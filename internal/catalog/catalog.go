// Package catalog is the external MCU catalog C6 consults at detection
// time: CPUID part_no -> CORE record -> IDCODE dev_id -> DEVICE record ->
// flash-size-filtered variant set. Grounded on the spec's catalog contract
// and the shape of the original project's (filtered-out) stm32devices.py
// table, reconstructed here as a small representative sample covering the
// page-erase (STM32F0/F1) and sector-erase (STM32F4) families.
package catalog

// Variant is one concrete part within a device family that shares a
// dev_id but differs in packaged flash/SRAM/EEPROM size.
type Variant struct {
	Type         string
	FlashSizeKB  uint16
	SRAMSizeKB   uint16
	EEPROMSizeKB uint16
}

// Device groups variants that share a dev_id and a flash controller.
type Device struct {
	DevID        uint16
	FlashSizeReg uint32
	FlashDriver  string   // "FP", "FPXL", "FS", ...
	EraseSizes   []uint32 // bytes, in address order
	Variants     []Variant
}

// Core groups devices that share a Cortex-M part_no (core generation).
type Core struct {
	PartNo    uint16
	CoreName  string
	IDCodeReg []uint32 // one or more candidate addresses, tried in order
	Devices   []Device
}

// Catalog is an ordered list of CORE records, searched by part_no.
type Catalog []Core

// FindCore returns the CORE record for partNo, or false if unsupported.
func (c Catalog) FindCore(partNo uint16) (Core, bool) {
	for _, core := range c {
		if core.PartNo == partNo {
			return core, true
		}
	}
	return Core{}, false
}

// FindDevice returns the DEVICE record for devID within a CORE, or false.
func (core Core) FindDevice(devID uint16) (Device, bool) {
	for _, d := range core.Devices {
		if d.DevID == devID {
			return d, true
		}
	}
	return Device{}, false
}

const (
	fpFlashPage = 1024
	driverFP    = "FP"
	driverFS    = "FS"
)

// Default is a small representative catalog covering STM32F0 (Cortex-M0,
// page family), STM32F1 (Cortex-M3, page family) and STM32F4 (Cortex-M4,
// sector family), enough to exercise the FP and FS flash driver tags end to
// end. No FPXL device is listed.
var Default = Catalog{
	{
		PartNo:    0xc20,
		CoreName:  "Cortex-M0",
		IDCodeReg: []uint32{0x40015800},
		Devices: []Device{
			{
				DevID:        0x444,
				FlashSizeReg: 0x1ffff7cc,
				FlashDriver:  driverFP,
				EraseSizes:   repeatSize(fpFlashPage, 16),
				Variants: []Variant{
					{Type: "STM32F030x4", FlashSizeKB: 16, SRAMSizeKB: 4, EEPROMSizeKB: 0},
					{Type: "STM32F030x6", FlashSizeKB: 32, SRAMSizeKB: 4, EEPROMSizeKB: 0},
				},
			},
			{
				DevID:        0x440,
				FlashSizeReg: 0x1ffff7cc,
				FlashDriver:  driverFP,
				EraseSizes:   repeatSize(fpFlashPage, 64),
				Variants: []Variant{
					{Type: "STM32F051x8", FlashSizeKB: 64, SRAMSizeKB: 8, EEPROMSizeKB: 0},
					{Type: "STM32F058x8", FlashSizeKB: 64, SRAMSizeKB: 8, EEPROMSizeKB: 0},
				},
			},
		},
	},
	{
		PartNo:    0xc23,
		CoreName:  "Cortex-M3",
		IDCodeReg: []uint32{0xe0042000},
		Devices: []Device{
			{
				DevID:        0x410,
				FlashSizeReg: 0x1ffff7e0,
				FlashDriver:  driverFP,
				EraseSizes:   repeatSize(fpFlashPage, 128),
				Variants: []Variant{
					{Type: "STM32F103x8", FlashSizeKB: 64, SRAMSizeKB: 20, EEPROMSizeKB: 0},
					{Type: "STM32F103xB", FlashSizeKB: 128, SRAMSizeKB: 20, EEPROMSizeKB: 0},
				},
			},
		},
	},
	{
		PartNo:    0xc24,
		CoreName:  "Cortex-M4",
		IDCodeReg: []uint32{0xe0042000},
		Devices: []Device{
			{
				DevID:        0x419,
				FlashSizeReg: 0x1ff0_7a22,
				FlashDriver:  driverFS,
				EraseSizes:   sectorSizesF42x,
				Variants: []Variant{
					{Type: "STM32F427xx", FlashSizeKB: 1024, SRAMSizeKB: 192, EEPROMSizeKB: 0},
					{Type: "STM32F429xx", FlashSizeKB: 2048, SRAMSizeKB: 192, EEPROMSizeKB: 0},
				},
			},
			{
				DevID:        0x413,
				FlashSizeReg: 0x1fff_7a22,
				FlashDriver:  driverFS,
				EraseSizes:   sectorSizesF40x,
				Variants: []Variant{
					{Type: "STM32F405xx", FlashSizeKB: 1024, SRAMSizeKB: 128, EEPROMSizeKB: 0},
					{Type: "STM32F407xx", FlashSizeKB: 1024, SRAMSizeKB: 128, EEPROMSizeKB: 0},
				},
			},
		},
	},
}

// sectorSizesF40x is the sector geometry for the STM32F405/F407 family: four
// 16KB, one 64KB, then seven 128KB sectors.
var sectorSizesF40x = sectorBytes(16, 16, 16, 16, 64, 128, 128, 128, 128, 128, 128, 128)

// sectorSizesF42x matches the larger dual-bank F427/F429 geometry used here
// (single-bank layout only, for the sample catalog).
var sectorSizesF42x = sectorBytes(16, 16, 16, 16, 64, 128, 128, 128, 128, 128, 128, 128)

func sectorBytes(kb ...int) []uint32 {
	out := make([]uint32, len(kb))
	for i, k := range kb {
		out[i] = uint32(k) * 1024
	}
	return out
}

func repeatSize(size uint32, count int) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = size
	}
	return out
}
