// Package stlink implements C2: the ST-Link/V2 wire protocol on top of the
// raw USB framer. Opcodes and sub-command values are taken verbatim from the
// original project's lib/stlinkv2.py module-level constants.
package stlink

const (
	cmdGetVersion       = 0xf1
	cmdDebugCommand     = 0xf2
	cmdDfuCommand       = 0xf3
	cmdSwimCommand      = 0xf4
	cmdGetCurrentMode   = 0xf5
	cmdGetTargetVoltage = 0xf7
)

const (
	modeDfuExit             = 0x07
	debugExit               = 0x21
	debugReadCoreID         = 0x22
	debugApiV2EnterState    = 0x30
	debugApiV2ReadIDCodes   = 0x31
	debugApiV2ReadReg       = 0x33
	debugApiV2WriteReg      = 0x34
	debugApiV2WriteDebugReg = 0x35
	debugApiV2ReadDebugReg  = 0x36
	debugApiV2ReadAllRegs   = 0x3a
	debugApiV2DriveNRST     = 0x3c
	debugApiV2SetSWDFreq    = 0x43
	debugApiV2EnterSWD      = 0xa3
	debugApiV2ReadMem32Bit  = 0x07
	debugApiV2WriteMem32Bit = 0x08
	debugReadMem8Bit        = 0x0c
	debugWriteMem8Bit       = 0x0d
)

// swdFrequencies mirrors lib/stlinkv2.py's SWD_FREQ map: the probe only
// accepts these discrete kHz values, encoded as a register divider.
var swdFrequencies = []struct {
	khz int
	div uint16
}{
	{4000, 0},
	{1800, 1},
	{1200, 2},
	{950, 3},
	{480, 7},
	{240, 15},
	{125, 31},
	{100, 40},
	{50, 79},
	{25, 158},
}

const driveNRSTLow = 0
const driveNRSTHigh = 1
