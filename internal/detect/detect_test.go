package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stlinkflash/internal/catalog"
)

type fakeProbe struct {
	coreID  uint32
	regs32  map[uint32]uint32
	regs16  map[uint32]uint16
}

func (f *fakeProbe) ReadCoreID() (uint32, error)               { return f.coreID, nil }
func (f *fakeProbe) GetDebugReg32(addr uint32) (uint32, error)  { return f.regs32[addr], nil }
func (f *fakeProbe) GetDebugReg16(addr uint32) (uint16, error)  { return f.regs16[addr], nil }

func TestNormalizeCputypeMasksPosition9(t *testing.T) {
	got, err := NormalizeCputype("stm32f103rbt6")
	require.NoError(t, err)
	assert.Equal(t, "STM32F103xBT6", got)
}

func TestNormalizeCputypeRejectsNonSTM32(t *testing.T) {
	_, err := NormalizeCputype("atmega328")
	require.Error(t, err)
}

func TestDetectFindsF103Variant(t *testing.T) {
	p := &fakeProbe{
		coreID: 0xdeadbeef,
		regs32: map[uint32]uint32{
			cpuidReg:    0x410fc231, // part_no 0xc23
			0xe0042000: 0x20036410, // dev_id 0x410
		},
		regs16: map[uint32]uint16{
			0x1ffff7e0: 128,
		},
	}
	res, err := Detect(p, catalog.Default, "", nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xc23), res.PartNo)
	assert.Equal(t, uint16(0x410), res.DevID)
	assert.Len(t, res.Variants, 1)
	assert.Equal(t, "STM32F103xB", res.Variants[0].Type)
}

func TestDetectRejectsZeroCoreID(t *testing.T) {
	p := &fakeProbe{coreID: 0}
	_, err := Detect(p, catalog.Default, "", nil)
	require.Error(t, err)
}

func TestDetectRejectsUnknownPartNo(t *testing.T) {
	p := &fakeProbe{coreID: 1, regs32: map[uint32]uint32{cpuidReg: 0xfff0}}
	_, err := Detect(p, catalog.Default, "", nil)
	require.Error(t, err)
}
