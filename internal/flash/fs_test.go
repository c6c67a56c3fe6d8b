package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoltageParamsForSelectsBand(t *testing.T) {
	p, err := voltageParamsFor(3.3)
	require.NoError(t, err)
	assert.Equal(t, uint32(fsCrPsizeX32), p.psize)

	p, err = voltageParamsFor(2.5)
	require.NoError(t, err)
	assert.Equal(t, uint32(fsCrPsizeX16), p.psize)

	p, err = voltageParamsFor(1.9)
	require.NoError(t, err)
	assert.Equal(t, uint32(fsCrPsizeX8), p.psize)
}

func TestVoltageParamsForRejectsTooLow(t *testing.T) {
	_, err := voltageParamsFor(1.5)
	require.Error(t, err)
}

func TestNewSectorFlashSucceedsAtNominalVoltage(t *testing.T) {
	probe := newFakeProbe()
	cpu := newFakeCPU()
	sf, err := NewSectorFlash(probe, cpu, nil, 3.3, []int{16, 16, 16, 16, 64, 128, 128, 128})
	require.NoError(t, err)
	assert.NotNil(t, sf)
}

func TestSectorFlashEraseAll(t *testing.T) {
	probe := newFakeProbe()
	cpu := newFakeCPU()
	sf, err := NewSectorFlash(probe, cpu, nil, 3.3, nil)
	require.NoError(t, err)
	require.NoError(t, sf.EraseAll())
}

func TestSectorFlashWriteRejectsUnalignedAddress(t *testing.T) {
	probe := newFakeProbe()
	cpu := newFakeCPU()
	sf, err := NewSectorFlash(probe, cpu, nil, 3.3, nil)
	require.NoError(t, err)
	err = sf.Write(0x08000001, []byte{1, 2, 3, 4}, false, false)
	require.Error(t, err)
}
