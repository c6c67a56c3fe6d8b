package stlink

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers Xfer calls from a queue of canned responses, mirroring
// the shape of a real probe without needing real USB hardware.
type fakeTransport struct {
	responses [][]byte
	calls     [][]byte
}

func (f *fakeTransport) Xfer(cmd []byte, data []byte, rxLen int) ([]byte, error) {
	f.calls = append(f.calls, append([]byte{}, cmd...))
	if len(f.responses) == 0 {
		return make([]byte, rxLen), nil
	}
	rx := f.responses[0]
	f.responses = f.responses[1:]
	return rx, nil
}

func TestTargetVoltageFormula(t *testing.T) {
	a0, a1 := uint32(1000), uint32(1250)
	rx := make([]byte, 8)
	binary.LittleEndian.PutUint32(rx[0:4], a0)
	binary.LittleEndian.PutUint32(rx[4:8], a1)

	ft := &fakeTransport{responses: [][]byte{
		{byte(ModeDebug), 0}, // CurrentMode inside LeaveState
		{0, 0},               // debug exit ack
		rx,                   // voltage read
	}}
	d := New(ft)
	v, err := d.TargetVoltage()
	require.NoError(t, err)
	expected := 2 * float64(a1) * 1.2 / float64(a0)
	assert.InDelta(t, expected, v, 1e-9)
}

func TestSetSWDFreqRejectsBelowMinimum(t *testing.T) {
	ft := &fakeTransport{}
	d := New(ft)
	err := d.SetSWDFreq(1000)
	require.Error(t, err)
}

func TestSetSWDFreqPicksNearest(t *testing.T) {
	ft := &fakeTransport{responses: [][]byte{{0x80, 0}}}
	d := New(ft)
	require.NoError(t, d.SetSWDFreq(500000))
	require.Len(t, ft.calls, 1)
	assert.Equal(t, cmdDebugCommand, ft.calls[0][0])
	assert.Equal(t, byte(debugApiV2SetSWDFreq), ft.calls[0][1])
}

func TestGetDebugReg32RejectsMisalignedAddress(t *testing.T) {
	d := New(&fakeTransport{})
	_, err := d.GetDebugReg32(0x1000_0001)
	require.Error(t, err)
}

func TestGetMem32ChunksLargeReads(t *testing.T) {
	ft := &fakeTransport{}
	d := New(ft)
	_, err := d.GetMem32(0x2000_0000, maxMem32Transfer*2)
	require.NoError(t, err)
	assert.Len(t, ft.calls, 2)
}

func TestGetMem8RejectsOversizedRead(t *testing.T) {
	d := New(&fakeTransport{})
	_, err := d.GetMem8(0x2000_0000, maxMem8Transfer+1)
	require.Error(t, err)
}

func TestGetReg_RejectsOutOfRangeIndex(t *testing.T) {
	d := New(&fakeTransport{})
	_, err := d.GetReg(numCoreRegs)
	require.Error(t, err)
}
