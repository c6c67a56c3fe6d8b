package cortexm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	mem        map[uint32]byte
	debugRegs  map[uint32]uint32
	coreRegs   [21]uint32
	get8Calls  int
	get32Calls int
	set8Calls  int
	set32Calls int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{mem: map[uint32]byte{}, debugRegs: map[uint32]uint32{}}
}

func (f *fakeProbe) GetReg(reg int) (uint32, error)          { return f.coreRegs[reg], nil }
func (f *fakeProbe) SetReg(reg int, value uint32) error       { f.coreRegs[reg] = value; return nil }
func (f *fakeProbe) GetAllRegs() ([21]uint32, error)          { return f.coreRegs, nil }
func (f *fakeProbe) GetDebugReg32(addr uint32) (uint32, error) { return f.debugRegs[addr], nil }
func (f *fakeProbe) SetDebugReg32(addr, value uint32) error {
	f.debugRegs[addr] = value
	return nil
}

func (f *fakeProbe) GetMem32(addr uint32, size int) ([]byte, error) {
	f.get32Calls++
	out := make([]byte, size)
	for i := range out {
		out[i] = f.mem[addr+uint32(i)]
	}
	return out, nil
}

func (f *fakeProbe) SetMem32(addr uint32, data []byte) error {
	f.set32Calls++
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func (f *fakeProbe) GetMem8(addr uint32, size int) ([]byte, error) {
	f.get8Calls++
	out := make([]byte, size)
	for i := range out {
		out[i] = f.mem[addr+uint32(i)]
	}
	return out, nil
}

func (f *fakeProbe) SetMem8(addr uint32, data []byte) error {
	f.set8Calls++
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func TestRegIndexCaseInsensitive(t *testing.T) {
	assert.True(t, IsReg("pc"))
	assert.True(t, IsReg("PC"))
	assert.False(t, IsReg("R99"))
}

func TestSetMemGetMemRoundTripAligned(t *testing.T) {
	p := newFakeProbe()
	c := New(p, nil)
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, c.SetMem(SRAMStart, data))
	got, err := c.GetMem(SRAMStart, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Zero(t, p.get8Calls, "aligned access must not touch 8-bit path")
}

func TestSetMemGetMemRoundTripMisaligned(t *testing.T) {
	p := newFakeProbe()
	c := New(p, nil)
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	addr := SRAMStart + 1
	require.NoError(t, c.SetMem(addr, data))
	got, err := c.GetMem(addr, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NotZero(t, p.get8Calls)
	assert.NotZero(t, p.set8Calls)
}

func TestFillRepeatsPattern(t *testing.T) {
	p := newFakeProbe()
	c := New(p, nil)
	require.NoError(t, c.Fill(SRAMStart, 6, []byte{0xaa, 0xbb}))
	got, err := c.GetMem(SRAMStart, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xaa, 0xbb, 0xaa, 0xbb}, got)
}

func TestWaitHaltedTimesOut(t *testing.T) {
	p := newFakeProbe()
	c := New(p, nil)
	err := c.WaitHalted(3)
	require.Error(t, err)
}

func TestWaitHaltedSucceedsWhenHaltBitSet(t *testing.T) {
	p := newFakeProbe()
	p.debugRegs[DHCSRReg] = dhcsrStatusHaltBit
	c := New(p, nil)
	require.NoError(t, c.WaitHalted(1))
}

func TestGetRegRejectsUnknownName(t *testing.T) {
	c := New(newFakeProbe(), nil)
	_, err := c.GetReg("R99")
	require.Error(t, err)
}
