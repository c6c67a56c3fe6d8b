// Package usbtransport implements C1: the USB command framer. It encodes
// opaque ST-Link command packets and shuttles them over USB bulk endpoints,
// grounded on the teacher's internal/driver/device/usb_device.go (gousb
// context/device/config/interface/endpoint lifecycle) and on the original
// project's lib/stlinkusb.py (StlinkUsbConnector.xfer/_write/_read).
package usbtransport

import (
	"context"
	"time"

	"github.com/google/gousb"

	"stlinkflash/internal/stlinkerr"
)

// Variant identifies the probe hardware revision, per spec §3.
type Variant string

const (
	VariantV2   Variant = "V2"
	VariantV2_1 Variant = "V2-1"
)

type probeID struct {
	vendor, product gousb.ID
	variant          Variant
	epOut, epIn      int
}

// recognized enumerates the (VID, PID) pairs this driver accepts, in the
// order they are tried — the first match wins (spec §4.1).
var recognized = []probeID{
	{vendor: 0x0483, product: 0x3748, variant: VariantV2, epOut: 0x02, epIn: 0x81},
	{vendor: 0x0483, product: 0x374B, variant: VariantV2_1, epOut: 0x01, epIn: 0x81},
}

const (
	cmdSize    = 16
	usbTimeout = 1000 * time.Millisecond
	minRxRead  = 64
)

// Framer is the opaque byte-in/byte-out transport contract C2 consumes: pad
// a command to 16 bytes, write it, optionally write a data payload, then
// optionally read a response, rounding the read size up to the USB-level
// read granularity and truncating back down to what the caller asked for.
type Framer struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint
	variant Variant
	xfers   uint64
}

// Options selects which probe to open.
type Options struct {
	Serial string // optional: match this serial string
	Index  int    // optional: pick the Nth matching device (0-based)
}

// Open enumerates attached USB devices for a recognized ST-Link VID/PID pair
// and claims it. Grounded on usb_device.go's OpenUSBDevice open sequence
// (Context -> OpenDeviceWithVIDPID -> Config -> Interface -> endpoints).
func Open(opts Options) (*Framer, error) {
	ctx := gousb.NewContext()

	var (
		chosen  *gousb.Device
		variant Variant
		epOutNo int
		epInNo  int
	)

	matchIndex := 0
	for _, pid := range recognized {
		devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			return desc.Vendor == pid.vendor && desc.Product == pid.product
		})
		if err != nil {
			continue
		}
		for _, d := range devs {
			if opts.Serial != "" {
				serial, serr := d.SerialNumber()
				if serr != nil || serial != opts.Serial {
					d.Close()
					continue
				}
			}
			if matchIndex != opts.Index {
				matchIndex++
				d.Close()
				continue
			}
			chosen, variant, epOutNo, epInNo = d, pid.variant, pid.epOut, pid.epIn
			break
		}
		if chosen != nil {
			break
		}
	}

	if chosen == nil {
		ctx.Close()
		return nil, stlinkerr.New(stlinkerr.NotConnected, "no ST-Link/V2 probe found (or no match for serial/index filter)")
	}

	cfg, err := chosen.Config(1)
	if err != nil {
		chosen.Close()
		ctx.Close()
		return nil, stlinkerr.Wrap(stlinkerr.UsbError, err, "set USB configuration")
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		chosen.Close()
		ctx.Close()
		return nil, stlinkerr.Wrap(stlinkerr.UsbError, err, "claim USB interface")
	}
	out, err := intf.OutEndpoint(epOutNo)
	if err != nil {
		intf.Close()
		cfg.Close()
		chosen.Close()
		ctx.Close()
		return nil, stlinkerr.Wrap(stlinkerr.UsbError, err, "open OUT endpoint")
	}
	in, err := intf.InEndpoint(epInNo)
	if err != nil {
		intf.Close()
		cfg.Close()
		chosen.Close()
		ctx.Close()
		return nil, stlinkerr.Wrap(stlinkerr.UsbError, err, "open IN endpoint")
	}

	return &Framer{
		ctx: ctx, dev: chosen, cfg: cfg, intf: intf,
		out: out, in: in, variant: variant,
	}, nil
}

// Close tears down the USB handles in reverse acquisition order.
func (f *Framer) Close() error {
	if f.intf != nil {
		f.intf.Close()
	}
	if f.cfg != nil {
		f.cfg.Close()
	}
	if f.dev != nil {
		f.dev.Close()
	}
	if f.ctx != nil {
		f.ctx.Close()
	}
	return nil
}

// Variant returns the probe hardware variant detected at Open time.
func (f *Framer) Variant() Variant { return f.variant }

// Transfers returns the monotonically increasing count of xfer calls made so
// far, exposed for diagnostics.
func (f *Framer) Transfers() uint64 { return f.xfers }

// Xfer implements the command contract of spec §4.1: cmd is right-padded to
// 16 bytes and written, data (if any) is written as a second bulk transfer,
// and if rxLen>0 a bulk IN read is issued, rounded up to at least 64 bytes
// and a multiple of 4, then truncated to rxLen bytes.
func (f *Framer) Xfer(cmd []byte, data []byte, rxLen int) ([]byte, error) {
	if len(cmd) > cmdSize {
		return nil, stlinkerr.New(stlinkerr.Protocol, "command too long: %d bytes, maximum %d", len(cmd), cmdSize)
	}
	padded := make([]byte, cmdSize)
	copy(padded, cmd)
	f.xfers++

	if err := f.write(padded); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := f.write(data); err != nil {
			return nil, err
		}
	}
	if rxLen <= 0 {
		return nil, nil
	}
	buf, err := f.read(roundRxSize(rxLen))
	if err != nil {
		return nil, err
	}
	if len(buf) > rxLen {
		buf = buf[:rxLen]
	}
	return buf, nil
}

// roundRxSize computes the USB-level read size for a requested rxLen: at
// least minRxRead bytes, rounded up to a multiple of 4.
func roundRxSize(rxLen int) int {
	size := rxLen
	if size < minRxRead {
		size = minRxRead
	}
	if size%4 != 0 {
		size += 4 - size%4
	}
	return size
}

func (f *Framer) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), usbTimeout)
	defer cancel()
	n, err := f.out.WriteContext(ctx, data)
	if err != nil {
		return stlinkerr.Wrap(stlinkerr.UsbError, err, "USB bulk write failed")
	}
	if n != len(data) {
		return stlinkerr.New(stlinkerr.Protocol, "short write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

func (f *Framer) read(size int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbTimeout)
	defer cancel()
	buf := make([]byte, size)
	n, err := f.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, stlinkerr.Wrap(stlinkerr.UsbError, err, "USB bulk read failed")
	}
	return buf[:n], nil
}
