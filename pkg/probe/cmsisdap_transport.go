package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// DAPLink interface chip on the micro:bit
	VendorIDARM       = 0x0D28
	ProductIDDAPLink  = 0x0204
	VendorIDRaspberry = 0x2E8A
	ProductIDCMSISDAP = 0x000C

	// Default packet size for CMSIS-DAP v1/v2
	DefaultPacketSize = 64
	DefaultTimeout    = 5 * time.Second
)

// packetTransport is what the CMSIS-DAP session needs from the wire.
type packetTransport interface {
	WriteRead(cmd []byte) ([]byte, error)
	GetPacketSize() int
	Close() error
}

// USBTransport handles USB communication with a CMSIS-DAP probe. CMSIS-DAP v2
// probes expose a vendor-class bulk interface; v1 probes (older DAPLink
// firmware) expose a HID interface with interrupt endpoints.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration

	vid    uint16
	pid    uint16
	serial string
}

// NewUSBTransport opens the CMSIS-DAP probe with the given VID/PID. When
// serial is not empty only the device with that USB serial number matches.
func NewUSBTransport(vid, pid uint16, serial string) (*USBTransport, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			s, _ := d.SerialNumber()
			if serial == "" || s == serial {
				dev = d
				serial = s
				continue
			}
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w (VID:0x%04X PID:0x%04X serial:%q)", ErrNoProbe, vid, pid, serial)
	}

	// Set auto-detach kernel driver (important for Linux HID probes)
	_ = dev.SetAutoDetach(true)

	transport := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
		vid:        vid,
		pid:        pid,
		serial:     serial,
	}

	if err := transport.claimInterface(); err != nil {
		transport.Close()
		return nil, err
	}

	return transport, nil
}

// claimInterface finds and claims the CMSIS-DAP interface
func (t *USBTransport) claimInterface() error {
	cfgNum, err := t.dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := t.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	t.cfg = cfg

	// Prefer the v2 vendor interface (class 0xFF), fall back to HID
	intfNum := -1
	for _, class := range []gousb.Class{gousb.ClassVendorSpec, gousb.ClassHID} {
		for _, intf := range cfg.Desc.Interfaces {
			if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == class {
				intfNum = intf.Number
				break
			}
		}
		if intfNum != -1 {
			break
		}
	}

	if intfNum == -1 {
		intfNum = 0
	}

	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", intfNum, err)
	}
	t.intf = intf

	return t.findEndpoints()
}

// findEndpoints discovers the IN and OUT endpoints (bulk or interrupt)
func (t *USBTransport) findEndpoints() error {
	setting := t.intf.Setting

	var outNum, inNum int
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk && ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outNum == 0 {
				outNum = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inNum == 0 {
				inNum = ep.Number
				t.packetSize = ep.MaxPacketSize
			}
		}
	}

	if outNum == 0 {
		return fmt.Errorf("OUT endpoint not found")
	}
	if inNum == 0 {
		return fmt.Errorf("IN endpoint not found")
	}

	epOut, err := t.intf.OutEndpoint(outNum)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inNum)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	t.epIn = epIn

	return nil
}

// Write sends a command packet to the probe
func (t *USBTransport) Write(data []byte) (int, error) {
	// CMSIS-DAP packets are fixed size, pad if necessary
	packet := make([]byte, t.packetSize)
	copy(packet, data)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epOut.WriteContext(ctx, packet)
	if err != nil {
		return 0, fmt.Errorf("USB write failed: %w", err)
	}

	return n, nil
}

// Read receives a response packet from the probe
func (t *USBTransport) Read(data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

// WriteRead performs a command/response transaction
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	if t.epOut == nil || t.epIn == nil {
		return nil, ErrClosed
	}
	if len(cmd) > t.packetSize {
		return nil, fmt.Errorf("command of %d bytes exceeds packet size %d", len(cmd), t.packetSize)
	}

	if _, err := t.Write(cmd); err != nil {
		return nil, err
	}

	resp := make([]byte, t.packetSize)
	n, err := t.Read(resp)
	if err != nil {
		return nil, err
	}

	return resp[:n], nil
}

// GetPacketSize returns the current packet size
func (t *USBTransport) GetPacketSize() int {
	return t.packetSize
}

// SerialNumber returns the USB serial number of the opened device
func (t *USBTransport) SerialNumber() string {
	return t.serial
}

// SetTimeout sets the read/write timeout
func (t *USBTransport) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Close releases USB resources
func (t *USBTransport) Close() error {
	t.epIn, t.epOut = nil, nil
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// DeviceInfo represents a discovered USB device
type DeviceInfo struct {
	VID          uint16
	PID          uint16
	SerialNumber string
	Description  string
}

// BoardID returns the DAPLink board ID carried in the serial number prefix.
func (d DeviceInfo) BoardID() string {
	if len(d.SerialNumber) < 4 {
		return ""
	}
	return d.SerialNumber[:4]
}

// EnumerateCMSISDAPProbes finds all connected CMSIS-DAP devices with a known
// VID/PID and reads their serial numbers.
func EnumerateCMSISDAPProbes() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices := make([]DeviceInfo, 0)

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := lookupCMSISDAP(uint16(desc.Vendor), uint16(desc.Product))
		return ok
	})
	if err != nil && len(devs) == 0 && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()

		devices = append(devices, DeviceInfo{
			VID:          uint16(dev.Desc.Vendor),
			PID:          uint16(dev.Desc.Product),
			SerialNumber: serial,
			Description:  fmt.Sprintf("%s %s", manufacturer, product),
		})
		dev.Close()
	}

	return devices, nil
}
