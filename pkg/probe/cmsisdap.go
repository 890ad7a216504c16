package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultClockHz is the SWCLK frequency used when none is configured.
const DefaultClockHz = 1_000_000

// Cortex-M debug registers and MEM-AP settings
const (
	regDHCSR = 0xE000EDF0

	dhcsrDbgKey   = 0xA05F0000
	dhcsrDebugEn  = 1 << 0
	dhcsrHalt     = 1 << 1
	dhcsrStatHalt = 1 << 17

	// 32-bit access, single auto-increment, master type debug
	apCSWWord = 0x23000052

	ctrlStatPowerUpReq = 0x50000000 // CSYSPWRUPREQ | CDBGPWRUPREQ
	ctrlStatPowerUpAck = 0xA0000000 // CSYSPWRUPACK | CDBGPWRUPACK
	abortClearSticky   = 0x1E

	// TAR auto-increment is only guaranteed inside a 1 KiB page
	tarPageSize = 1024

	pollAttempts = 100
)

// CMSISDAPProbe opens SWD sessions on a DAPLink or other CMSIS-DAP probe.
type CMSISDAPProbe struct {
	// Serial selects one probe when several are connected. Empty picks the
	// first one found.
	Serial string
	// ClockHz is the SWCLK frequency. Zero means DefaultClockHz.
	ClockHz int
	// Timeout bounds each USB packet exchange. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewCMSISDAPProbe creates a probe handle. Nothing is opened until Open.
func NewCMSISDAPProbe(serial string) *CMSISDAPProbe {
	return &CMSISDAPProbe{Serial: serial, ClockHz: DefaultClockHz, Timeout: DefaultTimeout}
}

func (p *CMSISDAPProbe) usbTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// Open connects to the probe over USB and attaches to the target over SWD.
func (p *CMSISDAPProbe) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := p.choose()
	if err != nil {
		return nil, err
	}

	release, err := acquire("cmsis-dap:" + dev.SerialNumber)
	if err != nil {
		return nil, err
	}

	transport, err := NewUSBTransport(dev.VID, dev.PID, dev.SerialNumber)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	transport.SetTimeout(p.usbTimeout())

	s := newCMSISDAPSession(transport, dev.SerialNumber, release)

	clock := p.ClockHz
	if clock <= 0 {
		clock = DefaultClockHz
	}
	if err := s.attach(clock); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to attach to target: %w", err)
	}

	return s, nil
}

func (p *CMSISDAPProbe) choose() (DeviceInfo, error) {
	devices, err := EnumerateCMSISDAPProbes()
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, dev := range devices {
		if p.Serial == "" || dev.SerialNumber == p.Serial {
			return dev, nil
		}
	}
	if p.Serial != "" {
		return DeviceInfo{}, fmt.Errorf("%w with serial %q", ErrNoProbe, p.Serial)
	}
	return DeviceInfo{}, ErrNoProbe
}

// cmsisdapSession drives one attached probe. All methods are serialized.
type cmsisdapSession struct {
	transport packetTransport
	protocol  *CMSISDAPProtocol

	uniqueID  string
	dpidr     DPIDR
	release   func()
	connected bool
	closed    bool

	mu sync.Mutex
}

func newCMSISDAPSession(transport packetTransport, uniqueID string, release func()) *cmsisdapSession {
	if release == nil {
		release = func() {}
	}
	return &cmsisdapSession{
		transport: transport,
		protocol:  NewCMSISDAPProtocol(transport.GetPacketSize()),
		uniqueID:  uniqueID,
		release:   release,
	}
}

// attach brings up the SWD link, powers the debug domain and configures the
// MEM-AP for word access.
func (s *cmsisdapSession) attach(clockHz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uniqueID == "" {
		resp, err := s.transport.WriteRead(s.protocol.EncodeInfo(InfoSerialNum))
		if err != nil {
			return err
		}
		if s.uniqueID, err = s.protocol.DecodeInfo(resp); err != nil {
			return fmt.Errorf("read serial number: %w", err)
		}
	}

	resp, err := s.transport.WriteRead(s.protocol.EncodeConnect(PortSWD))
	if err != nil {
		return err
	}
	port, err := s.protocol.DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortSWD {
		return fmt.Errorf("failed to connect to SWD (got port %d)", port)
	}
	s.connected = true

	steps := []struct {
		cmd    []byte
		decode func([]byte) error
	}{
		{s.protocol.EncodeSetClock(uint32(clockHz)), s.protocol.DecodeSetClock},
		{s.protocol.EncodeTransferConfigure(0, 64, 0), s.protocol.DecodeTransferConfigure},
		{s.protocol.EncodeSWDConfigure(0), s.protocol.DecodeSWDConfigure},
		{s.protocol.EncodeSWJSequence(len(swdSwitchSequence)*8, swdSwitchSequence), s.protocol.DecodeSWJSequence},
	}
	for _, step := range steps {
		resp, err := s.transport.WriteRead(step.cmd)
		if err != nil {
			return err
		}
		if err := step.decode(resp); err != nil {
			return err
		}
	}

	idr, err := s.transfer(DPRead(DPIdr))
	if err != nil {
		return fmt.Errorf("read DPIDR: %w", err)
	}
	s.dpidr = ParseDPIDR(idr[0])
	if !s.dpidr.Valid() {
		return fmt.Errorf("no SWD debug port responded (%s)", s.dpidr)
	}
	if _, err := s.transfer(DPWrite(DPAbort, abortClearSticky), DPWrite(DPCtrlStat, ctrlStatPowerUpReq)); err != nil {
		return fmt.Errorf("power up debug domain: %w", err)
	}

	powered := false
	for i := 0; i < pollAttempts && !powered; i++ {
		v, err := s.transfer(DPRead(DPCtrlStat))
		if err != nil {
			return err
		}
		powered = v[0]&ctrlStatPowerUpAck == ctrlStatPowerUpAck
	}
	if !powered {
		return fmt.Errorf("debug power-up not acknowledged")
	}

	if _, err := s.transfer(DPWrite(DPSelect, 0), APWrite(APCSW, apCSWWord)); err != nil {
		return fmt.Errorf("configure MEM-AP: %w", err)
	}
	return nil
}

// swdSwitchSequence is a line reset, the JTAG-to-SWD select code 0xE79E, a
// second line reset and idle cycles, LSB first.
var swdSwitchSequence = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x9E, 0xE7,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x00,
}

func (s *cmsisdapSession) UniqueID() string {
	return s.uniqueID
}

// DebugPort returns the debug port identification read while attaching.
func (s *cmsisdapSession) DebugPort() DPIDR {
	return s.dpidr
}

func (s *cmsisdapSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.writeWord(regDHCSR, dhcsrDbgKey|dhcsrDebugEn)
}

func (s *cmsisdapSession) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.writeWord(regDHCSR, dhcsrDbgKey|dhcsrDebugEn|dhcsrHalt); err != nil {
		return err
	}
	for i := 0; i < pollAttempts; i++ {
		v, err := s.readWord(regDHCSR)
		if err != nil {
			return err
		}
		if v&dhcsrStatHalt != 0 {
			return nil
		}
	}
	return fmt.Errorf("core did not halt")
}

// ReadBlock reads whole words covering [address, address+count) and returns
// the requested bytes.
func (s *cmsisdapSession) ReadBlock(address uint32, count int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	start := uint64(address) &^ 3
	end := (uint64(address) + uint64(count) + 3) &^ 3
	if end > 1<<32 {
		return nil, fmt.Errorf("read of %d bytes at 0x%08X wraps the address space", count, address)
	}

	buf := make([]byte, 0, end-start)
	for addr := start; addr < end; {
		words := int((end - addr) / 4)
		if limit := s.protocol.MaxBlockWords(); words > limit {
			words = limit
		}
		if left := int((tarPageSize - addr%tarPageSize) / 4); words > left {
			words = left
		}

		vals, err := s.readWords(uint32(addr), words)
		if err != nil {
			return nil, fmt.Errorf("read 0x%08X: %w", addr, err)
		}
		for _, v := range vals {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
		addr += uint64(words) * 4
	}

	off := int(uint64(address) - start)
	return buf[off : off+count], nil
}

func (s *cmsisdapSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.connected {
		// Best effort, the transport is released regardless
		if resp, err := s.transport.WriteRead(s.protocol.EncodeDisconnect()); err == nil {
			_ = s.protocol.DecodeDisconnect(resp)
		}
		s.connected = false
	}

	err := s.transport.Close()
	s.release()
	return err
}

func (s *cmsisdapSession) transfer(transfers ...Transfer) ([]uint32, error) {
	resp, err := s.transport.WriteRead(s.protocol.EncodeTransfer(0, transfers))
	if err != nil {
		return nil, err
	}
	vals, err := s.protocol.DecodeTransfer(resp, transfers)
	var te *TransferError
	if errors.As(err, &te) {
		s.clearSticky()
	}
	return vals, err
}

func (s *cmsisdapSession) clearSticky() {
	cmd := s.protocol.EncodeTransfer(0, []Transfer{DPWrite(DPAbort, abortClearSticky)})
	_, _ = s.transport.WriteRead(cmd)
}

func (s *cmsisdapSession) writeWord(addr, v uint32) error {
	_, err := s.transfer(APWrite(APTAR, addr), APWrite(APDRW, v))
	return err
}

func (s *cmsisdapSession) readWord(addr uint32) (uint32, error) {
	vals, err := s.transfer(APWrite(APTAR, addr), APRead(APDRW))
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

func (s *cmsisdapSession) readWords(addr uint32, words int) ([]uint32, error) {
	if _, err := s.transfer(APWrite(APTAR, addr)); err != nil {
		return nil, err
	}
	cmd := s.protocol.EncodeTransferBlock(0, APRead(APDRW).Request, words, nil)
	resp, err := s.transport.WriteRead(cmd)
	if err != nil {
		return nil, err
	}
	vals, err := s.protocol.DecodeTransferBlock(resp, words)
	var te *TransferError
	if errors.As(err, &te) {
		s.clearSticky()
	}
	return vals, err
}
