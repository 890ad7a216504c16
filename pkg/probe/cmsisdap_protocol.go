package probe

import (
	"encoding/binary"
	"fmt"
)

// CMSIS-DAP Command IDs
const (
	CmdInfo              = 0x00
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
)

// DAP_Info Info IDs
const (
	InfoVendorID     = 0x01
	InfoProductID    = 0x02
	InfoSerialNum    = 0x03
	InfoFirmwareVer  = 0x04
	InfoCapabilities = 0xF0
	InfoPacketCount  = 0xFE
	InfoPacketSize   = 0xFF
)

// Connection ports
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Status codes
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// Transfer request bits (DAP_Transfer / DAP_TransferBlock)
const (
	ReqAPnDP = 0x01 // Bit [0] = access AP instead of DP
	ReqRnW   = 0x02 // Bit [1] = read
	ReqAddr  = 0x0C // Bits [3:2] = register address A[3:2]
)

// Transfer acknowledge values
const (
	AckOK    = 0x01
	AckWait  = 0x02
	AckFault = 0x04
)

// DP and MEM-AP register addresses
const (
	DPAbort    = 0x00 // write
	DPIdr      = 0x00 // read
	DPCtrlStat = 0x04
	DPSelect   = 0x08
	DPRdBuff   = 0x0C

	APCSW = 0x00
	APTAR = 0x04
	APDRW = 0x0C
)

// Transfer is one DP/AP register access inside a DAP_Transfer command.
type Transfer struct {
	Request byte
	Data    uint32 // value written; ignored for reads
}

// DPRead builds a DP register read request.
func DPRead(reg byte) Transfer { return Transfer{Request: ReqRnW | reg&ReqAddr} }

// DPWrite builds a DP register write request.
func DPWrite(reg byte, v uint32) Transfer { return Transfer{Request: reg & ReqAddr, Data: v} }

// APRead builds an AP register read request.
func APRead(reg byte) Transfer { return Transfer{Request: ReqAPnDP | ReqRnW | reg&ReqAddr} }

// APWrite builds an AP register write request.
func APWrite(reg byte, v uint32) Transfer {
	return Transfer{Request: ReqAPnDP | reg&ReqAddr, Data: v}
}

// IsRead reports whether the transfer reads a register.
func (t Transfer) IsRead() bool {
	return t.Request&ReqRnW != 0
}

// CMSISDAPProtocol handles encoding/decoding of CMSIS-DAP commands
type CMSISDAPProtocol struct {
	PacketSize int
}

// NewCMSISDAPProtocol creates a new protocol handler
func NewCMSISDAPProtocol(packetSize int) *CMSISDAPProtocol {
	return &CMSISDAPProtocol{
		PacketSize: packetSize,
	}
}

// MaxBlockWords returns how many 32-bit words fit into one
// DAP_TransferBlock response packet.
func (p *CMSISDAPProtocol) MaxBlockWords() int {
	n := (p.PacketSize - 4) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EncodeInfo builds a DAP_Info command
func (p *CMSISDAPProtocol) EncodeInfo(infoID byte) []byte {
	return []byte{CmdInfo, infoID}
}

// DecodeInfo parses a DAP_Info response
func (p *CMSISDAPProtocol) DecodeInfo(resp []byte) (string, error) {
	if len(resp) < 2 {
		return "", fmt.Errorf("response too short")
	}
	if resp[0] != CmdInfo {
		return "", fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}

	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("incomplete info string")
	}

	// Strings are NUL terminated on most firmware
	s := resp[2 : 2+length]
	for i, c := range s {
		if c == 0 {
			s = s[:i]
			break
		}
	}
	return string(s), nil
}

// EncodeConnect builds a DAP_Connect command
func (p *CMSISDAPProtocol) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect parses a DAP_Connect response
func (p *CMSISDAPProtocol) DecodeConnect(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("response too short")
	}
	if resp[0] != CmdConnect {
		return 0, fmt.Errorf("invalid command ID")
	}
	if resp[1] == 0 {
		return 0, fmt.Errorf("connection failed")
	}
	return resp[1], nil
}

// EncodeDisconnect builds a DAP_Disconnect command
func (p *CMSISDAPProtocol) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

// DecodeDisconnect parses a DAP_Disconnect response
func (p *CMSISDAPProtocol) DecodeDisconnect(resp []byte) error {
	return decodeStatus(resp, CmdDisconnect, "disconnect")
}

// EncodeSetClock builds a DAP_SWJ_Clock command
func (p *CMSISDAPProtocol) EncodeSetClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

// DecodeSetClock parses response
func (p *CMSISDAPProtocol) DecodeSetClock(resp []byte) error {
	return decodeStatus(resp, CmdSWJClock, "set clock")
}

// EncodeSWJSequence builds a DAP_SWJ_Sequence command clocking out bits of
// data on SWDIO/TMS, LSB first. A bit count of 256 is encoded as 0.
func (p *CMSISDAPProtocol) EncodeSWJSequence(bits int, data []byte) []byte {
	n := (bits + 7) / 8
	cmd := make([]byte, 2+n)
	cmd[0] = CmdSWJSequence
	cmd[1] = byte(bits) // 256 wraps to 0
	copy(cmd[2:], data)
	return cmd
}

// DecodeSWJSequence parses response
func (p *CMSISDAPProtocol) DecodeSWJSequence(resp []byte) error {
	return decodeStatus(resp, CmdSWJSequence, "SWJ sequence")
}

// EncodeTransferConfigure builds a DAP_TransferConfigure command
func (p *CMSISDAPProtocol) EncodeTransferConfigure(idleCycles byte, waitRetry, matchRetry uint16) []byte {
	cmd := make([]byte, 6)
	cmd[0] = CmdTransferConfigure
	cmd[1] = idleCycles
	binary.LittleEndian.PutUint16(cmd[2:], waitRetry)
	binary.LittleEndian.PutUint16(cmd[4:], matchRetry)
	return cmd
}

// DecodeTransferConfigure parses response
func (p *CMSISDAPProtocol) DecodeTransferConfigure(resp []byte) error {
	return decodeStatus(resp, CmdTransferConfigure, "transfer configure")
}

// EncodeSWDConfigure builds a DAP_SWD_Configure command
func (p *CMSISDAPProtocol) EncodeSWDConfigure(config byte) []byte {
	return []byte{CmdSWDConfigure, config}
}

// DecodeSWDConfigure parses response
func (p *CMSISDAPProtocol) DecodeSWDConfigure(resp []byte) error {
	return decodeStatus(resp, CmdSWDConfigure, "SWD configure")
}

// EncodeTransfer builds a DAP_Transfer command
// Each transfer is: [request][data (writes only)]
func (p *CMSISDAPProtocol) EncodeTransfer(dapIndex byte, transfers []Transfer) []byte {
	size := 3 // cmd + index + count
	for _, t := range transfers {
		size++
		if !t.IsRead() {
			size += 4
		}
	}

	cmd := make([]byte, size)
	cmd[0] = CmdTransfer
	cmd[1] = dapIndex
	cmd[2] = byte(len(transfers))

	offset := 3
	for _, t := range transfers {
		cmd[offset] = t.Request
		offset++
		if !t.IsRead() {
			binary.LittleEndian.PutUint32(cmd[offset:], t.Data)
			offset += 4
		}
	}

	return cmd
}

// DecodeTransfer parses a DAP_Transfer response and returns the values of the
// read requests in order.
func (p *CMSISDAPProtocol) DecodeTransfer(resp []byte, transfers []Transfer) ([]uint32, error) {
	if len(resp) < 3 {
		return nil, fmt.Errorf("response too short")
	}
	if resp[0] != CmdTransfer {
		return nil, fmt.Errorf("invalid command ID")
	}

	count := int(resp[1])
	ack := resp[2] & 0x07
	if ack != AckOK {
		return nil, &TransferError{Ack: ack, Completed: count}
	}
	if count != len(transfers) {
		return nil, fmt.Errorf("transfer incomplete: %d of %d", count, len(transfers))
	}

	reads := make([]uint32, 0)
	offset := 3
	for _, t := range transfers {
		if !t.IsRead() {
			continue
		}
		if offset+4 > len(resp) {
			return nil, fmt.Errorf("incomplete transfer data")
		}
		reads = append(reads, binary.LittleEndian.Uint32(resp[offset:]))
		offset += 4
	}

	return reads, nil
}

// EncodeTransferBlock builds a DAP_TransferBlock command. For reads data is
// ignored and count words are requested.
func (p *CMSISDAPProtocol) EncodeTransferBlock(dapIndex byte, request byte, count int, data []uint32) []byte {
	read := request&ReqRnW != 0
	size := 5
	if !read {
		size += 4 * len(data)
		count = len(data)
	}

	cmd := make([]byte, size)
	cmd[0] = CmdTransferBlock
	cmd[1] = dapIndex
	binary.LittleEndian.PutUint16(cmd[2:], uint16(count))
	cmd[4] = request
	if !read {
		for i, v := range data {
			binary.LittleEndian.PutUint32(cmd[5+4*i:], v)
		}
	}
	return cmd
}

// DecodeTransferBlock parses a DAP_TransferBlock response carrying count words.
func (p *CMSISDAPProtocol) DecodeTransferBlock(resp []byte, count int) ([]uint32, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("response too short")
	}
	if resp[0] != CmdTransferBlock {
		return nil, fmt.Errorf("invalid command ID")
	}

	done := int(binary.LittleEndian.Uint16(resp[1:]))
	ack := resp[3] & 0x07
	if ack != AckOK {
		return nil, &TransferError{Ack: ack, Completed: done}
	}
	if done != count {
		return nil, fmt.Errorf("block transfer incomplete: %d of %d", done, count)
	}
	if len(resp) < 4+4*count {
		return nil, fmt.Errorf("incomplete block data")
	}

	words := make([]uint32, count)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(resp[4+4*i:])
	}
	return words, nil
}

// TransferError reports a non-OK acknowledge from the target.
type TransferError struct {
	Ack       byte
	Completed int
}

func (e *TransferError) Error() string {
	var what string
	switch e.Ack {
	case AckWait:
		what = "WAIT"
	case AckFault:
		what = "FAULT"
	default:
		what = fmt.Sprintf("ack 0x%X", e.Ack)
	}
	return fmt.Sprintf("transfer failed with %s after %d transfer(s)", what, e.Completed)
}

func decodeStatus(resp []byte, cmdID byte, what string) error {
	if len(resp) < 2 {
		return fmt.Errorf("response too short")
	}
	if resp[0] != cmdID {
		return fmt.Errorf("invalid command ID")
	}
	if resp[1] != StatusOK {
		return fmt.Errorf("%s failed", what)
	}
	return nil
}
