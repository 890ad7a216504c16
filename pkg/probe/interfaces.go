package probe

import (
	"context"
	"fmt"
)

// InterfaceKind categorizes probe families.
type InterfaceKind string

const (
	InterfaceKindDAPLink  InterfaceKind = "daplink"
	InterfaceKindCMSISDAP InterfaceKind = "cmsis-dap"
	InterfaceKindSim      InterfaceKind = "simulator"
)

// InterfaceInfo describes a detected debug probe.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	if i.Kind != "" {
		return fmt.Sprintf("%s (%04X:%04X)", string(i.Kind), i.VendorID, i.ProductID)
	}
	return fmt.Sprintf("Interface %04X:%04X", i.VendorID, i.ProductID)
}

// BoardID returns the board ID prefix of the serial, or "" when the serial is
// too short to carry one.
func (i InterfaceInfo) BoardID() string {
	return DeviceInfo{SerialNumber: i.Serial}.BoardID()
}

// DiscoverInterfaces lists connected CMSIS-DAP probes that match known
// VID/PID pairs. It always returns the simulator entry last so the tool can be
// exercised without hardware connected.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := EnumerateCMSISDAPProbes()
	if err != nil {
		return nil, err
	}
	return interfacesFor(devices), ctx.Err()
}

// interfacesFor describes enumerated probes, followed by the simulator.
func interfacesFor(devices []DeviceInfo) []InterfaceInfo {
	results := make([]InterfaceInfo, 0, len(devices)+1)
	for _, dev := range devices {
		info := InterfaceInfo{
			Kind:        InterfaceKindCMSISDAP,
			Description: dev.Description,
			VendorID:    dev.VID,
			ProductID:   dev.PID,
			Serial:      dev.SerialNumber,
		}
		if known, ok := lookupCMSISDAP(dev.VID, dev.PID); ok {
			info.Kind = known.Kind
			info.Description = known.Description
		}
		results = append(results, info)
	}

	return append(results, InterfaceInfo{
		Kind:        InterfaceKindSim,
		Description: "Simulator (no hardware)",
	})
}

type knownUSBDevice struct {
	Kind        InterfaceKind
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownCMSISDAPVIDPIDs = []knownUSBDevice{
	{Kind: InterfaceKindDAPLink, VendorID: VendorIDARM, ProductID: ProductIDDAPLink, Description: "DAPLink CMSIS-DAP"},
	{Kind: InterfaceKindCMSISDAP, VendorID: VendorIDRaspberry, ProductID: ProductIDCMSISDAP, Description: "Raspberry Pi CMSIS-DAP"},
	{Kind: InterfaceKindCMSISDAP, VendorID: 0x1366, ProductID: 0x0101, Description: "SEGGER J-Link CMSIS-DAP"},
}

func lookupCMSISDAP(vid, pid uint16) (knownUSBDevice, bool) {
	for _, known := range knownCMSISDAPVIDPIDs {
		if vid == known.VendorID && pid == known.ProductID {
			return known, true
		}
	}
	return knownUSBDevice{}, false
}
