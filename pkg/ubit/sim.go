package ubit

import (
	"bytes"

	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/OpenTraceLab/ubittool/pkg/upyscript"
)

const simSerial = "0000000000005EED"

// DemoScript is the script stored on simulated boards by default.
const DemoScript = "from microbit import *\n\nwhile True:\n    display.scroll('Hello, World!')\n    display.show(Image.HEART)\n    sleep(2000)\n"

// SimulatedBoard returns a simulator probe that looks like a micro:bit with
// the given board ID. Flash holds a runtime-like pattern followed by script in
// the MicroPython script area; the rest of flash and the UICR read as erased
// except for a few customer registers.
func SimulatedBoard(boardID string, table memmap.Table, script string) (*probe.SimProbe, error) {
	set, err := table.Resolve(boardID)
	if err != nil {
		return nil, err
	}

	flash := bytes.Repeat([]byte{0xFF}, int(set.FlashSize))
	runtime := set.MicroPython()
	for i := uint32(0); i < runtime.Size; i++ {
		flash[runtime.Start-set.FlashStart+i] = byte(i*13 + i>>8)
	}
	if script != "" {
		area, err := upyscript.Embed(script)
		if err != nil {
			return nil, err
		}
		copy(flash[set.UserCode().Start-set.FlashStart:], area)
	}

	ram := make([]byte, set.RAMSize)
	for i := range ram {
		ram[i] = byte(i)
	}

	uicr := bytes.Repeat([]byte{0xFF}, int(set.UICRSize))
	copy(uicr[set.UICRCustomerOffset:], []byte("ubit"))

	// DAPLink unique IDs are the board ID followed by a per-board serial
	id := boardID
	if len(id) == memmap.BoardIDLength {
		id += simSerial
	}
	sim := probe.NewSimProbe(id)
	sim.Map(set.FlashStart, flash)
	sim.Map(set.RAMStart, ram)
	sim.Map(set.UICRStart, uicr)
	return sim, nil
}
