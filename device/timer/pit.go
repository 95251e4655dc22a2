// Package timer provides a busy-wait sleeper on top of the 8254
// programmable interval timer.
package timer

import (
	"bootcore/device"
	"bootcore/kernel"
	"bootcore/kernel/cpu"
	"bootcore/kernel/kfmt"
	"io"
)

const (
	// PITFrequency is the input clock of the 8254 in Hz.
	PITFrequency = 1193182

	pitChannel2 = uint16(0x42)
	pitCommand  = uint16(0x43)

	// port 0x61 bit 0 gates channel 2, bit 1 drives the speaker and bit 5
	// reflects the channel 2 output.
	pitGatePort  = uint16(0x61)
	gateEnable   = uint8(1 << 0)
	speakerData  = uint8(1 << 1)
	channel2Done = uint8(1 << 5)

	// channel 2, lobyte/hibyte access, mode 0 (interrupt on terminal
	// count), binary counting.
	cmdChannel2OneShot = uint8(0xb0)

	maxCount = uint64(0xffff)
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// PIT sleeps by counting channel 2 of the 8254 down to zero. It must only
// be used by one processor at a time.
type PIT struct {
	ticks uint64
}

// PrepareSleep implements smp.Sleeper. It converts micros into timer ticks
// and configures channel 2 for one-shot operation.
func (p *PIT) PrepareSleep(micros uint32) {
	p.ticks = uint64(micros) * PITFrequency / 1000000
	if p.ticks == 0 {
		p.ticks = 1
	}

	portWriteByteFn(pitGatePort, portReadByteFn(pitGatePort)&^(speakerData|gateEnable))
	portWriteByteFn(pitCommand, cmdChannel2OneShot)
}

// PerformSleep implements smp.Sleeper. Delays longer than a full counter
// period are split into multiple countdowns.
func (p *PIT) PerformSleep() {
	for p.ticks > 0 {
		count := p.ticks
		if count > maxCount {
			count = maxCount
		}
		p.ticks -= count

		portWriteByteFn(pitChannel2, uint8(count))
		portWriteByteFn(pitChannel2, uint8(count>>8))

		// a rising edge on the gate restarts the countdown
		gate := portReadByteFn(pitGatePort) &^ gateEnable
		portWriteByteFn(pitGatePort, gate)
		portWriteByteFn(pitGatePort, gate|gateEnable)

		for portReadByteFn(pitGatePort)&channel2Done == 0 {
		}
	}
}

// DriverInit implements device.Driver.
func (p *PIT) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "channel 2 one-shot sleeper at %d Hz\n", uint32(PITFrequency))
	return nil
}

// DriverName implements device.Driver.
func (*PIT) DriverName() string {
	return "8254 PIT"
}

// DriverVersion implements device.Driver.
func (*PIT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

func detectPIT() device.Driver {
	return &PIT{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderLast,
		Detect: detectPIT,
	})
}
