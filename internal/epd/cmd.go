package epd

// SSD1680 command bytes. Only the subset the driver actually issues is
// listed; values follow the SSD1680 datasheet.
const (
	cmdDriverControl      = 0x01 // Driver output control: gate lines + scan order
	cmdDeepSleepMode      = 0x10 // Enter deep sleep; hardware reset required to exit
	cmdDataEntryMode      = 0x11 // RAM address increment direction
	cmdSWReset            = 0x12 // Software reset, busy-producing
	cmdTempControl        = 0x18 // Temperature sensor selection
	cmdMasterActivate     = 0x20 // Run the display update sequence, busy-producing
	cmdDisplayUpdateCtrl1 = 0x21 // RAM plane selection for refresh
	cmdDisplayUpdateCtrl2 = 0x22 // Update sequence option (mode byte)
	cmdWriteBWRAM         = 0x24 // Write black/white ("new") image RAM
	cmdWriteRedRAM        = 0x26 // Write red ("old") image RAM
	cmdBorderWaveform     = 0x3C // Border waveform control
	cmdSetRAMXWindow      = 0x44 // RAM X start/end, in bytes
	cmdSetRAMYWindow      = 0x45 // RAM Y start/end
	cmdSetRAMXCounter     = 0x4E // RAM X address counter
	cmdSetRAMYCounter     = 0x4F // RAM Y address counter
	cmdNOP                = 0xE3 // Terminates a RAM write
)

// Parameter bytes for the commands above.
const (
	flagDeepSleepEnter = 0x01 // cmdDeepSleepMode: enter mode 1

	flagDataEntryIncYIncX = 0x03 // cmdDataEntryMode: Y increment, X increment

	flagInternalTempSensor = 0x80 // cmdTempControl

	flagBorderFollowLUT1 = 0x01 // cmdBorderWaveform: follow LUT, LUT1

	// cmdDisplayUpdateCtrl2 mode bytes. The full sequence drives the
	// inverting flash that clears residual charge; the partial sequence
	// uses the reduced-flicker waveform.
	flagUpdateFull    = 0xF7
	flagUpdatePartial = 0x91
)
