package telemetry

// NPUAvailable reports whether NPU telemetry can be queried on this host.
// The native OpenVINO runtime is the only component that can enumerate
// NPU devices and their utilization; without it this always reports
// false rather than guessing (an explicit Open Question decision, not an
// omission -- see DESIGN.md).
func NPUAvailable() bool {
	return false
}
