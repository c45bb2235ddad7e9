package modelcache

// Device is the compute device a model is placed on.
type Device int

const (
	DeviceCPU Device = iota
	DeviceAccelerator
)

func (d Device) String() string {
	if d == DeviceAccelerator {
		return "accelerator"
	}
	return "cpu"
}

// Precision is the floating point width used for weights.
type Precision int

const (
	PrecisionFull32 Precision = iota
	PrecisionHalf16
)

func (p Precision) String() string {
	if p == PrecisionHalf16 {
		return "float16"
	}
	return "float32"
}

// Placement pairs a device with the precision used on it.
type Placement struct {
	Device    Device
	Precision Precision
}

func (p Placement) String() string {
	return p.Device.String() + "/" + p.Precision.String()
}

// SelectPlacement picks half precision on an accelerator and full precision on CPU.
func SelectPlacement(acceleratorAvailable bool) Placement {
	if acceleratorAvailable {
		return Placement{Device: DeviceAccelerator, Precision: PrecisionHalf16}
	}
	return Placement{Device: DeviceCPU, Precision: PrecisionFull32}
}

// Probe reports whether an accelerator is usable in this process.
type Probe interface {
	AcceleratorAvailable() bool
}

// StaticProbe is a Probe with a fixed answer.
type StaticProbe bool

// AcceleratorAvailable returns the fixed answer.
func (p StaticProbe) AcceleratorAvailable() bool { return bool(p) }
