package streamer

import (
	"encoding/binary"
	"fmt"

	"github.com/iprivit/uhd/pkg/chdrerr"
)

// WireFormat is the on-the-wire item format a device produces or consumes.
type WireFormat uint8

const (
	// WireSC16 is 16-bit signed complex integers, the default wire format.
	WireSC16 WireFormat = iota
)

func (f WireFormat) String() string {
	switch f {
	case WireSC16:
		return "sc16"
	default:
		return "unknown"
	}
}

// CPUFormat is the host's in-memory sample format.
type CPUFormat uint8

const (
	// CPUFC32 is complex64: a 32-bit float real/imaginary pair.
	CPUFC32 CPUFormat = iota
)

func (f CPUFormat) String() string {
	switch f {
	case CPUFC32:
		return "fc32"
	default:
		return "unknown"
	}
}

// defaultScale is scaling_in / 32767.0, the default conversion factor for
// 16-bit complex ints per spec.md §4.5.
const defaultScale = 1.0 / 32767.0

// Converter maps the wire item format to the host CPU format, applying a
// scale factor sourced from property propagation (scaling_in). Wire and CPU
// format are fixed at construction; unknown combinations are a fatal
// construction-time error, never a runtime one.
type Converter struct {
	wire  WireFormat
	cpu   CPUFormat
	scale float64
}

// NewConverter builds a Converter for the given wire/CPU format pair. scale
// of 0 selects defaultScale.
func NewConverter(wire WireFormat, cpu CPUFormat, scale float64) (*Converter, error) {
	if wire != WireSC16 || cpu != CPUFC32 {
		return nil, chdrerr.New("new_converter").On("item_format", fmt.Sprintf("%s/%s", wire, cpu)).
			Fatal(fmt.Errorf("unsupported wire/cpu format combination"))
	}
	if scale == 0 {
		scale = defaultScale
	}
	return &Converter{wire: wire, cpu: cpu, scale: scale}, nil
}

// SetScale updates the conversion factor, called when scaling_in changes via
// property propagation.
func (c *Converter) SetScale(scale float64) {
	if scale == 0 {
		scale = defaultScale
	}
	c.scale = scale
}

// WireBytesPerSample reports how many wire-format bytes one sample occupies.
func (c *Converter) WireBytesPerSample() int {
	return 4 // sc16: 2 bytes I + 2 bytes Q
}

// ToCPU decodes wire-format bytes into dst, returning the number of samples
// converted (min(len(wire)/WireBytesPerSample(), len(dst))).
func (c *Converter) ToCPU(wire []byte, dst []complex64) int {
	bps := c.WireBytesPerSample()
	n := len(wire) / bps
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		off := i * bps
		re := int16(binary.LittleEndian.Uint16(wire[off:]))
		im := int16(binary.LittleEndian.Uint16(wire[off+2:]))
		dst[i] = complex(float32(float64(re)*c.scale), float32(float64(im)*c.scale))
	}
	return n
}

// FromCPU encodes src into dst as wire-format bytes, returning the number of
// bytes written. dst must be at least len(src)*WireBytesPerSample() long.
func (c *Converter) FromCPU(src []complex64, dst []byte) int {
	bps := c.WireBytesPerSample()
	n := len(src)
	if n*bps > len(dst) {
		n = len(dst) / bps
	}
	for i := 0; i < n; i++ {
		re := int16(real(src[i]) / float32(c.scale))
		im := int16(imag(src[i]) / float32(c.scale))
		off := i * bps
		binary.LittleEndian.PutUint16(dst[off:], uint16(re))
		binary.LittleEndian.PutUint16(dst[off+2:], uint16(im))
	}
	return n * bps
}
