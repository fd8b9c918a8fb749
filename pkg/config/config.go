// Package config loads and validates the device/graph configuration that
// parameterizes a CHDR host session: bus width, endianness, tick rate, and
// the transport-tuning knobs the core passes verbatim to the link layer.
package config

import (
	"fmt"
	"os"
	"time"

	validatorpkg "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidate = validatorpkg.New()

// Endianness selects the byte order CHDR words are carried in on the wire.
type Endianness string

const (
	LittleEndian Endianness = "little"
	BigEndian    Endianness = "big"
)

// allowedBusWidths enumerates the CHDR bus widths spec.md §4.1 supports.
var allowedBusWidths = []int{64, 128, 256, 512}

// TransportConfig holds the transport-tuning options the core passes
// verbatim to the link layer, per spec.md §6.
type TransportConfig struct {
	RecvFrameSize   int           `yaml:"recv_frame_size" validate:"required,min=64"`
	NumRecvFrames   int           `yaml:"num_recv_frames" validate:"required,min=1"`
	SendFrameSize   int           `yaml:"send_frame_size" validate:"required,min=64"`
	NumSendFrames   int           `yaml:"num_send_frames" validate:"required,min=1"`
	RecvBuffSize    int           `yaml:"recv_buff_size" validate:"omitempty,min=0"`
	SendBuffSize    int           `yaml:"send_buff_size" validate:"omitempty,min=0"`
	UpdatesPerSec   float64       `yaml:"updates_per_sec" validate:"omitempty,min=0"`
	RecvTimeout     time.Duration `yaml:"recv_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// DeviceConfig describes a single CHDR-speaking device instance.
type DeviceConfig struct {
	BusWidthBits int             `yaml:"bus_width_bits" validate:"required"`
	Endianness   Endianness      `yaml:"endianness" validate:"required"`
	TickRateHz   float64         `yaml:"tick_rate_hz" validate:"required,gt=0"`
	Transport    TransportConfig `yaml:"transport"`
}

// DefaultTransportConfig returns reasonable defaults matching a typical
// gigabit-Ethernet CHDR link.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		RecvFrameSize: 8000,
		NumRecvFrames: 32,
		SendFrameSize: 8000,
		NumSendFrames: 32,
		RecvBuffSize:  2 * 1024 * 1024,
		SendBuffSize:  2 * 1024 * 1024,
		UpdatesPerSec: 10,
		RecvTimeout:   100 * time.Millisecond,
		SendTimeout:   100 * time.Millisecond,
	}
}

// Load reads and validates a DeviceConfig from a YAML file.
func Load(path string) (*DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &DeviceConfig{Transport: DefaultTransportConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-tag constraints via go-playground/validator, then
// the cross-field rules a tag can't express (bus width enumeration,
// endianness enumeration) via the fluent Validator.
func (c *DeviceConfig) Validate() error {
	if err := structValidate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	v := NewValidator("DeviceConfig").
		OneOfInt("BusWidthBits", c.BusWidthBits, allowedBusWidths...).
		OneOfString("Endianness", string(c.Endianness), string(LittleEndian), string(BigEndian)).
		Positive("TickRateHz", c.TickRateHz).
		Positive("Transport.RecvFrameSize", float64(c.Transport.RecvFrameSize)).
		Positive("Transport.SendFrameSize", float64(c.Transport.SendFrameSize)).
		NonNegative("Transport.NumRecvFrames", c.Transport.NumRecvFrames).
		NonNegative("Transport.NumSendFrames", c.Transport.NumSendFrames)

	return v.Err()
}

// WordBytes returns the CHDR bus word size in bytes.
func (c *DeviceConfig) WordBytes() int {
	return c.BusWidthBits / 8
}
