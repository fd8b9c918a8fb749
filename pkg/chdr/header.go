// Package chdr implements the stateless chunked-header data-plane protocol
// codec: header parsing/serialization across the four supported bus widths
// and both endiannesses, plus the four payload variants (ctrl, strs, strc,
// data).
package chdr

import (
	"github.com/iprivit/uhd/pkg/chdrerr"
)

// BusWidth is a CHDR bus width, in bits.
type BusWidth int

const (
	BusWidth64  BusWidth = 64
	BusWidth128 BusWidth = 128
	BusWidth256 BusWidth = 256
	BusWidth512 BusWidth = 512
)

// WordBytes returns the number of bytes in one bus word at this width.
func (w BusWidth) WordBytes() int {
	return int(w) / 8
}

func (w BusWidth) valid() bool {
	switch w {
	case BusWidth64, BusWidth128, BusWidth256, BusWidth512:
		return true
	default:
		return false
	}
}

// Endianness selects the byte order a codec instance reads and writes CHDR
// words in. It is carried on the codec, not as a compile-time parameter,
// because a host can talk to devices with different FPGA builds.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// PacketType enumerates the header's packet_type field.
type PacketType uint8

const (
	PacketDataNoTS PacketType = iota
	PacketDataWithTS
	PacketCtrl
	PacketStrs
	PacketStrc
	PacketMgmt
	packetTypeCount
)

func (t PacketType) String() string {
	switch t {
	case PacketDataNoTS:
		return "data_no_ts"
	case PacketDataWithTS:
		return "data_with_ts"
	case PacketCtrl:
		return "ctrl"
	case PacketStrs:
		return "strs"
	case PacketStrc:
		return "strc"
	case PacketMgmt:
		return "mgmt"
	default:
		return "reserved"
	}
}

func (t PacketType) valid() bool {
	return t < packetTypeCount
}

// Header is the CHDR header word, unpacked.
type Header struct {
	VC         uint8
	EOB        bool
	EOV        bool
	PacketType PacketType
	NumMeta    uint8
	SeqNum     uint16
	Length     uint16
	DstEPID    uint16
}

// Header bit layout, packed LSB-first within the 64-bit canonical word
// (spec: payload/header bit-layouts are packed little-endian within each
// word; the word stream is then byte-swapped per the codec's configured
// endianness).
const (
	vcBits      = 6
	vcShift     = 0
	eobShift    = vcShift + vcBits
	eovShift    = eobShift + 1
	ptypeBits   = 3
	ptypeShift  = eovShift + 1
	nmetaBits   = 5
	nmetaShift  = ptypeShift + ptypeBits
	seqBits     = 16
	seqShift    = nmetaShift + nmetaBits
	lenBits     = 16
	lenShift    = seqShift + seqBits
	epidBits    = 16
	epidShift   = lenShift + lenBits
)

func packHeader(h Header) uint64 {
	var w uint64
	w |= uint64(h.VC&((1<<vcBits)-1)) << vcShift
	if h.EOB {
		w |= 1 << eobShift
	}
	if h.EOV {
		w |= 1 << eovShift
	}
	w |= uint64(h.PacketType&((1<<ptypeBits)-1)) << ptypeShift
	w |= uint64(h.NumMeta&((1<<nmetaBits)-1)) << nmetaShift
	w |= uint64(h.SeqNum) << seqShift
	w |= uint64(h.Length) << lenShift
	w |= uint64(h.DstEPID) << epidShift
	return w
}

func unpackHeader(w uint64) Header {
	return Header{
		VC:         uint8((w >> vcShift) & ((1 << vcBits) - 1)),
		EOB:        (w>>eobShift)&1 != 0,
		EOV:        (w>>eovShift)&1 != 0,
		PacketType: PacketType((w >> ptypeShift) & ((1 << ptypeBits) - 1)),
		NumMeta:    uint8((w >> nmetaShift) & ((1 << nmetaBits) - 1)),
		SeqNum:     uint16((w >> seqShift) & ((1 << seqBits) - 1)),
		Length:     uint16((w >> lenShift) & ((1 << lenBits) - 1)),
		DstEPID:    uint16((w >> epidShift) & ((1 << epidBits) - 1)),
	}
}

func newMalformed(op, entity string, cause error) error {
	return chdrerr.New(op).On(entity, "").Malformed(cause)
}

func newUnsupported(op, entity string, cause error) error {
	return chdrerr.New(op).On(entity, "").Unsupported(cause)
}
