package chdr

import (
	"encoding/binary"
	"fmt"
)

// Packet is a fully parsed CHDR packet: header plus typed payload.
type Packet struct {
	Header  Header
	Payload Payload
}

// Codec encodes and decodes CHDR packets for one bus width and endianness.
// A Codec carries no packet state between calls; the same instance is safe
// for concurrent use by multiple callers, since every method is a pure
// function of its arguments.
type Codec struct {
	width  BusWidth
	endian Endianness
}

// NewCodec builds a codec for the given bus width and endianness.
func NewCodec(width BusWidth, endian Endianness) (*Codec, error) {
	if !width.valid() {
		return nil, newUnsupported("new_codec", "bus_width", fmt.Errorf("width %d not in {64,128,256,512}", width))
	}
	return &Codec{width: width, endian: endian}, nil
}

// WordBytes returns the codec's configured bus word size in bytes.
func (c *Codec) WordBytes() int { return c.width.WordBytes() }

func (c *Codec) putWord(buf []byte, w uint64) {
	if c.endian == BigEndian {
		binary.BigEndian.PutUint64(buf, w)
	} else {
		binary.LittleEndian.PutUint64(buf, w)
	}
}

func (c *Codec) getWord(buf []byte) uint64 {
	if c.endian == BigEndian {
		return binary.BigEndian.Uint64(buf)
	}
	return binary.LittleEndian.Uint64(buf)
}

// headerWords reports how many whole bus words the header (plus an
// inline timestamp, when the packet carries one and the bus is too narrow
// to share the header's word) occupies before metadata begins.
func (c *Codec) headerWords(hasTS bool) int {
	if hasTS && c.width == BusWidth64 {
		return 2 // header word, then a dedicated timestamp word
	}
	return 1
}

// wordSlot returns the byte offset of the kth 64-bit sub-word (0 = header,
// 1 = an inline timestamp sharing the header's bus word on wide buses)
// within a word-byte-wide bus word. Endianness in CHDR is a property of the
// whole bus word, not of the 64-bit header alone: a device that swaps
// endianness reverses every byte of the word, so the header's 64 bits move
// from the start of the word to the end (and vice versa). Packing
// little-endian slots from byte 0 and big-endian slots from the end of the
// word, rather than always at buf[:8], keeps ByteSwap's full-word reversal
// an exact inverse of the opposite endianness's encoding for any bus width.
func wordSlot(word int, k int, endian Endianness) int {
	if endian == BigEndian {
		return word - 8*(k+1)
	}
	return 8 * k
}

// putLogicalWord writes a 64-bit logical CHDR item (a ctrl/strs/strc field
// word) into the idx'th bus word of buf. Those payloads are built from one
// logical item per physical bus word, the same convention the header uses:
// on buses wider than 64 bits each item occupies a whole word with the high
// bits reserved, rather than packing several items into one word, so a
// whole-word ByteSwap relocates an item without reordering its neighbors.
func (c *Codec) putLogicalWord(buf []byte, idx int, v uint64) {
	word := c.WordBytes()
	off := idx*word + wordSlot(word, 0, c.endian)
	c.putWord(buf[off:off+8], v)
}

func (c *Codec) getLogicalWord(buf []byte, idx int) uint64 {
	word := c.WordBytes()
	off := idx*word + wordSlot(word, 0, c.endian)
	return c.getWord(buf[off : off+8])
}

// Parse decodes a raw buffer into a Header and typed Payload.
func (c *Codec) Parse(buf []byte) (Packet, error) {
	word := c.WordBytes()
	if len(buf) < word {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("buffer shorter than one bus word"))
	}

	hOff := wordSlot(word, 0, c.endian)
	h := unpackHeader(c.getWord(buf[hOff : hOff+8]))
	if !h.PacketType.valid() {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("reserved packet_type %d", h.PacketType))
	}
	if int(h.Length) < word {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("length %d shorter than header", h.Length))
	}
	if int(h.Length) > len(buf) {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("length %d exceeds buffer of %d bytes", h.Length, len(buf)))
	}

	hasTS := h.PacketType == PacketDataWithTS
	offset := word * c.headerWords(hasTS)

	var ts uint64
	if hasTS {
		if c.width == BusWidth64 {
			if len(buf) < 2*word {
				return Packet{}, newMalformed("parse", "packet", fmt.Errorf("buffer too short for timestamp word"))
			}
			tsOff := word + wordSlot(word, 0, c.endian)
			ts = c.getWord(buf[tsOff : tsOff+8])
		} else {
			if len(buf) < word {
				return Packet{}, newMalformed("parse", "packet", fmt.Errorf("buffer too short for inline timestamp"))
			}
			tsOff := wordSlot(word, 1, c.endian)
			ts = c.getWord(buf[tsOff : tsOff+8])
		}
	}

	metaBytes := int(h.NumMeta) * word
	if offset+metaBytes > len(buf) {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("metadata words exceed buffer"))
	}
	payloadStart := offset + metaBytes
	payloadEnd := int(h.Length)
	if payloadEnd < payloadStart {
		return Packet{}, newMalformed("parse", "packet", fmt.Errorf("length %d shorter than header+metadata", h.Length))
	}
	payloadBuf := buf[payloadStart:payloadEnd]

	payload, err := c.parsePayload(h.PacketType, hasTS, ts, payloadBuf)
	if err != nil {
		return Packet{}, err
	}

	return Packet{Header: h, Payload: payload}, nil
}

func (c *Codec) parsePayload(pt PacketType, hasTS bool, ts uint64, buf []byte) (Payload, error) {
	switch pt {
	case PacketDataNoTS, PacketDataWithTS:
		return DataPayload{Timestamp: ts, HasTime: hasTS, Samples: append([]byte(nil), buf...)}, nil
	case PacketCtrl:
		return c.parseCtrl(buf)
	case PacketStrs:
		return c.parseStrs(buf)
	case PacketStrc:
		return c.parseStrc(buf)
	case PacketMgmt:
		return DataPayload{Samples: append([]byte(nil), buf...)}, nil
	default:
		return nil, newMalformed("parse", "payload", fmt.Errorf("unhandled packet_type %d", pt))
	}
}

// Serialize packs a Header and Payload into a newly allocated buffer, padded
// to a whole number of bus words, and returns it; it does not write into a
// caller-supplied buffer. The header's length field is set to the unpadded
// packet length.
func (c *Codec) Serialize(h Header, p Payload) ([]byte, error) {
	word := c.WordBytes()
	hasTS := h.PacketType == PacketDataWithTS

	var payloadBytes []byte
	var err error
	switch v := p.(type) {
	case DataPayload:
		payloadBytes = v.Samples
	case CtrlPayload:
		if h.PacketType != PacketCtrl {
			return nil, newMalformed("serialize", "payload", fmt.Errorf("ctrl payload with packet_type %s", h.PacketType))
		}
		payloadBytes, err = c.serializeCtrl(v)
	case StrsPayload:
		if h.PacketType != PacketStrs {
			return nil, newMalformed("serialize", "payload", fmt.Errorf("strs payload with packet_type %s", h.PacketType))
		}
		payloadBytes, err = c.serializeStrs(v)
	case StrcPayload:
		if h.PacketType != PacketStrc {
			return nil, newMalformed("serialize", "payload", fmt.Errorf("strc payload with packet_type %s", h.PacketType))
		}
		payloadBytes, err = c.serializeStrc(v)
	default:
		return nil, newMalformed("serialize", "payload", fmt.Errorf("unknown payload type %T", p))
	}
	if err != nil {
		return nil, err
	}

	headerWords := c.headerWords(hasTS)
	offset := word * headerWords
	metaBytes := int(h.NumMeta) * word
	payloadStart := offset + metaBytes
	totalLen := payloadStart + len(payloadBytes)
	// Pad the whole frame to a word boundary.
	padded := ((totalLen + word - 1) / word) * word

	buf := make([]byte, padded)

	h.Length = uint16(totalLen)
	hOff := wordSlot(word, 0, c.endian)
	c.putWord(buf[hOff:hOff+8], packHeader(h))

	var ts uint64
	if dp, ok := p.(DataPayload); ok {
		ts = dp.Timestamp
	}
	if hasTS {
		if c.width == BusWidth64 {
			tsOff := word + wordSlot(word, 0, c.endian)
			c.putWord(buf[tsOff:tsOff+8], ts)
		} else {
			tsOff := wordSlot(word, 1, c.endian)
			c.putWord(buf[tsOff:tsOff+8], ts)
		}
	}

	copy(buf[payloadStart:totalLen], payloadBytes)
	return buf, nil
}

// ByteSwap returns a copy of buf with the bytes of every bus word reversed,
// simulating a packet produced for the opposite endianness arriving on the
// wire; buf itself is left unchanged. It is a test
// and interop helper, not used on the hot decode path.
func ByteSwap(buf []byte, wordBytes int) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	for off := 0; off+wordBytes <= len(out); off += wordBytes {
		word := out[off : off+wordBytes]
		for i, j := 0, len(word)-1; i < j; i, j = i+1, j-1 {
			word[i], word[j] = word[j], word[i]
		}
	}
	return out
}
