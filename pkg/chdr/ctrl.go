package chdr

import "fmt"

// Bit layouts below follow the same convention as the header: fields are
// packed LSB-first into a canonical 64-bit word. Each logical word below
// occupies its own physical bus word (see Codec.putLogicalWord) so a
// whole-word endianness swap never reorders a payload's logical words
// relative to one another, only the bytes within each.

// --- ctrl ---
//
// word 0: dst_port(10) | src_port(10) | has_time(1) | seq(6) | is_ack(1) | opcode(4) | status(8) | addr(16) | byte_enable(8)
// word 1: src_epid(16) | data_vtr_count(3) | reserved(45)
// [word 2: timestamp, present iff has_time]
// following words: data_vtr, two uint32s packed per word, last word zero-padded if odd count

const (
	ctrlDstPortBits = 10
	ctrlSrcPortBits = 10
	ctrlSeqBits     = 6
	ctrlOpcodeBits  = 4
	ctrlStatusBits  = 8
	ctrlAddrBits    = 16
	ctrlByteEnBits  = 8
)

func (c *Codec) serializeCtrl(p CtrlPayload) ([]byte, error) {
	if len(p.DataVtr) > maxCtrlDataWords {
		return nil, newMalformed("serialize", "ctrl_payload", fmt.Errorf("data_vtr has %d words, max %d", len(p.DataVtr), maxCtrlDataWords))
	}

	var w0 uint64
	shift := uint(0)
	w0 |= uint64(p.DstPort&((1<<ctrlDstPortBits)-1)) << shift
	shift += ctrlDstPortBits
	w0 |= uint64(p.SrcPort&((1<<ctrlSrcPortBits)-1)) << shift
	shift += ctrlSrcPortBits
	if p.HasTime {
		w0 |= 1 << shift
	}
	shift++
	w0 |= uint64(p.Seq&((1<<ctrlSeqBits)-1)) << shift
	shift += ctrlSeqBits
	if p.IsAck {
		w0 |= 1 << shift
	}
	shift++
	w0 |= uint64(p.Opcode&((1<<ctrlOpcodeBits)-1)) << shift
	shift += ctrlOpcodeBits
	w0 |= uint64(p.Status&((1<<ctrlStatusBits)-1)) << shift
	shift += ctrlStatusBits
	w0 |= uint64(p.Addr&((1<<ctrlAddrBits)-1)) << shift
	shift += ctrlAddrBits
	w0 |= uint64(p.ByteEnable&((1<<ctrlByteEnBits)-1)) << shift

	nWords := 2
	if p.HasTime {
		nWords++
	}
	nWords += (len(p.DataVtr) + 1) / 2

	buf := make([]byte, nWords*c.WordBytes())
	c.putLogicalWord(buf, 0, w0)
	w1 := uint64(p.SrcEPID) | uint64(len(p.DataVtr)&0x7)<<16
	c.putLogicalWord(buf, 1, w1)

	idx := 2
	if p.HasTime {
		c.putLogicalWord(buf, idx, p.Timestamp)
		idx++
	}
	for i := 0; i < len(p.DataVtr); i += 2 {
		var vw uint64
		vw = uint64(p.DataVtr[i])
		if i+1 < len(p.DataVtr) {
			vw |= uint64(p.DataVtr[i+1]) << 32
		}
		c.putLogicalWord(buf, idx, vw)
		idx++
	}

	return buf, nil
}

func (c *Codec) parseCtrl(buf []byte) (Payload, error) {
	word := c.WordBytes()
	if len(buf) < 2*word {
		return nil, newMalformed("parse", "ctrl_payload", fmt.Errorf("ctrl payload shorter than 2 words"))
	}
	w0 := c.getLogicalWord(buf, 0)
	w1 := c.getLogicalWord(buf, 1)
	dataVtrCount := int((w1 >> 16) & 0x7)

	p := CtrlPayload{SrcEPID: uint16(w1 & 0xFFFF)}
	shift := uint(0)
	p.DstPort = uint16((w0 >> shift) & ((1 << ctrlDstPortBits) - 1))
	shift += ctrlDstPortBits
	p.SrcPort = uint16((w0 >> shift) & ((1 << ctrlSrcPortBits) - 1))
	shift += ctrlSrcPortBits
	p.HasTime = (w0>>shift)&1 != 0
	shift++
	p.Seq = uint8((w0 >> shift) & ((1 << ctrlSeqBits) - 1))
	shift += ctrlSeqBits
	p.IsAck = (w0>>shift)&1 != 0
	shift++
	p.Opcode = CtrlOpcode((w0 >> shift) & ((1 << ctrlOpcodeBits) - 1))
	shift += ctrlOpcodeBits
	p.Status = CtrlStatus((w0 >> shift) & ((1 << ctrlStatusBits) - 1))
	shift += ctrlStatusBits
	p.Addr = uint16((w0 >> shift) & ((1 << ctrlAddrBits) - 1))
	shift += ctrlAddrBits
	p.ByteEnable = uint8((w0 >> shift) & ((1 << ctrlByteEnBits) - 1))

	idx := 2
	if p.HasTime {
		if len(buf) < (idx+1)*word {
			return nil, newMalformed("parse", "ctrl_payload", fmt.Errorf("ctrl payload missing timestamp word"))
		}
		p.Timestamp = c.getLogicalWord(buf, idx)
		idx++
	}

	for len(p.DataVtr) < dataVtrCount && (idx+1)*word <= len(buf) {
		vw := c.getLogicalWord(buf, idx)
		p.DataVtr = append(p.DataVtr, uint32(vw))
		if len(p.DataVtr) < dataVtrCount {
			p.DataVtr = append(p.DataVtr, uint32(vw>>32))
		}
		idx++
	}
	if len(p.DataVtr) > dataVtrCount {
		p.DataVtr = p.DataVtr[:dataVtrCount]
	}

	return p, nil
}

// --- strs ---
//
// word 0: src_epid(16) | status(8) | reserved(40)
// word 1: capacity_bytes(40) | capacity_pkts(24)
// word 2: xfer_count_bytes(64)
// word 3: xfer_count_pkts(40) | buff_info(16) | reserved(8)
// word 4: status_info(48) | reserved(16)

func (c *Codec) serializeStrs(p StrsPayload) ([]byte, error) {
	buf := make([]byte, 5*c.WordBytes())

	var w0 uint64
	w0 |= uint64(p.SrcEPID)
	w0 |= uint64(p.Status) << 16
	c.putLogicalWord(buf, 0, w0)

	var w1 uint64
	w1 |= p.CapacityBytes & ((1 << 40) - 1)
	w1 |= uint64(p.CapacityPkts&((1<<24)-1)) << 40
	c.putLogicalWord(buf, 1, w1)

	c.putLogicalWord(buf, 2, p.XferCountBytes)

	var w3 uint64
	w3 |= p.XferCountPkts & ((1 << 40) - 1)
	w3 |= uint64(p.BuffInfo) << 40
	c.putLogicalWord(buf, 3, w3)

	var w4 uint64
	w4 |= p.StatusInfo & ((1 << 48) - 1)
	c.putLogicalWord(buf, 4, w4)

	return buf, nil
}

func (c *Codec) parseStrs(buf []byte) (Payload, error) {
	if len(buf) < 5*c.WordBytes() {
		return nil, newMalformed("parse", "strs_payload", fmt.Errorf("strs payload shorter than 5 words"))
	}
	w0 := c.getLogicalWord(buf, 0)
	w1 := c.getLogicalWord(buf, 1)
	w2 := c.getLogicalWord(buf, 2)
	w3 := c.getLogicalWord(buf, 3)
	w4 := c.getLogicalWord(buf, 4)

	return StrsPayload{
		SrcEPID:        uint16(w0 & 0xFFFF),
		Status:         StrsStatus((w0 >> 16) & 0xFF),
		CapacityBytes:  w1 & ((1 << 40) - 1),
		CapacityPkts:   uint32((w1 >> 40) & ((1 << 24) - 1)),
		XferCountBytes: w2,
		XferCountPkts:  w3 & ((1 << 40) - 1),
		BuffInfo:       uint16((w3 >> 40) & 0xFFFF),
		StatusInfo:     w4 & ((1 << 48) - 1),
	}, nil
}

// --- strc ---
//
// word 0: src_epid(16) | opcode(8) | op_data(4) | reserved(36)
// word 1: num_pkts(40) | reserved(24)
// word 2: num_bytes(64)

func (c *Codec) serializeStrc(p StrcPayload) ([]byte, error) {
	buf := make([]byte, 3*c.WordBytes())

	var w0 uint64
	w0 |= uint64(p.SrcEPID)
	w0 |= uint64(p.Opcode) << 16
	w0 |= uint64(p.OpData&0xF) << 24
	c.putLogicalWord(buf, 0, w0)

	c.putLogicalWord(buf, 1, p.NumPkts&((1<<40)-1))
	c.putLogicalWord(buf, 2, p.NumBytes)

	return buf, nil
}

func (c *Codec) parseStrc(buf []byte) (Payload, error) {
	if len(buf) < 3*c.WordBytes() {
		return nil, newMalformed("parse", "strc_payload", fmt.Errorf("strc payload shorter than 3 words"))
	}
	w0 := c.getLogicalWord(buf, 0)
	w1 := c.getLogicalWord(buf, 1)
	w2 := c.getLogicalWord(buf, 2)

	return StrcPayload{
		SrcEPID:  uint16(w0 & 0xFFFF),
		Opcode:   StrcOpcode((w0 >> 16) & 0xFF),
		OpData:   uint8((w0 >> 24) & 0xF),
		NumPkts:  w1 & ((1 << 40) - 1),
		NumBytes: w2,
	}, nil
}
