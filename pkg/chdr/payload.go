package chdr

// CtrlOpcode enumerates the control payload's opcode field.
type CtrlOpcode uint8

const (
	OpSleep CtrlOpcode = iota
	OpWrite
	OpRead
	OpReadModifyWrite
	OpBlockWrite
	OpBlockRead
	OpPoll
	OpUser1
	OpUser2
	OpUser3
	OpUser4
	OpUser5
	OpUser6
)

// CtrlStatus enumerates the control payload's status field.
type CtrlStatus uint8

const (
	StatusOkay CtrlStatus = iota
	StatusCmdErr
	StatusTsErr
	StatusWarning
)

// maxCtrlDataWords is the largest data_vtr the wire format carries (spec §3).
const maxCtrlDataWords = 6

// CtrlPayload is the register-transaction payload (packet_type == ctrl).
type CtrlPayload struct {
	DstPort    uint16
	SrcPort    uint16
	HasTime    bool
	Seq        uint8
	IsAck      bool
	SrcEPID    uint16
	Addr       uint16
	DataVtr    []uint32
	ByteEnable uint8
	Opcode     CtrlOpcode
	Status     CtrlStatus
	Timestamp  uint64 // valid iff HasTime
}

// StrsStatus enumerates the stream-status payload's status field.
type StrsStatus uint8

const (
	StrsOkay StrsStatus = iota
	StrsCmdErr
	StrsSeqErr
	StrsDataErr
	StrsRtErr
)

// StrsPayload is the stream-status payload (packet_type == strs), sent by a
// device to report flow-control credit and transfer counts.
type StrsPayload struct {
	SrcEPID        uint16
	Status         StrsStatus
	CapacityBytes  uint64 // 40-bit field on the wire
	CapacityPkts   uint32 // 24-bit field on the wire
	XferCountBytes uint64
	XferCountPkts  uint64 // 40-bit field on the wire
	BuffInfo       uint16
	StatusInfo     uint64 // 48-bit field on the wire
}

// StrcOpcode enumerates the stream-control payload's opcode field.
type StrcOpcode uint8

const (
	StrcInit StrcOpcode = iota
	StrcPing
	StrcResync
)

// StrcPayload is the stream-control payload (packet_type == strc), sent by
// the host to (re)initialize or probe a device-side stream endpoint.
type StrcPayload struct {
	SrcEPID  uint16
	Opcode   StrcOpcode
	OpData   uint8 // 4-bit field on the wire
	NumPkts  uint64 // 40-bit field on the wire
	NumBytes uint64
}

// DataPayload carries opaque samples. When the packet's Header.PacketType is
// PacketDataWithTS, the 64-bit Timestamp is valid and is framed separately
// from Samples per the framing rules in header.go / codec.go.
type DataPayload struct {
	Timestamp  uint64
	HasTime    bool
	Samples    []byte
}

// Payload is implemented by every payload variant this codec understands.
// It exists purely as a marker so Packet.Payload can hold any of the four
// concrete types; callers type-switch on the concrete type to read fields.
type Payload interface {
	isPayload()
}

func (CtrlPayload) isPayload() {}
func (StrsPayload) isPayload() {}
func (StrcPayload) isPayload() {}
func (DataPayload) isPayload() {}
