// Package psacp implements the topic-addressed pub/sub layer at two
// protocol-priority tiers. Subscription filtering is the caller's
// concern; this layer only frames, reassembles, and CRC-checks publishes.
package psacp

import (
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/crc"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/metrics"
	"github.com/artie-robotics/can-stack/internal/reassembly"
	"github.com/artie-robotics/can-stack/internal/stuffing"
)

// Kind is the four-bit frame-kind field.
type Kind uint8

const (
	KindPub  Kind = 1
	KindData Kind = 3
)

const (
	kindShift   = 22
	prioShift   = 20
	senderShift = 14
	topicShift  = 6
	allOnes     = 0x3F
)

// TopicBroadcast is the reserved all-subscribers topic.
const TopicBroadcast = 0x00

// Normal topics span 0x0B-0xF4; everything else is reserved.
const (
	topicNormalLo = 0x0B
	topicNormalHi = 0xF4
)

// ValidTopic reports whether topic is broadcast or in the normal range.
func ValidTopic(topic uint8) bool {
	return topic == TopicBroadcast || (topic >= topicNormalLo && topic <= topicNormalHi)
}

func packID(class frame.Class, kind Kind, priority frame.Priority, sender frame.Address, topic uint8) uint32 {
	id := uint32(class) << 26
	id |= uint32(kind) << kindShift
	id |= uint32(priority) << prioShift
	id |= uint32(sender) << senderShift
	id |= uint32(topic) << topicShift
	id |= allOnes
	return id
}

func unpackID(id uint32) (class frame.Class, kind Kind, priority frame.Priority, sender frame.Address, topic uint8, ok bool) {
	class, classOK := frame.GetProtocol(id)
	if !classOK || (class != frame.ClassPSACPHi && class != frame.ClassPSACPLo) {
		return 0, 0, 0, 0, 0, false
	}
	kind = Kind((id >> kindShift) & 0xF)
	priority = frame.Priority((id >> prioShift) & 0x3)
	sender = frame.Address((id >> senderShift) & 0x3F)
	topic = uint8((id >> topicShift) & 0xFF)
	return class, kind, priority, sender, topic, true
}

type streamKey struct {
	Sender frame.Address
	Topic  uint8
}

type stream struct {
	priority frame.Priority
	crc      uint16
	raw      []byte
}

// Layer is PSACP bound to a context, with a bounded per-(sender,topic)
// reassembly table generalized from the teacher's bounded client map.
type Layer struct {
	ctx   *core.Context
	table *reassembly.Table[streamKey, *stream]
}

// New constructs a Layer with the default reassembly table capacity.
func New(ctx *core.Context) *Layer {
	return &Layer{ctx: ctx, table: reassembly.New[streamKey, *stream](0)}
}

// Publish stuffs payload, computes its CRC16, and emits a PUB frame
// followed by as many DATA continuation frames as needed.
func (l *Layer) Publish(topic uint8, priority frame.Priority, highPriority bool, payload []byte) error {
	if !ValidTopic(topic) {
		return backend.ErrInvalidArgument
	}
	if len(payload) > stuffing.MaxPayloadLen {
		return backend.ErrInvalidArgument
	}

	var stuffedBuf [stuffing.MaxStuffedLen]byte
	n, err := stuffing.Stuff(stuffedBuf[:], payload)
	if err != nil {
		return err
	}
	stuffed := stuffedBuf[:n]
	sum := crc.CRC16(stuffed)

	class := frame.ClassPSACPLo
	if highPriority {
		class = frame.ClassPSACPHi
	}

	const firstFrameHeaderLen = 2
	firstCap := frame.MaxDataLen - firstFrameHeaderLen
	firstChunk := stuffed
	if len(firstChunk) > firstCap {
		firstChunk = stuffed[:firstCap]
	}
	var firstPayload [frame.MaxDataLen]byte
	firstPayload[0] = byte(sum >> 8)
	firstPayload[1] = byte(sum)
	copy(firstPayload[2:], firstChunk)

	var pubFr frame.Frame
	pubFr.Extended = true
	pubFr.ID = packID(class, KindPub, priority, l.ctx.Address(), topic)
	if err := pubFr.SetPayload(firstPayload[:firstFrameHeaderLen+len(firstChunk)]); err != nil {
		return err
	}
	if err := l.ctx.Send(pubFr); err != nil {
		return err
	}

	offset := len(firstChunk)
	for offset < len(stuffed) {
		chunk := stuffed[offset:]
		if len(chunk) > frame.MaxDataLen {
			chunk = chunk[:frame.MaxDataLen]
		}
		var dataFr frame.Frame
		dataFr.Extended = true
		dataFr.ID = packID(class, KindData, priority, l.ctx.Address(), topic)
		if err := dataFr.SetPayload(chunk); err != nil {
			return err
		}
		if err := l.ctx.Send(dataFr); err != nil {
			return err
		}
		offset += len(chunk)
	}
	metrics.IncPSACPPublish()
	return nil
}

// Msg is a reassembled publish.
type Msg struct {
	Sender   frame.Address
	Topic    uint8
	Priority frame.Priority
	Payload  []byte
}

// Receive accepts frames of either PSACP class, accumulating PUB+DATA
// frames sharing sender+topic until the stuffed stream closes, then
// unstuffs and verifies the CRC. A CRC mismatch discards the message and
// is reported to the caller rather than retried internally.
func (l *Layer) Receive(timeout time.Duration) (Msg, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return Msg{}, backend.ErrTimeout
			}
		}
		fr, err := l.ctx.Receive(remaining)
		if err != nil {
			return Msg{}, err
		}
		_, kind, priority, sender, topic, ok := unpackID(fr.ID)
		if !ok {
			continue
		}
		key := streamKey{Sender: sender, Topic: topic}

		switch kind {
		case KindPub:
			payload := fr.Payload()
			if len(payload) < 2 {
				continue
			}
			st := &stream{
				priority: priority,
				crc:      uint16(payload[0])<<8 | uint16(payload[1]),
				raw:      append([]byte(nil), payload[2:]...),
			}
			if err := l.table.Put(key, st); err != nil {
				metrics.IncReassemblyOverflow()
				continue
			}
		case KindData:
			st, exists := l.table.Get(key)
			if !exists {
				continue
			}
			st.raw = append(st.raw, fr.Payload()...)
		default:
			continue
		}

		st, exists := l.table.Get(key)
		if !exists {
			continue
		}
		var out [stuffing.MaxPayloadLen]byte
		consumed, n, uerr := stuffing.Scan(out[:], st.raw)
		if uerr != nil {
			continue // terminator not seen yet; keep collecting
		}
		l.table.Delete(key)
		if crc.CRC16(st.raw[:consumed]) != st.crc {
			metrics.IncPSACPCrcError()
			return Msg{}, backend.ErrCrcMismatch
		}
		return Msg{
			Sender:   sender,
			Topic:    topic,
			Priority: st.priority,
			Payload:  append([]byte(nil), out[:n]...),
		}, nil
	}
}
