// Package rtacp implements the real-time unicast/broadcast messaging layer:
// short payloads carried verbatim (no stuffing, no CRC beyond the CAN
// native CRC), with an optional one-window ACK wait on unicast sends.
package rtacp

import (
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/metrics"
)

// Kind is the one-bit frame-kind field: ACK or MSG.
type Kind uint8

const (
	KindACK Kind = 0
	KindMSG Kind = 1
)

// ackWindow is the single ACK-wait window per spec: "wait one 1ms window
// then fail" (resolved open question, see SPEC_FULL.md).
const ackWindow = time.Millisecond

const (
	kindShift   = 24
	prioShift   = 22
	senderShift = 16
	targetShift = 10
	allOnes     = 0x3FF
)

// Msg is a decoded RTACP message.
type Msg struct {
	Sender   frame.Address
	Target   frame.Address
	Priority frame.Priority
	Payload  []byte
}

// packID builds an RTACP identifier. The all-ones trailer occupies the low
// 10 bits; bit 25, immediately above the 3-bit protocol class, is always
// zero, matching the wire layout verbatim.
func packID(kind Kind, priority frame.Priority, sender, target frame.Address) uint32 {
	id := uint32(frame.ClassRTACP) << 26
	id |= uint32(kind) << kindShift
	id |= uint32(priority) << prioShift
	id |= uint32(sender) << senderShift
	id |= uint32(target) << targetShift
	id |= allOnes
	return id
}

// unpackID decodes an RTACP identifier. ok is false if id's top 3 bits are
// not the RTACP class.
func unpackID(id uint32) (kind Kind, priority frame.Priority, sender, target frame.Address, ok bool) {
	class, classOK := frame.GetProtocol(id)
	if !classOK || class != frame.ClassRTACP {
		return 0, 0, 0, 0, false
	}
	kind = Kind((id >> kindShift) & 0x1)
	priority = frame.Priority((id >> prioShift) & 0x3)
	sender = frame.Address((id >> senderShift) & 0x3F)
	target = frame.Address((id >> targetShift) & 0x3F)
	return kind, priority, sender, target, true
}

// Layer is RTACP bound to a context's backend and node address.
type Layer struct {
	ctx *core.Context
}

// New wraps ctx with the RTACP operations.
func New(ctx *core.Context) *Layer { return &Layer{ctx: ctx} }

// Send packs msg as a MSG frame and hands it to the backend. If the target
// is not broadcast, waitAck is true, and this is a MSG frame, Send blocks
// up to one ackWindow for a matching ACK: same sender/target swapped and
// identical payload. Non-matching frames observed during the wait are
// discarded. Broadcast sends ignore waitAck entirely.
func (l *Layer) Send(msg Msg, waitAck bool) error {
	if msg.Target != frame.Broadcast && len(msg.Payload) > frame.MaxDataLen {
		return backend.ErrInvalidArgument
	}
	id := packID(KindMSG, msg.Priority, l.ctx.Address(), msg.Target)
	var fr frame.Frame
	fr.Extended = true
	fr.ID = id
	if err := fr.SetPayload(msg.Payload); err != nil {
		return err
	}
	if err := l.ctx.Send(fr); err != nil {
		return err
	}
	metrics.IncRTACPSent()

	if msg.Target == frame.Broadcast || !waitAck {
		return nil
	}

	deadline := time.Now().Add(ackWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.IncRTACPAckTimeout()
			return backend.ErrTimeout
		}
		in, err := l.ctx.Receive(remaining)
		if err != nil {
			if err == backend.ErrTimeout {
				metrics.IncRTACPAckTimeout()
			}
			return err
		}
		kind, _, sender, target, ok := unpackID(in.ID)
		if !ok || kind != KindACK {
			continue
		}
		if sender != msg.Target || target != l.ctx.Address() {
			continue
		}
		if string(in.Payload()) != string(msg.Payload) {
			continue
		}
		return nil
	}
}

// Receive drains frames until one with RTACP protocol class arrives. A
// MSG frame targeted at this node induces a synthesized ACK (same
// priority and payload, sender/target swapped) before the decoded message
// is returned; broadcast MSGs are delivered without one. Bare ACK frames
// observed here (outside a Send's own wait) are not part of any pending
// exchange and are discarded.
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
		kind, priority, sender, target, ok := unpackID(fr.ID)
		if !ok {
			continue
		}
		if kind != KindMSG {
			continue
		}
		metrics.IncRTACPReceived()
		payload := append([]byte(nil), fr.Payload()...)
		msg := Msg{Sender: sender, Target: target, Priority: priority, Payload: payload}

		if target != frame.Broadcast && target == l.ctx.Address() {
			ackID := packID(KindACK, priority, l.ctx.Address(), sender)
			var ack frame.Frame
			ack.Extended = true
			ack.ID = ackID
			if err := ack.SetPayload(payload); err != nil {
				return Msg{}, err
			}
			if err := l.ctx.Send(ack); err != nil {
				return Msg{}, err
			}
			metrics.IncRTACPSent()
		}
		return msg, nil
	}
}
