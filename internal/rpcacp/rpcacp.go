// Package rpcacp implements the synchronous/asynchronous RPC layer: calls
// correlate by an 8-bit nonce, the first frame of an exchange carries a
// header and CRC16, and continuation frames carry pure stuffed payload.
package rpcacp

import (
	"time"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/core"
	"github.com/artie-robotics/can-stack/internal/crc"
	"github.com/artie-robotics/can-stack/internal/frame"
	"github.com/artie-robotics/can-stack/internal/metrics"
	"github.com/artie-robotics/can-stack/internal/stuffing"
)

// Kind is the four-bit frame-kind field.
type Kind uint8

const (
	KindACK         Kind = 0
	KindNACK        Kind = 1
	KindStartRPC    Kind = 2
	KindStartReturn Kind = 3
	KindTxData      Kind = 4
	KindRxData      Kind = 5
)

// responseWindow is the wait for an ACK/NACK to a call, per spec.md §4.9.
const responseWindow = 30 * time.Millisecond

// MaxProcID is the largest legal seven-bit procedure id.
const MaxProcID = 0x7F

const (
	kindShift   = 22
	prioShift   = 20
	senderShift = 14
	targetShift = 8
)

func packID(kind Kind, priority frame.Priority, sender, target frame.Address, nonce uint8) uint32 {
	id := uint32(frame.ClassRPCACP) << 26
	id |= uint32(kind) << kindShift
	id |= uint32(priority) << prioShift
	id |= uint32(sender) << senderShift
	id |= uint32(target) << targetShift
	id |= uint32(nonce)
	return id
}

func unpackID(id uint32) (kind Kind, priority frame.Priority, sender, target frame.Address, nonce uint8, ok bool) {
	class, classOK := frame.GetProtocol(id)
	if !classOK || class != frame.ClassRPCACP {
		return 0, 0, 0, 0, 0, false
	}
	kind = Kind((id >> kindShift) & 0xF)
	priority = frame.Priority((id >> prioShift) & 0x3)
	sender = frame.Address((id >> senderShift) & 0x3F)
	target = frame.Address((id >> targetShift) & 0x3F)
	nonce = uint8(id & 0xFF)
	return kind, priority, sender, target, nonce, true
}

// header packs the synchronous flag and seven-bit procedure id.
func header(synchronous bool, procID uint8) uint8 {
	h := procID & 0x7F
	if synchronous {
		h |= 0x80
	}
	return h
}

func unpackHeader(h uint8) (synchronous bool, procID uint8) {
	return h&0x80 != 0, h & 0x7F
}

// Layer is RPCACP bound to a context. Each Layer owns a small LCG used to
// generate non-zero nonces; cryptographic quality is not required, only
// collision-resistance across this sender's own concurrent exchanges.
type Layer struct {
	ctx *core.Context
	lcg uint32
}

// New seeds the nonce generator from the current time so that two Layers
// constructed back to back don't echo the same sequence.
func New(ctx *core.Context) *Layer {
	return &Layer{ctx: ctx, lcg: uint32(time.Now().UnixNano()) | 1}
}

func (l *Layer) nextNonce() uint8 {
	for {
		l.lcg = l.lcg*1664525 + 1013904223
		n := uint8(l.lcg >> 24)
		if n != 0 {
			return n
		}
	}
}

// Call forbids a broadcast target, stuffs payload, frames a StartRPC (and
// any needed TxData continuations), and waits up to responseWindow for an
// ACK or NACK bearing the returned nonce. A NACK surfaces as a
// *backend.NackError.
func (l *Layer) Call(target frame.Address, priority frame.Priority, synchronous bool, procID uint8, payload []byte) (uint8, error) {
	if target == frame.Broadcast {
		return 0, backend.ErrInvalidArgument
	}
	if procID > MaxProcID {
		return 0, backend.ErrInvalidArgument
	}
	if len(payload) > stuffing.MaxPayloadLen {
		return 0, backend.ErrInvalidArgument
	}

	var stuffedBuf [stuffing.MaxStuffedLen]byte
	n, err := stuffing.Stuff(stuffedBuf[:], payload)
	if err != nil {
		return 0, err
	}
	stuffed := stuffedBuf[:n]

	h := header(synchronous, procID)
	var crcBuf [1 + stuffing.MaxStuffedLen]byte
	crcBuf[0] = h
	copy(crcBuf[1:], stuffed)
	sum := crc.CRC16(crcBuf[:1+n])

	nonce := l.nextNonce()

	const firstFrameHeaderLen = 3
	firstCap := frame.MaxDataLen - firstFrameHeaderLen
	firstChunk := stuffed
	if len(firstChunk) > firstCap {
		firstChunk = stuffed[:firstCap]
	}
	var firstPayload [frame.MaxDataLen]byte
	firstPayload[0] = h
	firstPayload[1] = byte(sum >> 8)
	firstPayload[2] = byte(sum)
	copy(firstPayload[3:], firstChunk)

	var startFr frame.Frame
	startFr.Extended = true
	startFr.ID = packID(KindStartRPC, priority, l.ctx.Address(), target, nonce)
	if err := startFr.SetPayload(firstPayload[:firstFrameHeaderLen+len(firstChunk)]); err != nil {
		return 0, err
	}
	if err := l.ctx.Send(startFr); err != nil {
		return 0, err
	}

	offset := len(firstChunk)
	for offset < len(stuffed) {
		chunk := stuffed[offset:]
		if len(chunk) > frame.MaxDataLen {
			chunk = chunk[:frame.MaxDataLen]
		}
		var txFr frame.Frame
		txFr.Extended = true
		txFr.ID = packID(KindTxData, priority, l.ctx.Address(), target, nonce)
		if err := txFr.SetPayload(chunk); err != nil {
			return 0, err
		}
		if err := l.ctx.Send(txFr); err != nil {
			return 0, err
		}
		offset += len(chunk)
	}
	metrics.IncRPCACPCall()

	deadline := time.Now().Add(responseWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.IncRPCACPTimeout()
			return nonce, backend.ErrTimeout
		}
		in, err := l.ctx.Receive(remaining)
		if err != nil {
			if err == backend.ErrTimeout {
				metrics.IncRPCACPTimeout()
			}
			return nonce, err
		}
		kind, _, _, _, inNonce, ok := unpackID(in.ID)
		if !ok || inNonce != nonce {
			continue
		}
		switch kind {
		case KindACK:
			return nonce, nil
		case KindNACK:
			metrics.IncRPCACPNack()
			code := uint8(0)
			if in.Len > 0 {
				code = in.Data[0]
			}
			return nonce, &backend.NackError{Code: code}
		default:
			return nonce, backend.ErrProtocolMismatch
		}
	}
}

// WaitResponse consumes frames until a StartReturn carrying nonce arrives,
// then collects RxData continuations until the stuffed stream terminates,
// unstuffing the result.
func (l *Layer) WaitResponse(nonce uint8, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var raw [1 + stuffing.MaxStuffedLen]byte
	rawLen := 0
	started := false

	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, backend.ErrTimeout
			}
		}
		in, err := l.ctx.Receive(remaining)
		if err != nil {
			return nil, err
		}
		kind, _, _, _, inNonce, ok := unpackID(in.ID)
		if !ok || inNonce != nonce {
			continue
		}
		switch {
		case kind == KindStartReturn && !started:
			started = true
			payload := in.Payload()
			if len(payload) < 3 {
				return nil, backend.ErrInvalidFrame
			}
			rawLen = copy(raw[:], payload[3:])
		case kind == KindRxData && started:
			rawLen += copy(raw[rawLen:], in.Payload())
		default:
			continue
		}

		var out [stuffing.MaxPayloadLen]byte
		n, uerr := stuffing.Unstuff(out[:], raw[:rawLen])
		if uerr != nil {
			continue // terminator not seen yet; keep collecting
		}
		return append([]byte(nil), out[:n]...), nil
	}
}

// Respond is symmetric to Call, framing a StartReturn (and RxData
// continuations) carrying payload back to target under the given nonce.
// procID travels in the StartReturn header byte exactly as it does on
// StartRPC; the synchronous flag is always clear here since only the
// initiating Call ever waits synchronously on it.
func (l *Layer) Respond(target frame.Address, priority frame.Priority, procID uint8, nonce uint8, payload []byte) error {
	if procID > MaxProcID {
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

	h := header(false, procID)
	var crcBuf [1 + stuffing.MaxStuffedLen]byte
	crcBuf[0] = h
	copy(crcBuf[1:], stuffed)
	sum := crc.CRC16(crcBuf[:1+n])

	const firstFrameHeaderLen = 3
	firstCap := frame.MaxDataLen - firstFrameHeaderLen
	firstChunk := stuffed
	if len(firstChunk) > firstCap {
		firstChunk = stuffed[:firstCap]
	}
	var firstPayload [frame.MaxDataLen]byte
	firstPayload[0] = h
	firstPayload[1] = byte(sum >> 8)
	firstPayload[2] = byte(sum)
	copy(firstPayload[3:], firstChunk)

	var startFr frame.Frame
	startFr.Extended = true
	startFr.ID = packID(KindStartReturn, priority, l.ctx.Address(), target, nonce)
	if err := startFr.SetPayload(firstPayload[:firstFrameHeaderLen+len(firstChunk)]); err != nil {
		return err
	}
	if err := l.ctx.Send(startFr); err != nil {
		return err
	}

	offset := len(firstChunk)
	for offset < len(stuffed) {
		chunk := stuffed[offset:]
		if len(chunk) > frame.MaxDataLen {
			chunk = chunk[:frame.MaxDataLen]
		}
		var rxFr frame.Frame
		rxFr.Extended = true
		rxFr.ID = packID(KindRxData, priority, l.ctx.Address(), target, nonce)
		if err := rxFr.SetPayload(chunk); err != nil {
			return err
		}
		if err := l.ctx.Send(rxFr); err != nil {
			return err
		}
		offset += len(chunk)
	}
	return nil
}

// SendAck emits a zero-byte ACK frame carrying nonce.
func (l *Layer) SendAck(target frame.Address, priority frame.Priority, nonce uint8) error {
	var fr frame.Frame
	fr.Extended = true
	fr.ID = packID(KindACK, priority, l.ctx.Address(), target, nonce)
	return l.ctx.Send(fr)
}

// SendNack emits a one-byte NACK frame carrying nonce and an errno-style
// code.
func (l *Layer) SendNack(target frame.Address, priority frame.Priority, nonce uint8, code uint8) error {
	var fr frame.Frame
	fr.Extended = true
	fr.ID = packID(KindNACK, priority, l.ctx.Address(), target, nonce)
	if err := fr.SetPayload([]byte{code}); err != nil {
		return err
	}
	return l.ctx.Send(fr)
}
