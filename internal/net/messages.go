// Package net implements the binary TCP wire protocol used to submit and
// cancel orders: manually byte-packed messages carrying string order and
// client ids, an int64 minor-unit price, and a variable-length symbol.
package net

import (
	"encoding/binary"
	"errors"

	"fenrir/internal/common"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
)

type ReportMessageType uint8

const (
	ExecutionReportMsg ReportMessageType = iota
	ErrorReportMsg
)

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < 2 {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

// NewOrderMessage wire layout: side(1) type(1) symbolLen(1) clientLen(1)
// price(8, int64 big-endian) quantity(8) symbol(n) client(n).
type NewOrderMessage struct {
	BaseMessage
	Side      common.Side
	Type      common.OrderType
	SymbolLen uint8
	ClientLen uint8
	Price     int64
	Quantity  uint64
	Symbol    string
	ClientID  string
}

const newOrderFixedLen = 1 + 1 + 1 + 1 + 8 + 8

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < newOrderFixedLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	m.Side = common.Side(msg[0])
	m.Type = common.OrderType(msg[1])
	m.SymbolLen = msg[2]
	m.ClientLen = msg[3]
	m.Price = int64(binary.BigEndian.Uint64(msg[4:12]))
	m.Quantity = binary.BigEndian.Uint64(msg[12:20])

	end := newOrderFixedLen + int(m.SymbolLen) + int(m.ClientLen)
	if len(msg) < end {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Symbol = string(msg[newOrderFixedLen : newOrderFixedLen+int(m.SymbolLen)])
	m.ClientID = string(msg[newOrderFixedLen+int(m.SymbolLen) : end])
	return m, nil
}

// Order builds a common.Order from the wire message, assigning a fresh
// order id.
func (m NewOrderMessage) Order() *common.Order {
	return &common.Order{
		OrderID:  uuid.New().String(),
		ClientID: m.ClientID,
		Symbol:   m.Symbol,
		Side:     m.Side,
		Type:     m.Type,
		Price:    m.Price,
		Quantity: m.Quantity,
		Status:   common.StatusNew,
	}
}

// CancelOrderMessage wire layout: symbolLen(1) orderIDLen(1) symbol(n)
// orderID(n).
type CancelOrderMessage struct {
	BaseMessage
	Symbol  string
	OrderID string
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < 2 {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	symbolLen := int(msg[0])
	orderIDLen := int(msg[1])
	end := 2 + symbolLen + orderIDLen
	if len(msg) < end {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	return CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		Symbol:      string(msg[2 : 2+symbolLen]),
		OrderID:     string(msg[2+symbolLen : end]),
	}, nil
}

// Report is sent back to a client in response to a submitted order or a
// cancel: one execution report per fill, a single zero-quantity execution
// report when an order produced no fill or a cancel succeeded, or an error
// report.
type Report struct {
	Type       ReportMessageType
	Side       common.Side
	Price      int64
	Quantity   uint64
	OrderIDLen uint16
	ErrLen     uint32
	OrderID    string
	Err        string
}

const reportFixedLen = 1 + 1 + 8 + 8 + 2 + 4

// Serialize packs the report for the wire. Price is only meaningful when
// Type == ExecutionReportMsg; an error report carries Price == 0, which is
// never confused with a real execution since callers gate on Type first.
func (r *Report) Serialize() []byte {
	total := reportFixedLen + len(r.OrderID) + len(r.Err)
	buf := make([]byte, total)
	buf[0] = byte(r.Type)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[10:18], r.Quantity)
	binary.BigEndian.PutUint16(buf[18:20], r.OrderIDLen)
	binary.BigEndian.PutUint32(buf[20:24], r.ErrLen)

	offset := reportFixedLen
	copy(buf[offset:], r.OrderID)
	offset += len(r.OrderID)
	copy(buf[offset:], r.Err)
	return buf
}

func executionReport(orderID string, side common.Side, price int64, qty uint64) []byte {
	r := Report{
		Type: ExecutionReportMsg, Side: side, Price: price, Quantity: qty,
		OrderID: orderID, OrderIDLen: uint16(len(orderID)),
	}
	return r.Serialize()
}

// ackReport acknowledges a cancel with no price/quantity payload.
func ackReport(orderID string) []byte {
	r := Report{Type: ExecutionReportMsg, OrderID: orderID, OrderIDLen: uint16(len(orderID))}
	return r.Serialize()
}

func errorReport(orderID string, err error) []byte {
	msg := err.Error()
	r := Report{
		Type: ErrorReportMsg, OrderID: orderID, OrderIDLen: uint16(len(orderID)),
		Err: msg, ErrLen: uint32(len(msg)),
	}
	return r.Serialize()
}

// ParseReport decodes a Report as sent by Serialize; used by clients
// reading responses off the wire (see cmd/simulator).
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		Type:     ReportMessageType(buf[0]),
		Side:     common.Side(buf[1]),
		Price:    int64(binary.BigEndian.Uint64(buf[2:10])),
		Quantity: binary.BigEndian.Uint64(buf[10:18]),
	}
	r.OrderIDLen = binary.BigEndian.Uint16(buf[18:20])
	r.ErrLen = binary.BigEndian.Uint32(buf[20:24])

	offset := reportFixedLen
	end := offset + int(r.OrderIDLen)
	if len(buf) < end {
		return Report{}, ErrMessageTooShort
	}
	r.OrderID = string(buf[offset:end])
	offset = end
	end = offset + int(r.ErrLen)
	if len(buf) < end {
		return Report{}, ErrMessageTooShort
	}
	r.Err = string(buf[offset:end])
	return r, nil
}
