package controllers

import (
	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/ringbuf"
)

// Common request/response types for HTTP controllers

// pairJSON is a key/value pair with a hex encoded value.
type pairJSON struct {
	Key   uint16 `json:"key"`
	Value string `json:"value"`
}

// logEventReq represents a request to log an event. A missing timestamp
// stamps the event with the current time.
type logEventReq struct {
	Priority  uint8      `json:"priority"`
	EventID   uint16     `json:"eventId"`
	Timestamp *uint32    `json:"timestamp,omitempty"`
	ValueSize uint8      `json:"valueSize"`
	Pairs     []pairJSON `json:"pairs"`
	MarkSent  bool       `json:"markSent"`
}

type logEventResp struct {
	Action      string `json:"action"`
	ReadingType uint16 `json:"readingType"`
	Index       uint8  `json:"index"`
}

// headEndJSON is a head-end event as returned by queries.
type headEndJSON struct {
	EventID    uint16     `json:"eventId"`
	Timestamp  uint32     `json:"timestamp"`
	ValueSize  uint8      `json:"valueSize"`
	AlarmIndex uint8      `json:"alarmIndex"`
	Pairs      []pairJSON `json:"pairs"`
}

type queryResp struct {
	Status         string        `json:"status"`
	LastAlarmIndex uint8         `json:"lastAlarmIndex"`
	Events         []headEndJSON `json:"events"`
}

type getLogResp struct {
	Status         string                    `json:"status"`
	LastAlarmIndex uint8                     `json:"lastAlarmIndex"`
	Events         []headEndJSON             `json:"events"`
	Sent           []eventlog.SentDescriptor `json:"sent"`
}

type markSentResp struct {
	Processed int `json:"processed"`
}

// recordJSON is a stored record as listed by the dump endpoint.
type recordJSON struct {
	Offset    uint32     `json:"offset"`
	Size      uint16     `json:"size"`
	Index     uint8      `json:"index"`
	Priority  uint8      `json:"priority"`
	EventID   uint16     `json:"eventId"`
	Timestamp uint32     `json:"timestamp"`
	Sent      bool       `json:"sent"`
	ValueSize uint8      `json:"valueSize"`
	Pairs     []pairJSON `json:"pairs"`
}

type usageResp struct {
	High          ringbuf.Descriptor `json:"high"`
	Normal        ringbuf.Descriptor `json:"normal"`
	RealTimeIndex uint8              `json:"realTimeIndex"`
	NormalIndex   uint8              `json:"normalIndex"`
}

type paramReq struct {
	Value *uint8 `json:"value"`
}

type paramResp struct {
	Name  string `json:"name"`
	Value uint8  `json:"value"`
}
