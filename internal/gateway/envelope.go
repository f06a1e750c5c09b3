package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope channels.
const (
	ChannelSnapshot = "snapshot" // sent once on connect
	ChannelCandle   = "candle"
	ChannelEvent    = "event"
	ChannelStatus   = "status"
	ChannelOutcome  = "outcome"
	ChannelMetrics  = "metrics"
	ChannelPong     = "pong"
	ChannelError    = "error"
)

// Snapshot is the payload of the first message a client receives.
type Snapshot struct {
	Candles []json.RawMessage `json:"candles"`
	Status  any               `json:"status"`
}

// OutcomeReply answers a command message.
type OutcomeReply struct {
	ReqID    string `json:"req_id,omitempty"`
	Command  string `json:"command"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// buildEnvelope hand-crafts {"channel":...,"data":...,"ts":"...","seq":N}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// marshalEnvelope JSON-encodes v and wraps it.
func marshalEnvelope(channel string, v any, now time.Time, seq int64) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
		channel = ChannelError
	}
	return buildEnvelope(channel, data, now, seq)
}
