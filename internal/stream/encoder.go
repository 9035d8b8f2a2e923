package stream

import (
	"context"
	"encoding/json"
	"time"

	"blackbird-libvirtd/internal/model"
)

// Sink delivers record batches to the monitoring server.
type Sink interface {
	SendRecords(ctx context.Context, records []model.Record) error
	Close(ctx context.Context) error
}

type RecordFrame struct {
	Host          string         `json:"host"`
	TimestampUnix int64          `json:"timestamp_unix"`
	Records       []model.Record `json:"records"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewRecordFrame(records []model.Record) RecordFrame {
	host := ""
	at := time.Now().UTC().Unix()
	if len(records) > 0 {
		host = records[0].Host
		at = records[0].Clock
	}
	return RecordFrame{Host: host, TimestampUnix: at, Records: records}
}

func NewRecordEnvelope(records []model.Record) model.Envelope {
	frame := NewRecordFrame(records)
	return model.Envelope{
		Type:          model.MetricTypeRecords,
		Host:          frame.Host,
		TimestampUnix: frame.TimestampUnix,
		Payload:       frame,
	}
}
