package model

import (
	"strings"
	"time"
)

// Record is a single measurement handed to the sink. It is never mutated after
// NewRecord returns.
type Record struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Host  string `json:"host"`
	Clock int64  `json:"clock"`
}

func NewRecord(key string, value any, host string, at time.Time) Record {
	return Record{Key: key, Value: value, Host: host, Clock: at.Unix()}
}

// Key joins non-empty parts with dots: Key("libvirtd", "vm", "running", "number").
func Key(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
