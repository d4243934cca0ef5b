package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var flatPool = buffer.NewPool()

// FlatEncoder writes each entry as one flat JSON object: the entry metadata and
// every field share the top level, which is what log shippers index best.
type FlatEncoder struct {
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewFlatEncoder creates a flat JSON encoder
func NewFlatEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &FlatEncoder{
		Encoder: zapcore.NewJSONEncoder(config),
		config:  config,
	}
}

// EncodeEntry encodes a log entry as a single flat object
func (e *FlatEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	obj := map[string]interface{}{
		"ts":    entry.Time.UTC().Format(time.RFC3339Nano),
		"level": entry.Level.String(),
		"msg":   entry.Message,
	}
	if entry.LoggerName != "" {
		obj["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		obj["caller"] = entry.Caller.TrimmedPath()
	}
	if entry.Stack != "" {
		obj["stack"] = entry.Stack
	}

	// Let zap resolve the field values, then lift them to the top level.
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	for k, v := range enc.Fields {
		if _, reserved := obj[k]; reserved {
			k = "field." + k
		}
		obj[k] = v
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	buf := flatPool.Get()
	buf.AppendBytes(data)
	buf.AppendString(zapcore.DefaultLineEnding)
	return buf, nil
}

// Clone creates a copy of the encoder
func (e *FlatEncoder) Clone() zapcore.Encoder {
	return &FlatEncoder{
		Encoder: e.Encoder.Clone(),
		config:  e.config,
	}
}
