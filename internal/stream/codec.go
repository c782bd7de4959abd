package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/clipforge/streamhub/internal/domain/event"
)

// wireEnvelope tags a compressed payload so the receiver can decide whether
// and how to decompress. Raw events are sent without the envelope.
type wireEnvelope struct {
	Compressed       bool   `json:"compressed"`
	OriginalSize     int    `json:"original_size"`
	CompressionLevel int    `json:"compression_level"`
	Data             string `json:"data"`
}

// CodecStats aggregates the codec's running statistics. Ratio is
// original/compressed over compressed messages only.
type CodecStats struct {
	MessagesEncoded    uint64  `json:"messages_encoded"`
	MessagesCompressed uint64  `json:"messages_compressed"`
	Fallbacks          uint64  `json:"fallbacks"`
	BytesOriginal      uint64  `json:"bytes_original"`
	BytesCompressed    uint64  `json:"bytes_compressed"`
	AvgRatio           float64 `json:"avg_ratio"`
	LastRatio          float64 `json:"last_ratio"`
	AvgProcessingUs    float64 `json:"avg_processing_us"`
}

// Codec serializes events and compresses large payloads. Encode never fails:
// any serialization or compression error falls back to the plain form, so a
// compression problem can never block delivery.
type Codec struct {
	threshold int
	level     int
	logger    *slog.Logger

	mu            sync.Mutex
	stats         CodecStats
	totalProcess  time.Duration
	ratioSum      float64
	processedMsgs uint64
}

// NewCodec creates a codec that compresses serialized events larger than
// threshold bytes at the given gzip level (1 fast to 9 best).
func NewCodec(threshold, level int, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{threshold: threshold, level: level, logger: logger}
}

// Encode serializes ev to compact JSON and, when the result exceeds the
// threshold, compresses it into a tagged envelope. The second return value
// reports whether the envelope form was used.
func (c *Codec) Encode(ev event.Event) ([]byte, bool) {
	start := time.Now()

	raw, err := json.Marshal(ev)
	if err != nil {
		// An event that cannot be serialized at all still must not block
		// delivery; emit the bare type with a null payload.
		c.logger.Warn("event serialization failed", "type", string(ev.Type), "error", err)
		raw, _ = json.Marshal(event.Event{Type: ev.Type, Timestamp: ev.Timestamp})
		c.record(len(raw), 0, false, true, time.Since(start))
		return raw, false
	}

	if len(raw) <= c.threshold {
		c.record(len(raw), 0, false, false, time.Since(start))
		return raw, false
	}

	compressed, err := c.compress(raw)
	if err != nil {
		c.logger.Warn("compression failed, sending uncompressed",
			"type", string(ev.Type), "size", len(raw), "error", err)
		c.record(len(raw), 0, false, true, time.Since(start))
		return raw, false
	}

	env := wireEnvelope{
		Compressed:       true,
		OriginalSize:     len(raw),
		CompressionLevel: c.level,
		Data:             base64.StdEncoding.EncodeToString(compressed),
	}
	wire, err := json.Marshal(env)
	if err != nil {
		c.record(len(raw), 0, false, true, time.Since(start))
		return raw, false
	}

	c.record(len(raw), len(compressed), true, false, time.Since(start))
	return wire, true
}

// Decode is the exact inverse of Encode: it detects the envelope tag,
// decompresses when present, and otherwise parses directly. Corrupt envelope
// contents fall back to a best-effort direct parse.
func (c *Codec) Decode(wire []byte) (event.Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(wire, &env); err == nil && env.Compressed {
		raw, err := c.decompress(env.Data)
		if err == nil {
			var ev event.Event
			if err := json.Unmarshal(raw, &ev); err == nil {
				return ev, nil
			}
		}
		c.logger.Warn("envelope decode failed, trying direct parse", "error", err)
	}

	var ev event.Event
	if err := json.Unmarshal(wire, &ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func (c *Codec) compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) decompress(data string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (c *Codec) record(original, compressed int, didCompress, fallback bool, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.MessagesEncoded++
	c.stats.BytesOriginal += uint64(original)
	c.totalProcess += took
	c.processedMsgs++
	if fallback {
		c.stats.Fallbacks++
	}
	if didCompress {
		c.stats.MessagesCompressed++
		c.stats.BytesCompressed += uint64(compressed)
		ratio := float64(original) / float64(compressed)
		c.stats.LastRatio = ratio
		c.ratioSum += ratio
	}
}

// Stats returns a snapshot of the codec's aggregate statistics.
func (c *Codec) Stats() CodecStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.stats
	if c.stats.MessagesCompressed > 0 {
		out.AvgRatio = c.ratioSum / float64(c.stats.MessagesCompressed)
	}
	if c.processedMsgs > 0 {
		out.AvgProcessingUs = float64(c.totalProcess.Microseconds()) / float64(c.processedMsgs)
	}
	return out
}
