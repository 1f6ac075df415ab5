package training

import "log/slog"

// Sink receives scalar metrics and diagnostic images from the Trainer.
// External trackers implement this; the core never depends on one.
type Sink interface {
	Record(key string, value float64)
	RecordImage(key string, png []byte)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(key string, value float64)   {}
func (NopSink) RecordImage(key string, png []byte) {}

// SlogSink logs scalar metrics at Info and image sizes at Debug.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s SlogSink) Record(key string, value float64) {
	s.logger().Info("metric", "key", key, "value", value)
}

func (s SlogSink) RecordImage(key string, png []byte) {
	s.logger().Debug("metric image", "key", key, "bytes", len(png))
}

// MemorySink keeps every record in order, for tests and notebooks.
type MemorySink struct {
	Scalars map[string][]float64
	Images  map[string][][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		Scalars: make(map[string][]float64),
		Images:  make(map[string][][]byte),
	}
}

func (s *MemorySink) Record(key string, value float64) {
	s.Scalars[key] = append(s.Scalars[key], value)
}

func (s *MemorySink) RecordImage(key string, png []byte) {
	s.Images[key] = append(s.Images[key], png)
}

// Last returns the most recent value recorded under key.
func (s *MemorySink) Last(key string) (float64, bool) {
	vs := s.Scalars[key]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}
