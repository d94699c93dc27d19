package action

import (
	"context"
	"math"
	"sync"

	"github.com/ecmwf/multio/message"
)

// StatKind enumerates the reduction kinds from spec §4.3.
type StatKind int

const (
	StatMean StatKind = iota
	StatMin
	StatMax
	StatAccumulate
)

func StatKindFromString(s string) StatKind {
	switch s {
	case "min":
		return StatMin
	case "max":
		return StatMax
	case "accumulate":
		return StatAccumulate
	default:
		return StatMean
	}
}

// window is one fieldId's rolling accumulator.
type window struct {
	acc    []float64
	count  int
	prec   message.Precision
	sample message.Message
}

// Statistics maintains running accumulators keyed by fieldId with the step
// left out, and emits one reduced Field message per window at the first
// StepComplete after WindowLength Field messages have been accumulated into
// that window, then resets it (spec §4.3). Grounded on
// original_source/src/multio/action/Statistics.cc (the accumulate-then-
// emit-on-period-boundary flow) and original_source/src/multio/action/
// statistics/ for the mean/min/max/accumulate operator set.
type Statistics struct {
	Base
	Kind         StatKind
	WindowLength int // number of Field contributions per window

	mu      sync.Mutex
	windows map[string]*window
}

func NewStatistics(kind StatKind, windowLength int) *Statistics {
	if windowLength < 1 {
		windowLength = 1
	}
	return &Statistics{Kind: kind, WindowLength: windowLength, windows: make(map[string]*window)}
}

func (s *Statistics) String() string { return "Statistics" }

func (s *Statistics) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	switch msg.Tag {
	case message.TagField:
		return s.executeField(msg)
	case message.TagStepComplete:
		return s.executeStep(msg)
	default:
		return []message.Message{msg}, nil
	}
}

func decodeValues(payload []byte, prec message.Precision) []float64 {
	sz := prec.SizeOf()
	n := len(payload) / sz
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = decodeOne(payload[i*sz:i*sz+sz], prec)
	}
	return out
}

func decodeOne(b []byte, prec message.Precision) float64 {
	if prec == message.PrecisionSingle {
		var u uint32
		for i := 0; i < 4; i++ {
			u |= uint32(b[i]) << (8 * i)
		}
		return float64(math.Float32frombits(u))
	}
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(u)
}

func encodeValues(vals []float64, prec message.Precision) []byte {
	sz := prec.SizeOf()
	out := make([]byte, len(vals)*sz)
	for i, v := range vals {
		encodeOne(out[i*sz:i*sz+sz], v, prec)
	}
	return out
}

func encodeOne(b []byte, v float64, prec message.Precision) {
	if prec == message.PrecisionSingle {
		u := math.Float32bits(float32(v))
		for i := 0; i < 4; i++ {
			b[i] = byte(u >> (8 * i))
		}
		return
	}
	u := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func (s *Statistics) executeField(msg message.Message) ([]message.Message, error) {
	prec, err := msg.Precision()
	if err != nil {
		return nil, err
	}
	vals := decodeValues(msg.Payload, prec)

	s.mu.Lock()
	defer s.mu.Unlock()

	// windows span steps, so the step key must not split them
	keyMsg := msg
	keyMsg.Metadata = msg.Metadata.Clone()
	delete(keyMsg.Metadata, "step")
	fieldID := keyMsg.FieldID()
	w, ok := s.windows[fieldID]
	if !ok {
		w = &window{acc: make([]float64, len(vals)), prec: prec, sample: msg}
		if s.Kind == StatMin {
			for i := range w.acc {
				w.acc[i] = math.Inf(1)
			}
		} else if s.Kind == StatMax {
			for i := range w.acc {
				w.acc[i] = math.Inf(-1)
			}
		}
		s.windows[fieldID] = w
	}
	for i, v := range vals {
		if i >= len(w.acc) {
			break
		}
		switch s.Kind {
		case StatMin:
			if v < w.acc[i] {
				w.acc[i] = v
			}
		case StatMax:
			if v > w.acc[i] {
				w.acc[i] = v
			}
		default: // Mean, Accumulate
			w.acc[i] += v
		}
	}
	w.count++
	w.sample = msg
	return nil, nil // consumed; emission happens on StepComplete
}

func (s *Statistics) executeStep(msg message.Message) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []message.Message
	for fieldID, w := range s.windows {
		if w.count < s.WindowLength {
			continue
		}
		result := make([]float64, len(w.acc))
		copy(result, w.acc)
		if s.Kind == StatMean && w.count > 0 {
			for i := range result {
				result[i] /= float64(w.count)
			}
		}
		payload := encodeValues(result, w.prec)
		md := w.sample.Metadata.Clone()
		out = append(out, message.New(message.TagField, w.sample.Source, w.sample.Destination, md, payload, w.sample.GlobalSize()))
		delete(s.windows, fieldID)
	}
	out = append(out, msg)
	return out, nil
}
