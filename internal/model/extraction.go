package model

import "time"

// Confidence field names produced by the extraction engine.
const (
	FieldAmount    = "amount"
	FieldReference = "reference"
	FieldMethod    = "method"
	FieldTimestamp = "timestamp"
)

// Weights for combining field confidences into an overall score. Missing
// fields redistribute their weight across the fields that are present, so
// scores stay comparable across extractions that read different fields.
var confidenceWeights = map[string]float64{
	FieldAmount:    0.40,
	FieldReference: 0.35,
	FieldMethod:    0.15,
	FieldTimestamp: 0.10,
}

// ExtractedPayment is one OCR/vision reading of one payment screenshot.
// It is never ground truth on its own; it is persisted only as an audit
// trail attached to the event that produced it.
type ExtractedPayment struct {
	TimestampGuess    *time.Time
	FieldConfidences  map[string]float64
	Currency          string
	ReferenceText     string
	MethodGuess       string
	Amount            int64 // minor units
	OverallConfidence float64
}

// ComputeOverallConfidence derives the overall score from the per-field
// confidences using the fixed weight table. The result is deterministic and
// monotonic in every field confidence, which the matcher and the
// auto-approve threshold both rely on.
func (p *ExtractedPayment) ComputeOverallConfidence() float64 {
	var weighted, total float64
	for field, weight := range confidenceWeights {
		conf, ok := p.FieldConfidences[field]
		if !ok {
			continue
		}
		weighted += conf * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// ExtractionResult is the full output of one extraction engine invocation.
// An empty candidate list is a valid "nothing readable" result.
type ExtractionResult struct {
	Candidates      []ExtractedPayment
	Errors          []string
	EngineLatencyMs int64
}
