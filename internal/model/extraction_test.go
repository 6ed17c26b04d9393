package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeOverallConfidence(t *testing.T) {
	tests := []struct {
		fields map[string]float64
		name   string
		want   float64
	}{
		{
			name: "all fields present",
			fields: map[string]float64{
				FieldAmount:    1.0,
				FieldReference: 1.0,
				FieldMethod:    1.0,
				FieldTimestamp: 1.0,
			},
			want: 1.0,
		},
		{
			name: "weighted combination",
			fields: map[string]float64{
				FieldAmount:    1.0, // 0.40
				FieldReference: 0.0, // 0.35
				FieldMethod:    1.0, // 0.15
				FieldTimestamp: 0.0, // 0.10
			},
			want: 0.55,
		},
		{
			name: "missing fields redistribute weight",
			fields: map[string]float64{
				FieldAmount:    0.8,
				FieldReference: 0.8,
			},
			want: 0.8,
		},
		{
			name:   "no fields read",
			fields: map[string]float64{},
			want:   0,
		},
		{
			name:   "nil map",
			fields: nil,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ExtractedPayment{FieldConfidences: tt.fields}
			assert.InDelta(t, tt.want, p.ComputeOverallConfidence(), 1e-9)
		})
	}
}

func TestComputeOverallConfidence_Deterministic(t *testing.T) {
	p := ExtractedPayment{FieldConfidences: map[string]float64{
		FieldAmount:    0.97,
		FieldReference: 0.91,
		FieldTimestamp: 0.5,
	}}
	first := p.ComputeOverallConfidence()
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, p.ComputeOverallConfidence())
	}
}

func TestEventIdempotencyKey_Stable(t *testing.T) {
	k1 := EventIdempotencyKey(SourceGatewayWebhook, "evt_abc123")
	k2 := EventIdempotencyKey(SourceGatewayWebhook, "evt_abc123")
	assert.Equal(t, k1, k2)

	// Different sources or ids must not collide.
	assert.NotEqual(t, k1, EventIdempotencyKey(SourceScreenshot, "evt_abc123"))
	assert.NotEqual(t, k1, EventIdempotencyKey(SourceGatewayWebhook, "evt_abc124"))
}

func TestNotificationKey_Stable(t *testing.T) {
	k1 := NotificationKey("sub-1", StatusConfirmed)
	assert.Equal(t, k1, NotificationKey("sub-1", StatusConfirmed))
	assert.NotEqual(t, k1, NotificationKey("sub-1", StatusRejected))
	assert.NotEqual(t, k1, NotificationKey("sub-2", StatusConfirmed))
}
