package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
)

// currencyExponents maps ISO currency codes to their minor unit exponent.
// Rupiah is handled as whole units the way the regional gateways do.
var currencyExponents = map[string]int{
	"PHP": 2,
	"MYR": 2,
	"SGD": 2,
	"THB": 2,
	"IDR": 0,
}

// Engine runs screenshot extraction through a vision provider with input
// validation, rate limiting and retries.
type Engine struct {
	client  Client
	limiter *visionLimiter
	cfg     config.ExtractionConfig
}

// compile-time interface check
var _ service.Extractor = (*Engine)(nil)

// NewEngine creates an extraction engine for the configured provider.
func NewEngine(cfg config.ExtractionConfig) (*Engine, error) {
	var client Client
	var err error

	switch cfg.Provider {
	case "anthropic":
		client, err = newAnthropicClient(cfg.APIKey, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
	case "mock":
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("%w: unknown extraction provider %q", common.ErrInvalidConfig, cfg.Provider)
	}

	return &Engine{
		client:  client,
		limiter: newVisionLimiter(cfg.RateLimit),
		cfg:     cfg,
	}, nil
}

// Extract validates the image, calls the vision provider and normalizes the
// reading into minor-unit candidates. An empty candidate list with no error
// means the screenshot contained nothing readable.
func (e *Engine) Extract(ctx context.Context, imageBytes []byte, contextHint string) (model.ExtractionResult, error) {
	start := time.Now()

	mediaType, err := sniffImageType(imageBytes)
	if err != nil {
		return model.ExtractionResult{}, err
	}
	if maxBytes := e.cfg.MaxImageBytes; maxBytes > 0 && int64(len(imageBytes)) > maxBytes {
		return model.ExtractionResult{}, fmt.Errorf("%w: image is %d bytes, limit is %d",
			common.ErrInvalidInput, len(imageBytes), maxBytes)
	}

	if err := e.limiter.wait(ctx); err != nil {
		return model.ExtractionResult{}, err
	}

	req := VisionRequest{
		MediaType:   mediaType,
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
		ContextHint: contextHint,
	}

	var resp VisionResponse
	err = common.WithRetry(ctx, func() error {
		callCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		var callErr error
		resp, callErr = e.client.ExtractPayments(callCtx, req)
		return callErr
	}, service.RetryOptions{
		MaxAttempts:  e.cfg.MaxRetries,
		InitialDelay: e.cfg.RetryDelay,
	})
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("extraction failed: %w", err)
	}

	result := model.ExtractionResult{
		Candidates:      make([]model.ExtractedPayment, 0, len(resp.Payments)),
		EngineLatencyMs: time.Since(start).Milliseconds(),
	}
	for _, p := range resp.Payments {
		candidate, convErr := toCandidate(p)
		if convErr != nil {
			result.Errors = append(result.Errors, convErr.Error())
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	slog.Debug("Extraction completed",
		"candidates", len(result.Candidates),
		"errors", len(result.Errors),
		"latency_ms", result.EngineLatencyMs)

	return result, nil
}

// toCandidate converts a provider reading into a minor-unit candidate and
// recomputes the overall confidence from the fixed weight table.
func toCandidate(p VisionPayment) (model.ExtractedPayment, error) {
	if p.Amount < 0 {
		return model.ExtractedPayment{}, fmt.Errorf("negative amount %f", p.Amount)
	}

	minor, err := toMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return model.ExtractedPayment{}, err
	}

	confidences := make(map[string]float64, len(p.Confidences))
	for field, conf := range p.Confidences {
		confidences[field] = clamp01(conf)
	}

	candidate := model.ExtractedPayment{
		Amount:           minor,
		Currency:         p.Currency,
		ReferenceText:    p.Reference,
		MethodGuess:      p.Method,
		TimestampGuess:   p.Timestamp,
		FieldConfidences: confidences,
	}
	candidate.OverallConfidence = candidate.ComputeOverallConfidence()
	return candidate, nil
}

// toMinorUnits converts a decimal amount to the currency's minor units,
// rounding half away from zero to absorb float noise from the provider.
func toMinorUnits(amount float64, currency string) (int64, error) {
	exponent, ok := currencyExponents[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", currency)
	}
	scaled := amount * math.Pow10(exponent)
	return int64(math.Round(scaled)), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Image magic bytes for the accepted screenshot formats.
var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// sniffImageType identifies the image format from its leading bytes.
func sniffImageType(data []byte) (string, error) {
	switch {
	case len(data) >= 3 && bytes.HasPrefix(data, jpegMagic):
		return "image/jpeg", nil
	case len(data) >= 4 && bytes.HasPrefix(data, pngMagic):
		return "image/png", nil
	case len(data) >= 12 && bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return "image/webp", nil
	default:
		return "", fmt.Errorf("%w: not a JPEG, PNG or WebP image", common.ErrInvalidInput)
	}
}
