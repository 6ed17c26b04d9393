package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// webhookHandler verifies, enqueues, and applies a gateway delivery. The
// response is 200 whenever the delivery was authenticated, including
// redeliveries and event types this service ignores; the gateway must not
// keep retrying work we have durably accepted.
func (s *Server) webhookHandler(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawBody, err := c.GetRawData()
		if err != nil {
			respondError(c, fmt.Errorf("%w: unreadable body", common.ErrInvalidInput))
			return
		}

		event, err := s.adapter.Verify(provider, rawBody, c.Request.Header)
		if err != nil {
			respondError(c, err)
			return
		}
		if event == nil {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		if err := s.dispatcher.Enqueue(c.Request.Context(), event); err != nil {
			if errors.Is(err, common.ErrDuplicateEvent) {
				c.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			respondError(c, err)
			return
		}

		// Inline processing is best-effort; a failure here leaves the event
		// queued and the background dispatcher finishes the job.
		if _, err := s.dispatcher.ProcessInline(c.Request.Context(), event.ID); err != nil {
			slog.Warn("Webhook event deferred to background processing",
				"provider", provider,
				"event_id", event.ID,
				"error", err)
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// handleCreateSubmission is the lifecycle entry point: it derives the total
// and mints the unique payment reference buyers put on their transfers.
func (s *Server) handleCreateSubmission(c *gin.Context) {
	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}

	sub := &model.Submission{
		ID:              "sub-" + uuid.NewString(),
		OrderID:         req.OrderID,
		GomID:           req.GomID,
		BuyerPlatform:   req.BuyerPlatform,
		BuyerExternalID: req.BuyerExternalID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		TotalAmount:     req.Quantity * req.UnitPrice,
		Currency:        strings.ToUpper(req.Currency),
		PaymentMethod:   strings.ToLower(req.PaymentMethod),
		Status:          model.StatusPendingPayment,
	}

	// Reference collisions are astronomically unlikely but cheap to retry.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		sub.PaymentReference = generatePaymentReference()
		if err = sub.Validate(); err != nil {
			respondError(c, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
			return
		}
		if err = s.store.CreateSubmission(c.Request.Context(), sub); err == nil {
			break
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSubmissionResponse(sub))
}

// generatePaymentReference mints a GOMF-prefixed base32 token, the
// human-readable key buyers copy into their transfer notes.
func generatePaymentReference() string {
	var buf [5]byte
	_, _ = rand.Read(buf[:])
	return "GOMF" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}

// handleSubmissionProof ingests proof for one known submission.
func (s *Server) handleSubmissionProof(c *gin.Context) {
	sub, err := s.store.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	image, req, err := readProofUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	s.ingestProof(c, image, req.Channel, sub.GomID, sub.ID, sub.PaymentReference)
}

// handleProof ingests proof with no submission id; the matcher resolves it
// against the GOM's open pool, or against one submission when the buyer
// supplied their reference.
func (s *Server) handleProof(c *gin.Context) {
	image, req, err := readProofUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	hint := ""
	reference := req.Reference
	gomID := req.GomID
	if reference != "" {
		sub, err := s.store.GetSubmissionByReference(c.Request.Context(), reference)
		if err == nil {
			hint = sub.ID
			gomID = sub.GomID
		} else if !errors.Is(err, common.ErrNotFound) {
			respondError(c, err)
			return
		}
	}
	if gomID == "" {
		respondError(c, fmt.Errorf("%w: gom_id or a known reference is required", common.ErrInvalidInput))
		return
	}

	s.ingestProof(c, image, req.Channel, gomID, hint, reference)
}

// ingestProof enqueues a screenshot event and processes it synchronously so
// the buyer learns the outcome in the same request.
func (s *Server) ingestProof(c *gin.Context, image []byte, channel, gomID, submissionHint, reference string) {
	imageHash := sha256.Sum256(image)
	externalID := hex.EncodeToString(imageHash[:]) + ":" + submissionHint

	event := &model.PaymentEvent{
		ID:             "pe-" + uuid.NewString(),
		Source:         model.SourceScreenshot,
		SubmissionHint: submissionHint,
		GomID:          gomID,
		Channel:        channel,
		Reference:      reference,
		IdempotencyKey: model.EventIdempotencyKey(model.SourceScreenshot, externalID),
		RawPayload:     image,
	}

	if err := s.dispatcher.Enqueue(c.Request.Context(), event); err != nil {
		if errors.Is(err, common.ErrDuplicateEvent) {
			c.JSON(http.StatusOK, proofResponse{
				Outcome: "duplicate",
				Message: outcomeMessages["duplicate"],
			})
			return
		}
		respondError(c, err)
		return
	}

	result, err := s.dispatcher.ProcessInline(c.Request.Context(), event.ID)
	if err != nil {
		if !common.IsRetryable(err) {
			respondError(c, err)
			return
		}
		// Still queued; the dispatcher will finish asynchronously.
		c.JSON(http.StatusAccepted, proofResponse{
			Outcome: "processing",
			Message: outcomeMessages["processing"],
			EventID: event.ID,
		})
		return
	}

	c.JSON(http.StatusOK, proofResponse{
		Outcome:      string(result.Outcome),
		SubmissionID: result.SubmissionID,
		Message:      outcomeMessages[string(result.Outcome)],
		EventID:      event.ID,
	})
}

// readProofUpload accepts either a multipart form with an "image" file or a
// JSON body with base64 image data.
func readProofUpload(c *gin.Context) ([]byte, proofRequest, error) {
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, proofRequest{}, fmt.Errorf("%w: missing image file", common.ErrInvalidInput)
		}
		defer func() { _ = file.Close() }()
		image, err := io.ReadAll(file)
		if err != nil {
			return nil, proofRequest{}, fmt.Errorf("%w: unreadable image file", common.ErrInvalidInput)
		}
		return image, proofRequest{
			Channel:   c.PostForm("channel"),
			GomID:     c.PostForm("gom_id"),
			Reference: c.PostForm("reference"),
		}, nil
	}

	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, proofRequest{}, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	if req.ImageBase64 == "" {
		return nil, proofRequest{}, fmt.Errorf("%w: image_base64 is required", common.ErrInvalidInput)
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return nil, proofRequest{}, fmt.Errorf("%w: image_base64 is not valid base64", common.ErrInvalidInput)
	}
	return image, req, nil
}

// handleDecision applies an authenticated GOM verdict.
func (s *Server) handleDecision(c *gin.Context) {
	gomID := c.GetString("gom_id")

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}

	result, err := s.machine.Decide(c.Request.Context(), c.Param("id"), gomID, req.Decision, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	sub, err := s.store.GetSubmission(c.Request.Context(), result.SubmissionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubmissionResponse(sub))
}

// handleCancel withdraws one of the authenticated GOM's open submissions,
// e.g. when the buyer drops out before paying. The body is optional.
func (s *Server) handleCancel(c *gin.Context) {
	gomID := c.GetString("gom_id")

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
			return
		}
	}

	sub, err := s.store.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if sub.GomID != gomID {
		respondError(c, common.ErrNotFound)
		return
	}

	if err := s.machine.Cancel(c.Request.Context(), sub.ID, gomID, req.Notes); err != nil {
		respondError(c, err)
		return
	}

	sub, err = s.store.GetSubmission(c.Request.Context(), sub.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubmissionResponse(sub))
}

// handleReviewQueue lists the authenticated GOM's submissions awaiting a
// verdict, with the audit notes the matcher attached.
func (s *Server) handleReviewQueue(c *gin.Context) {
	gomID := c.GetString("gom_id")

	subs, err := s.store.GetSubmissions(c.Request.Context(), service.SubmissionFilter{
		GomID:  gomID,
		Status: []model.SubmissionStatus{model.StatusUnderReview},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]submissionResponse, 0, len(subs))
	for i := range subs {
		responses = append(responses, toSubmissionResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"submissions": responses})
}

func (s *Server) handleDeadLetterList(c *gin.Context) {
	events, err := s.store.GetDeadLetteredEvents(c.Request.Context(), 100)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]deadLetterResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, toDeadLetterResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": responses})
}

func (s *Server) handleDeadLetterReplay(c *gin.Context) {
	if err := s.store.RequeueEvent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": true})
}
