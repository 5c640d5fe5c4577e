package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/apperr"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/webhook"
)

// BatchRequest is a validated batch envelope: up to BatchMaxSize entries and
// an optional single completion callback.
type BatchRequest struct {
	Entries       []Request
	WebhookURL    string
	WebhookSecret string
}

// BatchEntryResult is one entry's outcome, in input order.
type BatchEntryResult struct {
	Success bool
	Error   string
	Result  *Result // nil when Success is false
}

// BatchResult summarises a completed batch.
type BatchResult struct {
	BatchID         string
	TotalRequested  int
	TotalProcessed  int
	TotalSuccessful int
	TotalFailed     int
	Results         []BatchEntryResult
}

// VerifyBatch validates the envelope, then fans the entries out to a fixed
// worker pool. An entry's failure never aborts its siblings; results keep
// input order. The batch webhook, when configured, fires once after every
// entry has finished.
func (s *Service) VerifyBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Entries) == 0 {
		return nil, apperr.New(apperr.CodeEmptyBatch, "Batch must contain at least one verification")
	}
	if len(req.Entries) > s.cfg.BatchMaxSize {
		return nil, apperr.Newf(apperr.CodeBatchTooLarge,
			"Batch size exceeds maximum of %d", s.cfg.BatchMaxSize)
	}
	if req.WebhookURL != "" {
		if err := webhook.ValidateURL(req.WebhookURL); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidRequest, "Invalid webhook URL", err)
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveBatch(len(req.Entries))
	}

	batch := &BatchResult{
		BatchID:        newBatchID(),
		TotalRequested: len(req.Entries),
		Results:        make([]BatchEntryResult, len(req.Entries)),
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := s.cfg.BatchConcurrency
	if workers > len(req.Entries) {
		workers = len(req.Entries)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				batch.Results[idx] = s.runEntry(ctx, req.Entries[idx])
			}
		}()
	}

	for idx := range req.Entries {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	for _, r := range batch.Results {
		batch.TotalProcessed++
		if r.Success {
			batch.TotalSuccessful++
		} else {
			batch.TotalFailed++
		}
	}

	if req.WebhookURL != "" && s.dispatcher != nil {
		_, err := s.dispatcher.Enqueue(ctx, req.WebhookURL, req.WebhookSecret,
			webhook.EventBatchCompleted, batch.BatchID, batchSummary(batch))
		if err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).
				Str("batch_id", batch.BatchID).
				Msg("verify.batch_webhook_enqueue_failed")
		}
	}

	return batch, nil
}

// runEntry executes the single pipeline and folds any refusal into the
// entry's result record.
func (s *Service) runEntry(ctx context.Context, req Request) BatchEntryResult {
	start := time.Now()
	res, err := s.verify(ctx, req)
	s.observe(res, err, "batch", time.Since(start))

	if err != nil {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			return BatchEntryResult{Success: false, Error: rle.Error()}
		}
		return BatchEntryResult{Success: false, Error: apperr.MessageOf(err)}
	}
	return BatchEntryResult{Success: true, Result: res}
}

// batchSummary is the webhook payload for a completed batch.
func batchSummary(b *BatchResult) map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(b.Results))
	for _, r := range b.Results {
		entry := map[string]interface{}{"success": r.Success}
		if r.Success {
			entry["data"] = NewData(r.Result.Record)
		} else {
			entry["error"] = r.Error
		}
		results = append(results, entry)
	}
	return map[string]interface{}{
		"batchId":         b.BatchID,
		"totalRequested":  b.TotalRequested,
		"totalProcessed":  b.TotalProcessed,
		"totalSuccessful": b.TotalSuccessful,
		"totalFailed":     b.TotalFailed,
		"results":         results,
	}
}

func newBatchID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("batch_%d", time.Now().UnixNano())
	}
	return "batch_" + hex.EncodeToString(b)
}
