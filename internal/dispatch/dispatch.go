package dispatch

import (
	"github.com/dans3367/pigeonpost/internal/logger"
)

// DefaultBatchSize is used when the caller does not override the batch size
const DefaultBatchSize = 50

// Recipient is one addressee of a bulk send
type Recipient struct {
	ContactID string `json:"contactId"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
}

// Batch is a contiguous slice of the recipient list. Ephemeral: computed at
// dispatch time, its outcome folds into the parent run's totals.
type Batch struct {
	Index      int // 1-based
	Total      int
	Recipients []Recipient
}

// Split divides recipients into ceil(len/batchSize) fixed-size batches
func Split(recipients []Recipient, batchSize int) []Batch {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if len(recipients) == 0 {
		return nil
	}
	total := (len(recipients) + batchSize - 1) / batchSize
	batches := make([]Batch, 0, total)
	for i := 0; i < len(recipients); i += batchSize {
		end := i + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, Batch{
			Index:      len(batches) + 1,
			Total:      total,
			Recipients: recipients[i:end],
		})
	}
	return batches
}

// Totals is the running outcome of a bulk run
type Totals struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Final run statuses derived from the totals
const (
	StatusSent          = "sent"
	StatusPartiallySent = "partially_sent"
	StatusFailed        = "failed"
)

// Status derives the final run status: sent iff nothing failed, failed iff
// nothing succeeded, partially_sent otherwise.
func (t Totals) Status() string {
	switch {
	case t.Failed == 0:
		return StatusSent
	case t.Successful == 0:
		return StatusFailed
	default:
		return StatusPartiallySent
	}
}

// SendFn sends to one recipient
type SendFn func(batch Batch, r Recipient) error

// Verdict classifies a send error for the dispatcher
type Verdict int

// Verdicts
const (
	// VerdictRecipientFailed counts one failed recipient and moves on
	VerdictRecipientFailed Verdict = iota
	// VerdictBatchFailed counts the batch's unprocessed recipients as failed
	// and moves to the next batch; one bad batch never aborts the run
	VerdictBatchFailed
	// VerdictAbort stops dispatch and propagates the error unchanged
	// (suspension and cancellation travel this way)
	VerdictAbort
)

// Run drives the batches sequentially, never in parallel, to bound the
// instantaneous load on the provider rate limit. classify decides what each
// send error means.
func Run(batches []Batch, send SendFn, classify func(error) Verdict, log *logger.Logger) (Totals, error) {
	var totals Totals
	for _, batch := range batches {
		batchFailed := false
		for i, recipient := range batch.Recipients {
			err := send(batch, recipient)
			if err == nil {
				totals.Successful++
				totals.Total++
				continue
			}
			switch classify(err) {
			case VerdictRecipientFailed:
				totals.Failed++
				totals.Total++
			case VerdictBatchFailed:
				remaining := len(batch.Recipients) - i
				totals.Failed += remaining
				totals.Total += remaining
				log.Error().Err(err).
					Int("batch", batch.Index).
					Int("failed_recipients", remaining).
					Msg("batch failed, continuing with next batch")
				batchFailed = true
			case VerdictAbort:
				return totals, err
			}
			if batchFailed {
				break
			}
		}
		log.Info().
			Int("batch", batch.Index).
			Int("of", batch.Total).
			Int("successful", totals.Successful).
			Int("failed", totals.Failed).
			Msg("batch processed")
	}
	return totals, nil
}
