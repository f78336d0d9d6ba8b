package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/turbolytics/pixelator/pkg/batch"
)

/*
The catalog is a record of what has been processed.
Every run, finished or failed, leaves one entry behind so uploads can be
inventoried and audited after the process that ran them is gone.
*/

// ErrNotFound is returned when no catalog entry exists for a run.
var ErrNotFound = errors.New("catalog entry not found")

// Catalog represents one processed upload.
type Catalog struct {
	RunID               string    `json:"run_id"`
	Pipeline            string    `json:"pipeline"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Source              string    `json:"source"`
	NumSourceRecords    int       `json:"num_source_records"`
	NumRejected         int       `json:"num_rejected"`
	NumRecordsProcessed int       `json:"num_records_processed"`
	NumSucceeded        int       `json:"num_succeeded"`
	NumFailed           int       `json:"num_failed"`
	DownloadURL         string    `json:"download_url,omitempty"`
	Error               string    `json:"error,omitempty"`
	Completed           bool      `json:"completed"`
}

func FromSummary(s batch.Summary) Catalog {
	return Catalog{
		RunID:               s.RunID,
		Pipeline:            s.Pipeline,
		StartTime:           s.StartedAt,
		EndTime:             s.CompletedAt,
		Source:              s.Source,
		NumSourceRecords:    s.Rows,
		NumRejected:         s.Rejected,
		NumRecordsProcessed: s.Processed,
		NumSucceeded:        s.Succeeded,
		NumFailed:           s.Failed,
		DownloadURL:         s.DownloadURL,
		Error:               s.Error,
		Completed:           s.Completed,
	}
}

// Summary converts the entry back to the engine's run summary. Labels are
// not stored.
func (c Catalog) Summary() batch.Summary {
	return batch.Summary{
		RunID:       c.RunID,
		Pipeline:    c.Pipeline,
		Source:      c.Source,
		StartedAt:   c.StartTime,
		CompletedAt: c.EndTime,
		Rows:        c.NumSourceRecords,
		Rejected:    c.NumRejected,
		Total:       c.NumSourceRecords - c.NumRejected,
		Processed:   c.NumRecordsProcessed,
		Succeeded:   c.NumSucceeded,
		Failed:      c.NumFailed,
		DownloadURL: c.DownloadURL,
		Error:       c.Error,
		Completed:   c.Completed,
	}
}

type Store interface {
	Save(ctx context.Context, c Catalog) error
	// Load returns ErrNotFound for unknown runs.
	Load(ctx context.Context, runID string) (Catalog, error)
	// List returns the most recent entries first.
	List(ctx context.Context, limit int) ([]Catalog, error)
}

type NoopStore struct{}

func (NoopStore) Save(ctx context.Context, c Catalog) error { return nil }
func (NoopStore) Load(ctx context.Context, runID string) (Catalog, error) {
	return Catalog{}, ErrNotFound
}
func (NoopStore) List(ctx context.Context, limit int) ([]Catalog, error) { return nil, nil }

// Recorder writes engine run summaries to a Store.
type Recorder struct {
	Store Store
}

func (r Recorder) Record(ctx context.Context, s batch.Summary) error {
	return r.Store.Save(ctx, FromSummary(s))
}
