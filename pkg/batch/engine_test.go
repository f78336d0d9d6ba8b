package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pixelator/pkg/table"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

type memRecorder struct {
	mu        sync.Mutex
	summaries []Summary
}

func (r *memRecorder) Record(ctx context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

var idValidator = ValidatorFunc(func(index int, row *table.Row) (Record, error) {
	id := row.Get("record id - contact")
	if id == "" {
		return Record{}, &ValidationError{Row: index, Reason: "missing record id"}
	}
	return Record{ID: id, ReferenceURL: row.Get("linkedinurl")}, nil
})

func testPipeline(adapter WorkAdapter) *Pipeline {
	return &Pipeline{
		Name:           "pixelart",
		Label:          "Pixel Art Generation",
		Validator:      idValidator,
		Adapter:        adapter,
		Reconciler:     NewReconciler(pixelLayout()),
		ArtifactPrefix: "character_image_pixel_art_results_",
	}
}

func inputTable(t *testing.T, n int) *table.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString("Record ID - Contact,linkedinUrl,Character Img Mario\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%02d,https://linkedin.com/in/p%02d,\n", i, i)
	}
	b.WriteString(",https://linkedin.com/in/no-id,\n")
	return readTable(t, b.String())
}

func TestEngine_Execute(t *testing.T) {
	store := newMemStore()
	poster := &memPoster{}
	rec := &memRecorder{}
	clock := time.UnixMilli(1700000000000)

	e, err := NewEngine(
		WithGroupSize(10),
		WithStore(store),
		WithNotifier(NewStatusNotifier(poster)),
		WithRecorder(rec),
		WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)

	adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
		if r.ID == "05" {
			return Artifacts{}, NotFound(errors.New("no image"))
		}
		return Artifacts{Refs: []string{"cdn.example.com/" + r.ID + ".png"}}, nil
	})

	run := e.NewRun(Job{
		Pipeline: testPipeline(adapter),
		Table:    inputTable(t, 23),
		Source:   "Q1 Contacts.csv",
	})
	assert.Equal(t, PhaseCreated, run.Phase())

	var buf bytes.Buffer
	reporter := NewStreamReporter(&buf)
	summary, err := run.Execute(context.Background(), reporter)
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, run.Phase())
	assert.Equal(t, 24, summary.Rows)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 23, summary.Total)
	assert.Equal(t, 22, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.Completed)

	key := "downloads/character_image_pixel_art_results_q1_contacts_1700000000000.csv"
	assert.Equal(t, "https://cdn.example.com/"+key, summary.DownloadURL)
	require.Contains(t, store.objects, key)
	assert.Equal(t, "text/csv", store.types[key])

	out := readTable(t, string(store.objects[key]))
	assert.Equal(t, 24, out.Len())
	assert.Equal(t, "https://cdn.example.com/01.png", out.Row(0).Get("generatedArt1"))
	assert.Equal(t, "https://cdn.example.com/01.png", out.Row(0).Get("Character Img Mario"))
	assert.Equal(t, "", out.Row(4).Get("generatedArt1"))

	msgs := lines(t, buf.Bytes())
	require.Len(t, msgs, 4)
	assert.Equal(t, "1", string(msgs[2]["progress"]))
	assert.Contains(t, msgs[3], "results")

	posted := poster.Messages()
	require.Len(t, posted, 2)
	assert.Contains(t, posted[0], "Process Started")
	assert.Contains(t, posted[1], "Complete!")

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, run.ID(), rec.summaries[0].RunID)
	assert.Equal(t, summary, run.Summary())
}

func TestEngine_SetupErrors(t *testing.T) {
	t.Run("no valid rows", func(t *testing.T) {
		poster := &memPoster{}
		rec := &memRecorder{}
		e, err := NewEngine(WithNotifier(NewStatusNotifier(poster)), WithRecorder(rec))
		require.NoError(t, err)

		called := false
		adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
			called = true
			return Artifacts{}, nil
		})
		run := e.NewRun(Job{
			Pipeline: testPipeline(adapter),
			Table:    readTable(t, "Record ID - Contact,linkedinUrl\n,https://linkedin.com/in/a\n"),
		})

		var buf bytes.Buffer
		reporter := NewStreamReporter(&buf)
		_, err = run.Execute(context.Background(), reporter)

		var se *SetupError
		require.ErrorAs(t, err, &se)
		assert.ErrorIs(t, err, ErrNoRecords)
		assert.False(t, called)
		assert.Empty(t, buf.String())
		assert.False(t, reporter.Started())
		assert.Equal(t, PhaseFailed, run.Phase())

		require.Len(t, poster.Messages(), 1)
		assert.Contains(t, poster.Messages()[0], "Error in")
		require.Len(t, rec.summaries, 1)
		assert.Equal(t, 1, rec.summaries[0].Rejected)
	})

	t.Run("nil table", func(t *testing.T) {
		e, err := NewEngine()
		require.NoError(t, err)

		err = e.NewRun(Job{Pipeline: testPipeline(echoAdapter())}).Prepare(context.Background())
		assert.ErrorIs(t, err, ErrNoInput)
	})

	t.Run("incomplete pipeline", func(t *testing.T) {
		e, err := NewEngine()
		require.NoError(t, err)

		err = e.NewRun(Job{Table: table.New([]string{"a"})}).Prepare(context.Background())
		var se *SetupError
		assert.ErrorAs(t, err, &se)
	})

	t.Run("invalid group size", func(t *testing.T) {
		_, err := NewEngine(WithGroupSize(0))
		assert.ErrorIs(t, err, ErrInvalidGroupSize)
	})
}

func TestEngine_PersistenceError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("access denied")
	poster := &memPoster{}

	e, err := NewEngine(WithStore(store), WithNotifier(NewStatusNotifier(poster)))
	require.NoError(t, err)

	run := e.NewRun(Job{
		Pipeline: testPipeline(echoAdapter()),
		Table:    inputTable(t, 3),
		Source:   "in.csv",
	})

	var buf bytes.Buffer
	summary, err := run.Execute(context.Background(), NewStreamReporter(&buf))

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseFailed, run.Phase())
	assert.Equal(t, 3, summary.Succeeded)
	assert.Contains(t, summary.Error, "access denied")

	// the stream was completed before persistence was attempted
	msgs := lines(t, buf.Bytes())
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "results")

	posted := poster.Messages()
	assert.Contains(t, posted[len(posted)-1], "access denied")
}

func TestEngine_SlowNotifier(t *testing.T) {
	poster := &slowPoster{delay: 200 * time.Millisecond}
	e, err := NewEngine(WithNotifier(NewStatusNotifier(poster)))
	require.NoError(t, err)

	begin := time.Now()
	var firstCall atomic.Int64
	adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
		firstCall.CompareAndSwap(0, int64(time.Since(begin)))
		return Artifacts{Refs: []string{"https://cdn/" + r.ID + ".png"}}, nil
	})

	run := e.NewRun(Job{Pipeline: testPipeline(adapter), Table: inputTable(t, 3), Source: "in.csv"})
	_, err = run.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Less(t, time.Duration(firstCall.Load()), 100*time.Millisecond, "first group waited on the start notification")

	posted := poster.Messages()
	require.Len(t, posted, 2, "Execute drains the queue before returning")
	assert.Contains(t, posted[0], "Process Started")
	assert.Contains(t, posted[1], "Complete!")

	t.Run("failed prepare", func(t *testing.T) {
		poster := &slowPoster{delay: 200 * time.Millisecond}
		e, err := NewEngine(WithNotifier(NewStatusNotifier(poster)))
		require.NoError(t, err)

		run := e.NewRun(Job{Pipeline: testPipeline(echoAdapter()), Table: readTable(t, "Record ID - Contact\n\n")})
		begin := time.Now()
		err = run.Prepare(context.Background())
		assert.ErrorIs(t, err, ErrNoRecords)
		assert.Less(t, time.Since(begin), 100*time.Millisecond)

		run.Close()
		require.Len(t, poster.Messages(), 1)
		assert.Contains(t, poster.Messages()[0], "Error in")
	})
}

func TestEngine_PrepareThenExecute(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	run := e.NewRun(Job{Pipeline: testPipeline(echoAdapter()), Table: inputTable(t, 2)})
	require.NoError(t, run.Prepare(context.Background()))
	assert.Equal(t, PhaseValidating, run.Phase())
	assert.Equal(t, 2, run.Summary().Total)

	summary, err := run.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Empty(t, summary.DownloadURL)
}

func TestArtifactKey(t *testing.T) {
	ts := time.UnixMilli(42)
	assert.Equal(t, "downloads/p_my_file_42.csv", ArtifactKey("p_", "My File.csv", ts, "csv"))
	assert.Equal(t, "downloads/p_contacts_42.parquet", ArtifactKey("p_", "/tmp/up/Contacts.CSV", ts, "parquet"))
	assert.Equal(t, "downloads/p_input_42.csv", ArtifactKey("p_", "", ts, "csv"))
}
