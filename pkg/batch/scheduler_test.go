package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			Index:        i,
			ID:           fmt.Sprintf("%d", i+1),
			ReferenceURL: fmt.Sprintf("https://linkedin.com/in/p%d", i+1),
		}
	}
	return recs
}

func echoAdapter() WorkAdapter {
	return AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
		return Artifacts{Refs: []string{"https://cdn/" + r.ID + ".png"}}, nil
	})
}

func TestNewScheduler(t *testing.T) {
	_, err := NewScheduler(echoAdapter(), SchedulerWithGroupSize(0))
	assert.ErrorIs(t, err, ErrInvalidGroupSize)

	_, err = NewScheduler(nil)
	assert.Error(t, err)

	s, err := NewScheduler(echoAdapter())
	require.NoError(t, err)
	assert.Equal(t, DefaultGroupSize, s.GroupSize())
}

func TestScheduler_Groups(t *testing.T) {
	s, err := NewScheduler(echoAdapter(), SchedulerWithGroupSize(10))
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{0, 10}, {10, 20}, {20, 23}}, s.Groups(23))
	assert.Equal(t, [][2]int{{0, 10}}, s.Groups(10))
	assert.Empty(t, s.Groups(0))
}

func TestScheduler_Run(t *testing.T) {
	t.Run("outcomes keep input order", func(t *testing.T) {
		// later records finish first within a group
		adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
			time.Sleep(time.Duration(10-r.Index%10) * time.Millisecond)
			return Artifacts{Refs: []string{r.ID}}, nil
		})
		s, err := NewScheduler(adapter, SchedulerWithGroupSize(5))
		require.NoError(t, err)

		recs := testRecords(12)
		out, err := s.Run(context.Background(), recs, nil, nil)
		require.NoError(t, err)
		require.Len(t, out, len(recs))
		for i, o := range out {
			assert.Equal(t, recs[i].ID, o.Record.ID)
			assert.Equal(t, []string{recs[i].ID}, o.ArtifactRefs)
		}
	})

	t.Run("23 records in groups of 10", func(t *testing.T) {
		s, err := NewScheduler(echoAdapter(), SchedulerWithGroupSize(10))
		require.NoError(t, err)

		var events []ProgressEvent
		state := NewState(23)
		_, err = s.Run(context.Background(), testRecords(23), state, func(ev ProgressEvent) {
			events = append(events, ev)
		})
		require.NoError(t, err)

		require.Len(t, events, 3)
		assert.InDelta(t, 0.43, events[0].Fraction, 0.005)
		assert.InDelta(t, 0.87, events[1].Fraction, 0.005)
		assert.Equal(t, 1.0, events[2].Fraction)
		assert.Equal(t, []int{10, 20, 23}, []int{events[0].Completed, events[1].Completed, events[2].Completed})
		assert.Equal(t, 23, state.Completed())
		assert.Equal(t, 3, state.Groups())
	})

	t.Run("progress is monotone and has one event per group", func(t *testing.T) {
		for _, tc := range []struct{ total, size int }{{1, 10}, {10, 10}, {11, 10}, {7, 3}, {100, 7}} {
			s, err := NewScheduler(echoAdapter(), SchedulerWithGroupSize(tc.size))
			require.NoError(t, err)

			var fractions []float64
			_, err = s.Run(context.Background(), testRecords(tc.total), nil, func(ev ProgressEvent) {
				fractions = append(fractions, ev.Fraction)
			})
			require.NoError(t, err)

			want := (tc.total + tc.size - 1) / tc.size
			require.Len(t, fractions, want, "total=%d size=%d", tc.total, tc.size)
			for i := 1; i < len(fractions); i++ {
				assert.Greater(t, fractions[i], fractions[i-1])
			}
			assert.Equal(t, 1.0, fractions[len(fractions)-1])
		}
	})

	t.Run("at most group size in flight", func(t *testing.T) {
		var inFlight, peak atomic.Int64
		adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return Artifacts{}, nil
		})
		s, err := NewScheduler(adapter, SchedulerWithGroupSize(4))
		require.NoError(t, err)

		_, err = s.Run(context.Background(), testRecords(17), nil, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int64(4))
	})

	t.Run("one not found among ten", func(t *testing.T) {
		adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
			if r.ID == "4" {
				return Artifacts{}, NotFound(errors.New("no profile image"))
			}
			return Artifacts{Refs: []string{"a", "b"}}, nil
		})
		s, err := NewScheduler(adapter)
		require.NoError(t, err)

		var events int
		out, err := s.Run(context.Background(), testRecords(10), nil, func(ProgressEvent) { events++ })
		require.NoError(t, err)
		require.Len(t, out, 10)
		assert.Equal(t, 1, events)

		failed := 0
		for _, o := range out {
			if !o.OK() {
				failed++
				assert.Equal(t, "4", o.Record.ID)
				assert.Contains(t, o.Reason, "not_found")
			}
		}
		assert.Equal(t, 1, failed)
	})

	t.Run("panics become failures", func(t *testing.T) {
		adapter := AdapterFunc(func(ctx context.Context, r Record) (Artifacts, error) {
			if r.ID == "2" {
				panic("boom")
			}
			return Artifacts{}, nil
		})
		s, err := NewScheduler(adapter)
		require.NoError(t, err)

		out, err := s.Run(context.Background(), testRecords(3), nil, nil)
		require.NoError(t, err)
		assert.True(t, out[0].OK())
		assert.False(t, out[1].OK())
		assert.Equal(t, "panic: boom", out[1].Reason)
		assert.True(t, out[2].OK())
	})

	t.Run("no records", func(t *testing.T) {
		s, err := NewScheduler(echoAdapter())
		require.NoError(t, err)

		called := false
		_, err = s.Run(context.Background(), nil, nil, func(ProgressEvent) { called = true })
		assert.ErrorIs(t, err, ErrNoRecords)
		assert.False(t, called)
	})
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, KindTimeout, KindOf(Classify(fmt.Errorf("poll: %w", context.DeadlineExceeded))))
	assert.Equal(t, KindRemote, KindOf(Classify(errors.New("500"))))
	assert.Equal(t, KindNotFound, KindOf(Classify(NotFound(errors.New("404")))))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
