package batch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/table"
)

// MaxArtifacts is the number of numbered artifact columns written per row.
const MaxArtifacts = 4

const doubleScheme = "https://https://"

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL collapses an accidental double https scheme and adds https://
// to values stored without a scheme.
func NormalizeURL(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	for len(v) >= len(doubleScheme) && strings.EqualFold(v[:len(doubleScheme)], doubleScheme) {
		v = "https://" + v[len(doubleScheme):]
	}
	if !schemeRe.MatchString(v) {
		v = "https://" + v
	}
	return v
}

// NumberedColumns returns prefix1..prefixN.
func NumberedColumns(prefix string, n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return cols
}

// Layout names the columns a pipeline joins on and writes.
type Layout struct {
	// JoinColumn holds the reference URL outcomes are matched on.
	JoinColumn string
	// FallbackJoinColumn holds the record id, used for outcomes without a
	// reference URL.
	FallbackJoinColumn string
	// PrimaryColumn is written only while it is empty.
	PrimaryColumn string
	// ArtifactColumns are always overwritten, in artifact order. At most
	// MaxArtifacts are used.
	ArtifactColumns []string
}

// Reconciler merges a result set back into the table it was computed from.
type Reconciler struct {
	layout Layout
	logger *zap.Logger
}

type ReconcilerOption func(*Reconciler)

func ReconcilerWithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = l
	}
}

func NewReconciler(layout Layout, opts ...ReconcilerOption) *Reconciler {
	if len(layout.ArtifactColumns) > MaxArtifacts {
		layout.ArtifactColumns = layout.ArtifactColumns[:MaxArtifacts]
	}
	r := &Reconciler{
		layout: layout,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Layout() Layout {
	return r.layout
}

// Reconcile returns a copy of original with the output columns of every
// matched successful outcome written. Failed outcomes and rows without an
// outcome keep their values. The original table is never modified.
func (r *Reconciler) Reconcile(original *table.Table, results []Outcome) (*table.Table, error) {
	if original == nil {
		return nil, errors.New("reconcile: nil table")
	}
	out := original.Clone()

	successes := 0
	for _, o := range results {
		if o.OK() {
			successes++
		}
	}
	if successes == 0 {
		return out, nil
	}

	for _, col := range r.layout.ArtifactColumns {
		out.EnsureColumn(col)
	}
	if r.layout.PrimaryColumn != "" {
		out.EnsureColumn(r.layout.PrimaryColumn)
	}

	byRef := r.index(out, r.layout.JoinColumn)
	byID := r.index(out, r.layout.FallbackJoinColumn)

	unmatched := 0
	for _, o := range results {
		if !o.OK() {
			continue
		}
		var rows []*table.Row
		if ref := strings.TrimSpace(o.Record.ReferenceURL); ref != "" {
			rows = byRef[ref]
		} else if id := strings.TrimSpace(o.Record.ID); id != "" {
			rows = byID[id]
		}
		if len(rows) == 0 {
			unmatched++
			continue
		}
		for _, row := range rows {
			r.apply(row, o)
		}
	}

	if unmatched > 0 {
		r.logger.Warn("outcomes without a matching row",
			zap.Int("unmatched", unmatched),
			zap.String("join_column", r.layout.JoinColumn),
		)
	}
	return out, nil
}

func (r *Reconciler) index(t *table.Table, column string) map[string][]*table.Row {
	idx := make(map[string][]*table.Row)
	if column == "" || !t.HasColumn(column) {
		return idx
	}
	for _, row := range t.Rows() {
		if k := row.Get(column); k != "" {
			idx[k] = append(idx[k], row)
		}
	}
	return idx
}

func (r *Reconciler) apply(row *table.Row, o Outcome) {
	for i, col := range r.layout.ArtifactColumns {
		v := ""
		if i < len(o.ArtifactRefs) {
			v = NormalizeURL(o.ArtifactRefs[i])
		}
		row.Set(col, v)
	}

	primary := r.layout.PrimaryColumn
	if primary == "" {
		return
	}
	if !row.Populated(primary) {
		v := ""
		if len(o.ArtifactRefs) > 0 {
			v = NormalizeURL(o.ArtifactRefs[0])
		}
		row.Set(primary, v)
		return
	}
	row.Set(primary, NormalizeURL(row.Get(primary)))
}
