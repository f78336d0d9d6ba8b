package batch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pixelator/pkg/table"
)

func TestNormalizeURL(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"http://cdn.example.com/a.png", "http://cdn.example.com/a.png"},
		{"https://https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"HTTPS://https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"https://https://https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{" cdn.example.com/a.png ", "https://cdn.example.com/a.png"},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func pixelLayout() Layout {
	return Layout{
		JoinColumn:         "linkedinUrl",
		FallbackJoinColumn: "Record ID - Contact",
		PrimaryColumn:      "Character Img Mario",
		ArtifactColumns:    NumberedColumns("generatedArt", MaxArtifacts),
	}
}

func readTable(t *testing.T, s string) *table.Table {
	t.Helper()
	tbl, err := table.ReadCSV(strings.NewReader(s))
	require.NoError(t, err)
	return tbl
}

func csvString(t *testing.T, tbl *table.Table) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf, tbl))
	return buf.String()
}

const reconcileInput = "Record ID - Contact,linkedinUrl,Character Img Mario\n" +
	"1,https://linkedin.com/in/ada,\n" +
	"2,https://linkedin.com/in/bob,https://https://cdn/bob.png\n" +
	"3,https://linkedin.com/in/cy,\n"

func reconcileResults() []Outcome {
	return []Outcome{
		Success(Record{ID: "1", ReferenceURL: "https://linkedin.com/in/ada"},
			Artifacts{Refs: []string{"cdn/ada1.png", "https://cdn/ada2.png"}}),
		Success(Record{ID: "2", ReferenceURL: "https://linkedin.com/in/bob"},
			Artifacts{Refs: []string{"https://cdn/b1.png", "https://cdn/b2.png", "https://cdn/b3.png", "https://cdn/b4.png", "https://cdn/b5.png"}}),
		Failure(Record{ID: "3", ReferenceURL: "https://linkedin.com/in/cy"}, "remote_error: 500"),
	}
}

func TestReconciler_Reconcile(t *testing.T) {
	r := NewReconciler(pixelLayout())
	original := readTable(t, reconcileInput)
	before := csvString(t, original)

	out, err := r.Reconcile(original, reconcileResults())
	require.NoError(t, err)

	assert.Equal(t, before, csvString(t, original), "original table must not change")
	assert.Equal(t, []string{
		"Record ID - Contact", "linkedinUrl", "Character Img Mario",
		"generatedArt1", "generatedArt2", "generatedArt3", "generatedArt4",
	}, out.Columns())

	ada := out.Row(0)
	assert.Equal(t, "https://cdn/ada1.png", ada.Get("generatedArt1"))
	assert.Equal(t, "https://cdn/ada2.png", ada.Get("generatedArt2"))
	assert.Equal(t, "", ada.Get("generatedArt3"))
	assert.Equal(t, "https://cdn/ada1.png", ada.Get("Character Img Mario"))

	bob := out.Row(1)
	assert.Equal(t, "https://cdn/b4.png", bob.Get("generatedArt4"))
	assert.Equal(t, "https://cdn/bob.png", bob.Get("Character Img Mario"), "existing primary is kept and normalized")

	cy := out.Row(2)
	assert.Equal(t, []string{"3", "https://linkedin.com/in/cy", "", "", "", "", ""}, cy.Values())
}

func TestReconciler_Idempotent(t *testing.T) {
	r := NewReconciler(pixelLayout())
	original := readTable(t, reconcileInput)

	once, err := r.Reconcile(original, reconcileResults())
	require.NoError(t, err)
	twice, err := r.Reconcile(once, reconcileResults())
	require.NoError(t, err)

	assert.Equal(t, csvString(t, once), csvString(t, twice))
}

func TestReconciler_PassThrough(t *testing.T) {
	r := NewReconciler(pixelLayout())
	original := readTable(t, reconcileInput)

	t.Run("only failures", func(t *testing.T) {
		out, err := r.Reconcile(original, []Outcome{
			Failure(Record{ID: "1", ReferenceURL: "https://linkedin.com/in/ada"}, "timeout"),
		})
		require.NoError(t, err)
		assert.Equal(t, csvString(t, original), csvString(t, out))
	})

	t.Run("no results", func(t *testing.T) {
		out, err := r.Reconcile(original, nil)
		require.NoError(t, err)
		assert.Equal(t, csvString(t, original), csvString(t, out))
	})

	t.Run("unmatched outcome", func(t *testing.T) {
		out, err := r.Reconcile(original, []Outcome{
			Success(Record{ID: "9", ReferenceURL: "https://linkedin.com/in/zed"}, Artifacts{Refs: []string{"x"}}),
		})
		require.NoError(t, err)
		for i := 0; i < out.Len(); i++ {
			assert.Equal(t, "", out.Row(i).Get("generatedArt1"))
		}
	})
}

func TestReconciler_Joins(t *testing.T) {
	t.Run("falls back to record id", func(t *testing.T) {
		r := NewReconciler(pixelLayout())
		original := readTable(t, "Record ID - Contact,linkedinUrl,Character Img Mario\n7,,NONE\n")

		out, err := r.Reconcile(original, []Outcome{
			Success(Record{ID: "7"}, Artifacts{Refs: []string{"https://cdn/7.png"}}),
		})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/7.png", out.Row(0).Get("Character Img Mario"))
	})

	t.Run("duplicate keys update every row", func(t *testing.T) {
		r := NewReconciler(pixelLayout())
		original := readTable(t, "Record ID - Contact,linkedinUrl\n"+
			"1, https://linkedin.com/in/ada \n"+
			"2,https://linkedin.com/in/ada\n")

		out, err := r.Reconcile(original, []Outcome{
			Success(Record{ID: "1", ReferenceURL: "https://linkedin.com/in/ada"}, Artifacts{Refs: []string{"https://cdn/a.png"}}),
		})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/a.png", out.Row(0).Get("generatedArt1"))
		assert.Equal(t, "https://cdn/a.png", out.Row(1).Get("generatedArt1"))
	})

	t.Run("primary column only layout", func(t *testing.T) {
		r := NewReconciler(Layout{
			JoinColumn:         "linkedinUrl",
			FallbackJoinColumn: "Record ID - Contact",
			PrimaryColumn:      "No Background Character Img Mario",
		})
		original := readTable(t, "Record ID - Contact,linkedinUrl\n1,https://linkedin.com/in/ada\n")

		out, err := r.Reconcile(original, []Outcome{
			Success(Record{ID: "1", ReferenceURL: "https://linkedin.com/in/ada"}, Artifacts{Refs: []string{"https://cdn/nobg/1.png"}}),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Record ID - Contact", "linkedinUrl", "No Background Character Img Mario"}, out.Columns())
		assert.Equal(t, "https://cdn/nobg/1.png", out.Row(0).Get("No Background Character Img Mario"))
	})

	t.Run("row longer than its header", func(t *testing.T) {
		r := NewReconciler(pixelLayout())
		original := readTable(t, "Record ID - Contact,linkedinUrl,Character Img Mario\n"+
			"1,https://linkedin.com/in/ada,\n"+
			"2,https://linkedin.com/in/bob,,stray\n")

		out, err := r.Reconcile(original, []Outcome{
			Success(Record{ID: "1", ReferenceURL: "https://linkedin.com/in/ada"}, Artifacts{Refs: []string{"https://cdn/a.png"}}),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "https://linkedin.com/in/bob", "", "", "", "", ""}, out.Row(1).Values())
		assert.Equal(t, "", out.Row(1).Get("generatedArt1"))
	})

	t.Run("nil table", func(t *testing.T) {
		_, err := NewReconciler(pixelLayout()).Reconcile(nil, nil)
		assert.Error(t, err)
	})
}
