package process

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pixelator/internal/cmd/fixtures"
	"github.com/turbolytics/pixelator/pkg/table"
)

func fakeImagine(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref string `json:"ref"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"id":%q,"status":"completed","upscaled_urls":["https://cdn.example.com/%s.png"]}}`, req.Ref, req.Ref)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessCommand(t *testing.T) {
	dir := t.TempDir()
	imagine := fakeImagine(t)

	cfg := fmt.Sprintf(`
logger:
  level: error
storage:
  type: local
  local:
    path: %s
notifier:
  type: none
catalog:
  type: none
generator:
  endpoint: %s
  poll_interval: 1ms
`, filepath.Join(dir, "storage"), imagine.URL)
	cfgPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	input := filepath.Join(dir, "Contacts.csv")
	f, err := os.Create(input)
	require.NoError(t, err)
	require.NoError(t, table.WriteCSV(f, fixtures.Generate(fixtures.Options{
		Records: 3, Seed: 1, InvalidEvery: 3, ImageBaseURL: "https://img.example.com",
	})))
	require.NoError(t, f.Close())

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-c", cfgPath, "-p", "pixelart", "-i", input})
	require.NoError(t, cmd.Execute())

	var lines []map[string]json.RawMessage
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		m := map[string]json.RawMessage{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "1", string(lines[0]["progress"]))

	var results []map[string]any
	require.NoError(t, json.Unmarshal(lines[1]["results"], &results))
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0]["status"])

	matches, err := filepath.Glob(filepath.Join(dir, "storage", "downloads", "character_image_pixel_art_results_contacts_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	got, err := table.ReadCSV(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
	assert.True(t, strings.HasPrefix(got.Row(0).Get("generatedArt1"), "https://cdn.example.com/100001_"))
	assert.Equal(t, got.Row(0).Get("generatedArt1"), got.Row(0).Get("Character Img Mario"))
	assert.Empty(t, got.Row(2).Get("generatedArt1"))
}

func TestProcessCommand_UnknownPipeline(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logger:\n  level: error\nnotifier:\n  type: none\ncatalog:\n  type: none\n"), 0644))

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-c", cfgPath, "-p", "pixelart", "-i", filepath.Join(dir, "missing.csv")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}
