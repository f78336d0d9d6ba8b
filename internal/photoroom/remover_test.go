package photoroom

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pixelator/pkg/batch"
)

func TestRemover_RemoveBackground(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "png", r.FormValue("format"))
		assert.Equal(t, "rgba", r.FormValue("channels"))

		f, hdr, err := r.FormFile("image_file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "42-original.png", hdr.Filename)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "raw-image", string(b))

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("segmented"))
	}))
	defer srv.Close()

	r, err := New("key-1", WithEndpoint(srv.URL))
	require.NoError(t, err)

	out, err := r.RemoveBackground(context.Background(), strings.NewReader("raw-image"), "42-original.png")
	require.NoError(t, err)
	assert.Equal(t, "segmented", string(out))
}

func TestRemover_Errors(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	r, err := New("k", WithEndpoint(srv.URL))
	require.NoError(t, err)
	_, err = r.RemoveBackground(context.Background(), strings.NewReader("x"), "x.png")
	assert.Equal(t, batch.KindRemote, batch.KindOf(err))
	assert.ErrorContains(t, err, "quota exceeded")
}
