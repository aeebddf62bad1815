package tika

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdf-tutor-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xhtml = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>t</title></head><body>
<div class="page"><p>Plants make food.</p><p>Light matters.</p></div>
<div class="page"><p>Chlorophyll absorbs light.</p></div>
</body></html>`

func TestExtractPagesSplitsOnPageDivs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(xhtml))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL, Timeout: time.Second})
	pages, err := c.ExtractPages(context.Background(), []byte("%PDF-1.4"), "bio.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0], "Plants make food.")
	assert.Contains(t, pages[0], "Light matters.")
	assert.Equal(t, "Chlorophyll absorbs light.", pages[1])
}

func TestExtractPagesWithoutPageMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Only text</p></body></html>`))
	}))
	defer srv.Close()

	pages, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractPages(context.Background(), nil, "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"Only text"}, pages)
}

func TestExtractPagesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractPages(context.Background(), nil, "x.pdf")
	assert.Error(t, err)
}
