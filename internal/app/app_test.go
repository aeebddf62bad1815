package app

import (
	"testing"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/pkg/es"
	"pdf-tutor-go/pkg/pdfextract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIndexFallsBackToMemory(t *testing.T) {
	idx, err := OpenIndex(config.ElasticsearchConfig{})
	require.NoError(t, err)
	assert.IsType(t, &es.MemoryIndex{}, idx)

	idx, err = OpenIndex(config.ElasticsearchConfig{Addresses: "http://127.0.0.1:9200"})
	require.NoError(t, err)
	assert.IsType(t, &es.Client{}, idx)
}

func TestNewExtractor(t *testing.T) {
	assert.Equal(t, pdfextract.Native{}, NewExtractor(config.TikaConfig{}))

	ext, ok := NewExtractor(config.TikaConfig{ServerURL: "http://tika:9998"}).(pdfextract.Fallback)
	require.True(t, ok)
	assert.Equal(t, pdfextract.Native{}, ext.Primary)
	assert.NotNil(t, ext.Secondary)
}
