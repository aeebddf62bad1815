package pdfextract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	pages []string
	err   error
	calls int
}

func (s *stubExtractor) ExtractPages(context.Context, []byte, string) ([]string, error) {
	s.calls++
	return s.pages, s.err
}

func TestFallbackPrefersPrimaryWithText(t *testing.T) {
	primary := &stubExtractor{pages: []string{"hello"}}
	secondary := &stubExtractor{pages: []string{"other"}}

	pages, err := Fallback{Primary: primary, Secondary: secondary}.ExtractPages(context.Background(), []byte("x"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, pages)
	assert.Equal(t, 0, secondary.calls)
}

func TestFallbackUsedOnErrorOrEmpty(t *testing.T) {
	secondary := &stubExtractor{pages: []string{"", "page two"}}

	pages, err := Fallback{Primary: &stubExtractor{err: errors.New("bad xref")}, Secondary: secondary}.
		ExtractPages(context.Background(), []byte("x"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "page two"}, pages)

	pages, err = Fallback{Primary: &stubExtractor{pages: []string{"  ", ""}}, Secondary: secondary}.
		ExtractPages(context.Background(), []byte("x"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "page two"}, pages)
}

func TestFallbackBothFail(t *testing.T) {
	_, err := Fallback{
		Primary:   &stubExtractor{err: errors.New("bad xref")},
		Secondary: &stubExtractor{err: errors.New("tika down")},
	}.ExtractPages(context.Background(), []byte("x"), "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tika down")
}

func TestNativeRejectsGarbage(t *testing.T) {
	_, err := Native{}.ExtractPages(context.Background(), []byte("not a pdf"), "a.pdf")
	assert.Error(t, err)
}

func TestHasText(t *testing.T) {
	assert.False(t, HasText(nil))
	assert.False(t, HasText([]string{" \n\t"}))
	assert.True(t, HasText([]string{"", "x"}))
}
