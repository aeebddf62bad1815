package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "uploads/owner-1/doc-1/bio.pdf", ObjectKey("owner-1", "doc-1", "bio.pdf"))
}

func TestMinIOImplementsObjectStore(t *testing.T) {
	var _ ObjectStore = (*MinIO)(nil)
}
