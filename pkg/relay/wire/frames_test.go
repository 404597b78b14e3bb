package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Relayers in the field depend on these exact metadata keys; renaming
// one is a breaking protocol change.
func TestMetadataKeyContract(t *testing.T) {
	assert.Equal(t, "x-api-key", MetadataAPIKey)
	assert.Equal(t, "cluster-id", MetadataClusterID)
	assert.Equal(t, "x-cluster-secret", MetadataClusterSecret)
}
