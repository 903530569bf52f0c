package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetectPayload(t *testing.T) {
	p, err := ParseDetectPayload([]byte(`{"scan_id":"abc","image_ref":"images/abc.png"}`))
	require.NoError(t, err)
	assert.Equal(t, DetectPayload{ScanID: "abc", ImageRef: "images/abc.png"}, p)

	_, err = ParseDetectPayload([]byte(`{"scan_id":"abc"}`))
	assert.Error(t, err)
	_, err = ParseDetectPayload([]byte(`not json`))
	assert.Error(t, err)
}
