package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestDocIsValidJSON(t *testing.T) {
	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc struct {
		Swagger string                    `json:"swagger"`
		Info    map[string]string         `json:"info"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "segmock API", doc.Info["title"])
	assert.Contains(t, doc.Paths, "/api/v1/segmentation/segment")
	assert.Contains(t, doc.Paths["/api/v1/images/upload"], "post")
}
