package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEraFile(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
		fileName    string
		items       int
	}{
		{
			name:     "defaults file name",
			body:     `{"payer_name":"Acme","auto_post":true,"items":[{"claim_id":1,"paid_amount":"12.50","payment_date":"2026-01-05"}]}`,
			fileName: "remit.json",
			items:    1,
		},
		{
			name:     "keeps file name",
			body:     `{"file_name":"era_0105.835","items":[{"claim_id":1,"paid_amount":1},{"claim_id":2,"paid_amount":"2"}]}`,
			fileName: "era_0105.835",
			items:    2,
		},
		{name: "no items", body: `{"items":[]}`, expectError: true},
		{name: "malformed", body: `{"items":`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := loadEraFile(writeFile(t, "remit.json", tt.body))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fileName, req.FileName)
			assert.Len(t, req.Items, tt.items)

			batch, err := req.ToBatchRequest(3)
			require.NoError(t, err)
			assert.Equal(t, uint(3), batch.ActorID)
			assert.Len(t, batch.Items, tt.items)
		})
	}
}

func TestLoadEraFile_BadDate(t *testing.T) {
	req, err := loadEraFile(writeFile(t, "remit.json", `{"items":[{"claim_id":1,"paid_amount":"1","payment_date":"01/05/2026"}]}`))
	require.NoError(t, err)

	_, err = req.ToBatchRequest(1)
	assert.Error(t, err)
}

func TestLoadEraFile_Missing(t *testing.T) {
	_, err := loadEraFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
