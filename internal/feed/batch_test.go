package feed

import (
	"os"
	"testing"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/nvdcve-1.1-recent.json")
	require.NoError(t, err)
	return data
}

func TestDecodeBatch(t *testing.T) {
	batch, err := DecodeBatch(readFixture(t))
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())

	first := batch.Items[0]
	assert.Equal(t, "CVE-2021-43437", first.ID)
	assert.True(t, first.LastModified.Equal(time.Date(2021, 12, 17, 17, 15, 0, 0, time.UTC)))
	require.Len(t, first.Descriptions, 1)
	assert.Equal(t, "en", first.Descriptions[0].Lang)

	// Payload is the whole feed item, untouched.
	assert.True(t, gjson.Valid(first.Payload))
	assert.Equal(t, "CVE-2021-43437", gjson.Get(first.Payload, "cve.CVE_data_meta.ID").String())
	assert.Equal(t, "2021-12-17T17:15Z", gjson.Get(first.Payload, "lastModifiedDate").String())

	second := batch.Items[1]
	assert.Len(t, second.Descriptions, 3)
}

func TestDecodeBatch_Empty(t *testing.T) {
	batch, err := DecodeBatch([]byte(`{"CVE_Items": []}`))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())

	batch, err = DecodeBatch([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())
}

func TestDecodeBatch_Errors(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{"CVE_Items": [`,
		"items object":    `{"CVE_Items": {}}`,
		"item not object": `{"CVE_Items": [1]}`,
		"missing id":      `{"CVE_Items": [{"cve": {"CVE_data_meta": {}}}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(doc))
			assert.ErrorIs(t, err, cacheerr.ErrSerialization)
		})
	}
}

func TestDecodeBatch_UnparseableRecordTimestamp(t *testing.T) {
	doc := `{"CVE_Items": [{"cve": {"CVE_data_meta": {"ID": "CVE-1"}}, "lastModifiedDate": "soon"}]}`
	batch, err := DecodeBatch([]byte(doc))
	require.NoError(t, err)
	assert.True(t, batch.Items[0].LastModified.IsZero())
}

func TestEnglishDescription(t *testing.T) {
	assert.Nil(t, EnglishDescription(nil))
	assert.Nil(t, EnglishDescription([]LocalizedText{{Lang: "fr", Value: "bonjour"}}))

	got := EnglishDescription([]LocalizedText{
		{Lang: "es", Value: "hola"},
		{Lang: "en", Value: "first"},
		{Lang: "en", Value: "second"},
	})
	require.NotNil(t, got)
	assert.Equal(t, "first", *got)
}
