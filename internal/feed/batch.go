package feed

import (
	"fmt"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/tidwall/gjson"
)

// EnglishTag is the language tag of the description kept in the local store.
const EnglishTag = "en"

// Paths into an NVD JSON 1.1 feed.
const (
	itemsPath        = "CVE_Items"
	idPath           = "cve.CVE_data_meta.ID"
	lastModifiedPath = "lastModifiedDate"
	descriptionsPath = "cve.description.description_data"
)

// recordTimestampLayouts are tried in order for a record's own lastModifiedDate.
// NVD publishes minute precision with a zone suffix, e.g. 2021-12-18T19:15Z.
var recordTimestampLayouts = []string{
	"2006-01-02T15:04Z07:00",
	time.RFC3339,
	TimestampLayout,
}

// LocalizedText is one language variant of a record description.
type LocalizedText struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// BatchItem is one record as it arrives in a partition batch.
type BatchItem struct {
	// ID addresses the record globally.
	ID string

	// LastModified is the record's own timestamp. The zero value means the
	// feed did not carry a parseable one.
	LastModified time.Time

	// Descriptions holds every localized description of the record.
	Descriptions []LocalizedText

	// Payload is the raw JSON text of the whole feed item.
	Payload string
}

// RecordBatch is the in-memory content of one fetched partition.
type RecordBatch struct {
	Items []BatchItem
}

// Len returns the number of records in the batch.
func (b *RecordBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

// EnglishDescription returns the first description tagged "en", or nil.
func EnglishDescription(texts []LocalizedText) *string {
	for _, t := range texts {
		if t.Lang == EnglishTag {
			v := t.Value
			return &v
		}
	}
	return nil
}

// DecodeBatch decodes an NVD JSON 1.1 feed document. Each item's payload is
// kept verbatim; only the id, the record timestamp and the descriptions are
// extracted.
func DecodeBatch(data []byte) (*RecordBatch, error) {
	if !gjson.ValidBytes(data) {
		return nil, cacheerr.Serialization("decode batch", fmt.Errorf("invalid JSON document"))
	}

	items := gjson.GetBytes(data, itemsPath)
	if items.Exists() && !items.IsArray() {
		return nil, cacheerr.Serialization("decode batch", fmt.Errorf("%s is not an array", itemsPath))
	}

	batch := &RecordBatch{}
	var decodeErr error
	items.ForEach(func(_, item gjson.Result) bool {
		bi, err := decodeItem(item)
		if err != nil {
			decodeErr = fmt.Errorf("item %d: %w", len(batch.Items), err)
			return false
		}
		batch.Items = append(batch.Items, bi)
		return true
	})
	if decodeErr != nil {
		return nil, cacheerr.Serialization("decode batch", decodeErr)
	}

	return batch, nil
}

func decodeItem(item gjson.Result) (BatchItem, error) {
	if !item.IsObject() {
		return BatchItem{}, fmt.Errorf("not an object")
	}

	id := item.Get(idPath)
	if id.Type != gjson.String || id.Str == "" {
		return BatchItem{}, fmt.Errorf("missing %s", idPath)
	}

	bi := BatchItem{
		ID:           id.Str,
		LastModified: parseRecordTimestamp(item.Get(lastModifiedPath).String()),
		Payload:      item.Raw,
	}

	item.Get(descriptionsPath).ForEach(func(_, d gjson.Result) bool {
		bi.Descriptions = append(bi.Descriptions, LocalizedText{
			Lang:  d.Get("lang").String(),
			Value: d.Get("value").String(),
		})
		return true
	})

	return bi, nil
}

func parseRecordTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range recordTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
