// Package query answers read-only lookups against the local cache.
// It never contacts the remote feed.
package query

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"github.com/tidwall/gjson"
)

// Reader is the read side of the local store.
type Reader interface {
	GetRecord(ctx context.Context, id string) (*store.Record, error)
	ListAllRecords(ctx context.Context) ([]*store.Record, error)
	SearchDescription(ctx context.Context, text string) ([]string, error)
}

// Service runs lookups against a Reader.
type Service struct {
	reader Reader
}

// New returns a Service reading from r.
func New(r Reader) *Service {
	return &Service{reader: r}
}

// FindByID returns the record with the given id. A miss is reported as a
// cacheerr.KindNotFound error; a stored payload that is not valid JSON is a
// serialization error.
func (s *Service) FindByID(ctx context.Context, id string) (*store.Record, error) {
	rec, err := s.reader.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(rec.Payload) {
		return nil, cacheerr.Serialization("find by id", fmt.Errorf("record %s has an invalid payload", id))
	}
	return rec, nil
}

// FindByDescription returns the ids of records whose English description
// contains text, with LIKE wildcards honoured. No match yields an empty,
// non-nil slice.
func (s *Service) FindByDescription(ctx context.Context, text string) ([]string, error) {
	ids, err := s.reader.SearchDescription(ctx, text)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// All returns every cached record ordered by id.
func (s *Service) All(ctx context.Context) ([]*store.Record, error) {
	return s.reader.ListAllRecords(ctx)
}
