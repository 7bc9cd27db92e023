package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/query"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*iap.Record
}

func NewInMemory() iap.Store {
	return &InMemoryStore{
		records: map[string]*iap.Record{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*iap.Record)
}

func (s *InMemoryStore) CreateRecord(ctx context.Context, record *iap.Record) error {
	if len(record.ReceiptID) == 0 {
		return errors.New("receipt id is required")
	}
	if record.Type == iap.IntentUnknown {
		return errors.New("intent type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[string(record.ReceiptID)]
	if ok {
		return iap.ErrExists
	}

	s.records[string(record.ReceiptID)] = record.Clone()

	return nil
}

func (s *InMemoryStore) GetRecord(ctx context.Context, receiptID []byte) (*iap.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[string(receiptID)]
	if !ok {
		return nil, iap.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) GetRecords(ctx context.Context, opts ...query.Option) ([]*iap.Record, error) {
	applied := query.ApplyOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*iap.Record
	for _, record := range s.records {
		if applied.Token != nil {
			cmp := bytes.Compare(record.ReceiptID, applied.Token)
			if applied.Order == query.Ascending && cmp <= 0 {
				continue
			}
			if applied.Order == query.Descending && cmp >= 0 {
				continue
			}
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		less := bytes.Compare(records[i].ReceiptID, records[j].ReceiptID) < 0
		if applied.Order == query.Descending {
			return !less
		}
		return less
	})

	if len(records) > applied.Limit {
		records = records[:applied.Limit]
	}
	if len(records) == 0 {
		return nil, iap.ErrNotFound
	}

	cloned := make([]*iap.Record, len(records))
	for i, record := range records {
		cloned[i] = record.Clone()
	}
	return cloned, nil
}
