package chunkstore

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/metrics"
)

type instrumented struct {
	Store
	m *metrics.Metrics
}

// Instrument wraps s so every call is recorded in m.
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, m: m}
}

func (i *instrumented) Put(ctx context.Context, ref ChunkRef, data []byte) (Locator, error) {
	start := time.Now()
	loc, err := i.Store.Put(ctx, ref, data)
	i.m.RecordStore(i.Backend(), "put", time.Since(start), err)
	return loc, err
}

func (i *instrumented) Get(ctx context.Context, userID string, loc Locator) ([]byte, error) {
	start := time.Now()
	data, err := i.Store.Get(ctx, userID, loc)
	i.m.RecordStore(i.Backend(), "get", time.Since(start), err)
	return data, err
}

func (i *instrumented) Delete(ctx context.Context, userID string, loc Locator) error {
	start := time.Now()
	err := i.Store.Delete(ctx, userID, loc)
	i.m.RecordStore(i.Backend(), "delete", time.Since(start), err)
	return err
}
