package domain

import "context"

// BlobWriter writes objects to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader reads objects from cold storage.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver moves aged funding-rate history out of the hot store into blob
// storage.
type Archiver interface {
	ArchiveFundingRates(ctx context.Context, olderThanDays int) (archived int, err error)
}
