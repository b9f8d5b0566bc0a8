// Package store provides a uniform document CRUD surface over two
// interchangeable engines: MongoDB and a directory of JSON files, one
// array file per collection. Everything built on top of a Collection is
// storage-agnostic.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IDField is the document field holding the unique identifier in both
// engines.
const IDField = "_id"

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Collection is a typed view of one collection.
type Collection[T any] interface {
	// Find returns every document matching f, in storage order.
	Find(ctx context.Context, f Filter) ([]T, error)
	// FindOne returns the first matching document. Which document is
	// returned when several match is implementation-defined (first found).
	FindOne(ctx context.Context, f Filter) (T, error)
	FindByID(ctx context.Context, id string) (T, error)
	// Create assigns a fresh id, fills defaulted fields and persists doc.
	Create(ctx context.Context, doc T) (T, error)
	// UpdateByID applies u atomically with respect to other writers of the
	// same collection and returns the updated document.
	UpdateByID(ctx context.Context, id string, u Update) (T, error)
	// EnsureUnique makes Create fail with ErrDuplicate when another
	// document already holds the same value for field. Documents without
	// the field are not constrained.
	EnsureUnique(ctx context.Context, field string) error
}

// Backend is a storage engine selected once at startup.
type Backend interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open returns the named collection of the given backend.
func Open[T any](b Backend, name string) (Collection[T], error) {
	switch be := b.(type) {
	case *FileBackend:
		return &fileCollection[T]{backend: be, name: name}, nil
	case *MongoBackend:
		return &mongoCollection[T]{coll: be.db.Collection(name), timeout: be.timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %T", b)
	}
}

// identifiable documents get their id assigned by Create.
type identifiable interface {
	SetID(id string)
}

// defaulter documents fill zero-valued fields by Create.
type defaulter interface {
	SetDefaults(now time.Time)
}

func prepare[T any](doc *T, id string) {
	if d, ok := any(doc).(identifiable); ok {
		d.SetID(id)
	}
	if d, ok := any(doc).(defaulter); ok {
		d.SetDefaults(time.Now().UTC())
	}
}
