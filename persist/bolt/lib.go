// Package bolt stores segments in a single bbolt database file.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jrhy/segment"
)

var bucketName = []byte("segment")

// Options configure the database.
type Options struct {
	// IsTesting trades durability for speed.
	IsTesting bool
	MmapSize  int
}

// Persist implements the segment.Persist interface with one key per
// segment, and one for the head pointer, in a bbolt bucket.
type Persist struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string, opt Options) (*Persist, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	db, err := bbolt.Open(path, 0o666, bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &Persist{db}, nil
}

// Close closes the database.
func (p *Persist) Close() error {
	return p.db.Close()
}

// Load returns a copy of the value stored under name.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	var b []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("bolt key %s: %w", name, segment.ErrNotFound)
		}
		b = bytes.Clone(v)
		return nil
	})
	return b, err
}

// Store replaces the value under name. Concurrent stores are batched
// into shared transactions.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(name), b)
	})
}

// List returns the stored names with the given prefix, in key order.
func (p *Persist) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	return names, err
}
