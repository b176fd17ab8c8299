package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/minio/blake2b-simd"

	"github.com/jrhy/segment"
)

type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
}

// Persist implements the segment.Persist interface for storing and
// loading segments and the head pointer as S3 objects. It remembers a
// digest of recently stored and loaded objects, and skips storing bytes
// an object is known to hold already.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string

	mu  sync.Mutex
	lru *simplelru.LRU
}

type digest [32]byte

func (p *Persist) remember(name string, b []byte) {
	d := digest(blake2b.Sum256(b))
	p.mu.Lock()
	p.lru.Add(name, d)
	p.mu.Unlock()
}

func (p *Persist) holds(name string, b []byte) bool {
	p.mu.Lock()
	v, ok := p.lru.Get(name)
	p.mu.Unlock()
	return ok && v.(digest) == digest(blake2b.Sum256(b))
}

// Load loads the bytes persisted in the named object.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	input := s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	}
	output, err := p.s3.GetObjectWithContext(ctx, &input)
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: %w", segment.ErrNotFound, err)
		}
		return nil, err
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	p.remember(name, b)
	return b, nil
}

// Store persists the given bytes in the object of the given name,
// replacing it.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	if p.holds(name, b) {
		return nil
	}
	input := s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(b),
	}
	_, err := p.s3.PutObjectWithContext(ctx, &input)
	if err != nil {
		return err
	}
	p.remember(name, b)
	return nil
}

// List returns the names of the objects under the given prefix.
func (p *Persist) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	input := s3.ListObjectsV2Input{
		Bucket: &p.BucketName,
		Prefix: aws.String(p.Prefix + prefix),
	}
	err := p.s3.ListObjectsV2PagesWithContext(ctx, &input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(o.Key), p.Prefix))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// NewPersist returns a Persist that loads and stores segments as
// objects with the given S3 client, bucket name and key prefix.
func NewPersist(client S3Interface, bucketName, prefix string) *Persist {
	lru, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &Persist{s3: client, BucketName: bucketName, Prefix: prefix, lru: lru}
}
