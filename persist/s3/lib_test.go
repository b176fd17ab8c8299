package s3_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrhy/segment"
	"github.com/jrhy/segment/memory"
	s3Persist "github.com/jrhy/segment/persist/s3"
	"github.com/jrhy/segment/persist/s3test"
)

var ctx = context.Background()

func TestHappyCase(t *testing.T) {
	t.Parallel()
	p := s3test.NewBucket(t).Persist("prefix/")
	err := p.Store(ctx, "foofoo", []byte("here is some stuff"))
	require.NoError(t, err)
	b, err := p.Load(ctx, "foofoo")
	require.NoError(t, err)
	assert.Equal(t, []byte("here is some stuff"), b)

	err = p.Store(ctx, "foofoo", []byte("replaced"))
	require.NoError(t, err)
	b, err = p.Load(ctx, "foofoo")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), b)

	names, err := p.List(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foofoo"}, names)

	_, err = p.Load(ctx, "missing")
	assert.ErrorIs(t, err, segment.ErrNotFound)
}

// countingClient counts PutObject calls.
type countingClient struct {
	s3Persist.S3Interface
	puts int32
}

func (c *countingClient) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	atomic.AddInt32(&c.puts, 1)
	return c.S3Interface.PutObjectWithContext(ctx, input, opts...)
}

func TestUnchangedStoreIsSkipped(t *testing.T) {
	t.Parallel()
	bucket := s3test.NewBucket(t)
	counting := &countingClient{S3Interface: bucket.Client}

	p := s3Persist.NewPersist(counting, bucket.Name, "")
	require.NoError(t, p.Store(ctx, "k", []byte("v1")))
	require.NoError(t, p.Store(ctx, "k", []byte("v1")))
	assert.EqualValues(t, 1, atomic.LoadInt32(&counting.puts))
	require.NoError(t, p.Store(ctx, "k", []byte("v2")))
	assert.EqualValues(t, 2, atomic.LoadInt32(&counting.puts))
}

func TestStoreInS3(t *testing.T) {
	t.Parallel()
	bucket := s3test.NewBucket(t)

	store, err := segment.NewStore(segment.StoreConfig{Persist: bucket.Persist("tree/")})
	require.NoError(t, err)
	w, err := segment.NewWriter(store, segment.WriterConfig{})
	require.NoError(t, err)
	children := map[string]memory.NodeState{}
	for _, name := range []string{"a", "b", "c"} {
		children[name] = memory.NewNode([]*memory.PropertyState{memory.StringProperty("name", name)}, nil)
	}
	tree := memory.NewNode(nil, children)
	_, err = w.Commit(ctx, tree)
	require.NoError(t, err)

	reopened, err := segment.NewStore(segment.StoreConfig{Persist: bucket.Persist("tree/")})
	require.NoError(t, err)
	head, err := reopened.Head(ctx)
	require.NoError(t, err)
	n, err := segment.NewReader(reopened).ReadNode(ctx, head.Node)
	require.NoError(t, err)
	equal, err := memory.Equal(ctx, tree, n)
	require.NoError(t, err)
	assert.True(t, equal)
}
