// Package s3test provides empty S3 buckets to tests of segment stores.
//
// Buckets live on an in-process gofakes3 server unless
// SEGMENT_TEST_S3_ENDPOINT names a real endpoint, in which case the
// usual AWS_* environment variables supply credentials and region.
package s3test

import (
	"net/http/httptest"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	s3persist "github.com/jrhy/segment/persist/s3"
)

// EndpointEnv names the variable that points tests at a real S3 endpoint.
const EndpointEnv = "SEGMENT_TEST_S3_ENDPOINT"

// Bucket is a bucket created for one test.
type Bucket struct {
	Client *s3.S3
	Name   string
}

// NewBucket creates an empty bucket. The fake server, if any, is shut
// down when the test ends.
func NewBucket(t testing.TB) *Bucket {
	t.Helper()
	config := &aws.Config{S3ForcePathStyle: aws.Bool(true)}
	if endpoint := os.Getenv(EndpointEnv); endpoint != "" {
		region := os.Getenv("AWS_DEFAULT_REGION")
		if region == "" {
			t.Fatalf("%s is set but AWS_DEFAULT_REGION is not", EndpointEnv)
		}
		config.Credentials = credentials.NewEnvCredentials()
		config.Endpoint = aws.String(endpoint)
		config.Region = aws.String(region)
	} else {
		ts := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
		t.Cleanup(ts.Close)
		config.Credentials = credentials.NewStaticCredentials("TEST-ACCESSKEYID", "TEST-SECRETACCESSKEY", "")
		config.Endpoint = aws.String(ts.URL)
		config.Region = aws.String("ca-west-1")
		config.DisableSSL = aws.Bool(true)
	}
	sess, err := session.NewSession(config)
	if err != nil {
		t.Fatalf("s3 session: %v", err)
	}
	b := &Bucket{Client: s3.New(sess), Name: "segment-test-" + uuid.NewString()}
	if _, err := b.Client.CreateBucket(&s3.CreateBucketInput{Bucket: &b.Name}); err != nil {
		t.Fatalf("create bucket %s: %v", b.Name, err)
	}
	return b
}

// Persist returns a segment Persist over the bucket that keeps its
// objects under prefix.
func (b *Bucket) Persist(prefix string) *s3persist.Persist {
	return s3persist.NewPersist(b.Client, b.Name, prefix)
}
