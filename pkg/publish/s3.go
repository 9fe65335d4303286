package publish

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of *s3.Client used by S3Publisher.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher writes each saved page to an S3 object.
//
// Example usage:
//
//	client := s3.New(s3.Options{Region: "us-east-1", Credentials: creds})
//	pub := publish.NewS3Publisher(client, "wiki-pages", "drafts/")
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Publisher creates a publisher writing under bucket/prefix.
func NewS3Publisher(client S3API, bucket, prefix string) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Key returns the object key for a title.
func (p *S3Publisher) Key(title string) string {
	return p.prefix + url.PathEscape(title) + ".html"
}

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, page Page) error {
	if page.Title == "" {
		return ErrEmptyTitle
	}

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.Key(page.Title)),
		Body:        strings.NewReader(page.HTML),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata: map[string]string{
			"title":     page.Title,
			"revision":  strconv.FormatUint(page.Revision, 10),
			"user-id":   page.UserID,
			"summary":   page.Summary,
			"save-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("publish: s3 put %q: %w", page.Title, err)
	}
	return nil
}
