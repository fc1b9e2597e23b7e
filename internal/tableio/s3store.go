package tableio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tabsdata/tdworker/internal/turi"
)

// s3Store backs s3:// locations via aws-sdk-go-v2, for table Scan/Sink
// traffic and, through FetchObject (supervisor.ObjectFetcher), for
// fetching s3:// bundles.
type s3Store struct {
	client *s3.Client
}

func newS3Store(loc turi.Location) (*s3Store, error) {
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error

	if key, ok := mountEnv(loc, "access_key"); ok {
		secret, _ := mountEnv(loc, "secret_key")
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	if region, ok := mountEnv(loc, "region"); ok {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tableio: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint, ok := mountEnv(loc, "endpoint"); ok {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &s3Store{client: client}, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("tableio: %q is not an s3:// uri", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (s *s3Store) get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Store) put(ctx context.Context, uri string, data []byte) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
