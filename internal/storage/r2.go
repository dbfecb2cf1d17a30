package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultSignTTL = time.Hour

type R2Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicDomain is the domain the bucket is served from (CDN or r2.dev).
	// Optional; PublicURL fails without it.
	PublicDomain string
}

type R2Client struct {
	bucket       string
	publicDomain string
	s3           *s3.Client
	presign      *s3.PresignClient
}

func NewR2Client(ctx context.Context, cfg R2Config) (*R2Client, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Region = strings.TrimSpace(cfg.Region)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.PublicDomain = strings.TrimSpace(cfg.PublicDomain)

	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("r2 config incomplete")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = &cfg.Endpoint
	})

	return &R2Client{
		bucket:       cfg.Bucket,
		publicDomain: cfg.PublicDomain,
		s3:           client,
		presign:      s3.NewPresignClient(client),
	}, nil
}

func (c *R2Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key = strings.TrimSpace(key)
	contentType = strings.TrimSpace(contentType)
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	cacheControl := "public, max-age=31536000, immutable"

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &c.bucket,
		Key:          &key,
		Body:         bytes.NewReader(data),
		ContentType:  &contentType,
		CacheControl: &cacheControl,
	})
	return err
}

func (c *R2Client) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	return err
}

// SignedGetURL returns a time-limited presigned GET URL for key.
func (c *R2Client) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	if ttl <= 0 {
		ttl = DefaultSignTTL
	}
	out, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// PublicURL maps key to its public (CDN) form without touching the network.
func (c *R2Client) PublicURL(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	if c.publicDomain == "" {
		return "", fmt.Errorf("no public domain configured")
	}
	u := url.URL{
		Scheme: "https",
		Host:   c.publicDomain,
		Path:   "/" + strings.TrimPrefix(key, "/"),
	}
	return u.String(), nil
}
