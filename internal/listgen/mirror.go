package listgen

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
)

// Mirrors holds optional best-effort publish targets for the instance list.
// A nil field disables that mirror. Failures here never block or roll back
// the local atomic publish, which remains the system of record.
type Mirrors struct {
	Redis       *redis.Client
	RedisTTL    time.Duration
	RedisKey    string // default "fedicrawl:instances" if empty
	RedisSetKey string // default "fedicrawl:instances:set" if empty

	S3Client *s3.Client
	S3Bucket string
	S3Prefix string
}

func (m *Mirrors) redisKey() string {
	if m.RedisKey != "" {
		return m.RedisKey
	}
	return "fedicrawl:instances"
}

func (m *Mirrors) redisSetKey() string {
	if m.RedisSetKey != "" {
		return m.RedisSetKey
	}
	return "fedicrawl:instances:set"
}

// PublishRedis writes the JSON payload under a string key and the hostnames
// into a set, both with a TTL comfortably longer than the generation
// cadence, so a consumer never needs filesystem access to the crawler host.
func (m *Mirrors) PublishRedis(ctx context.Context, hosts []string, payload []byte) error {
	if m == nil || m.Redis == nil {
		return nil
	}

	ttl := m.RedisTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if err := m.Redis.Set(ctx, m.redisKey(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}

	setKey := m.redisSetKey()
	if err := m.Redis.Del(ctx, setKey).Err(); err != nil {
		return fmt.Errorf("redis DEL (set refresh): %w", err)
	}
	if len(hosts) > 0 {
		members := make([]any, len(hosts))
		for i, h := range hosts {
			members[i] = h
		}
		if err := m.Redis.SAdd(ctx, setKey, members...).Err(); err != nil {
			return fmt.Errorf("redis SADD: %w", err)
		}
		if err := m.Redis.Expire(ctx, setKey, ttl).Err(); err != nil {
			return fmt.Errorf("redis EXPIRE: %w", err)
		}
	}
	return nil
}

// PublishS3 uploads both the plain and gzipped instance list to the
// configured bucket/prefix, with the headers a static-file consumer expects.
func (m *Mirrors) PublishS3(ctx context.Context, payload, gz []byte) error {
	if m == nil || m.S3Client == nil || m.S3Bucket == "" {
		return nil
	}

	uploader := manager.NewUploader(m.S3Client)

	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.S3Bucket),
		Key:         aws.String(m.S3Prefix + jsonFilename),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("uploading %s: %w", jsonFilename, err)
	}

	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(m.S3Bucket),
		Key:             aws.String(m.S3Prefix + gzFilename),
		Body:            bytes.NewReader(gz),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	}); err != nil {
		return fmt.Errorf("uploading %s: %w", gzFilename, err)
	}

	return nil
}
