package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	logx "seatwatch/pkg/logx"
)

const s3ObjectName = "memory.json"

// objectAPI is the subset of *s3.Client used by the store.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Store keeps the record as one object. PutObject replaces the object as a
// whole, so readers never see a partial write.
type s3Store struct {
	api    objectAPI
	bucket string
	key    string
	log    logx.Logger
}

func openS3(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	sc := cfg.S3
	if strings.TrimSpace(sc.Bucket) == "" {
		return nil, errors.New("memory.s3.bucket is required for s3 driver")
	}
	region := strings.TrimSpace(sc.Region)
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if sc.AccessKeyID != "" && sc.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = sc.PathStyle
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
	})
	return newS3Store(client, sc, log), nil
}

func newS3Store(api objectAPI, sc S3Config, log logx.Logger) *s3Store {
	return &s3Store{
		api:    api,
		bucket: sc.Bucket,
		key:    objectKey(sc.Prefix),
		log:    log,
	}
}

func objectKey(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return s3ObjectName
	}
	return path.Join(prefix, s3ObjectName)
}

func (s *s3Store) Load(ctx context.Context) (Record, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if isNotFound(err) {
		s.log.Info("no memory record yet; starting empty", logx.String("bucket", s.bucket), logx.String("key", s.key))
		return Empty(), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("s3 get %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("s3 read %s/%s: %w", s.bucket, s.key, err)
	}
	return Decode(b)
}

func (s *s3Store) Save(ctx context.Context, r Record) error {
	b, err := Encode(r)
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *s3Store) Close() error { return nil }

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
