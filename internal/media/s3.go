package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Config struct {
	Bucket string
	Region string
	// Endpoint points at an S3 compatible service such as MinIO. Path
	// style addressing is used when it is set.
	Endpoint string
	// MaxFailures consecutive upload failures open the breaker.
	MaxFailures uint32
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
}

// S3Store uploads attachments to a bucket. Uploads go through a circuit
// breaker so a failing bucket rejects sends quickly instead of holding
// request handlers for the full SDK retry cycle.
type S3Store struct {
	log      *zap.SugaredLogger
	uploader uploader
	cb       *gobreaker.CircuitBreaker
	bucket   string
	baseURL  string
}

func NewS3Store(ctx context.Context, logger *zap.SugaredLogger, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket cannot be empty")
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(logger, manager.NewUploader(client), cfg), nil
}

func newS3Store(logger *zap.SugaredLogger, up uploader, cfg S3Config) *S3Store {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "s3-media",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &S3Store{
		log:      logger,
		uploader: up,
		cb:       gobreaker.NewCircuitBreaker(st),
		bucket:   cfg.Bucket,
		baseURL:  objectBaseURL(cfg),
	}
}

func objectBaseURL(cfg S3Config) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(size),
		})
	})
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", key, err)
	}

	s.log.Debugw("uploaded media", "bucket", s.bucket, "key", key, "size", size)
	return s.baseURL + "/" + escapeKey(key), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
