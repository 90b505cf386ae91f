// Package outbox implements the ShuffleHandle actuator: shipping committed
// outbox messages to their destination. Grounded on the teacher's S3
// storage client construction (region/endpoint/path-style wiring), adapted
// here to a direct aws-sdk-go-v2 PutObject call per message rather than
// through a proprietary dataset abstraction, since outbox messages are
// discrete envelopes, not an appendable event log.
package outbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
)

// Config configures the S3-backed outbox shipper.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	ZstdCompress bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("outbox: bucket is required")
	}
	return nil
}

// Shipper ships outbox messages to S3, one object per message, keyed by
// partition, destination and the wall-clock time of the upload.
// Re-shipping the same message writes a new object; it does not overwrite
// the earlier one.
type Shipper struct {
	client    *s3.Client
	bucket    string
	prefix    string
	compress  bool
	encoder   *zstd.Encoder
	logger    *zap.Logger
	partition ids.PartitionID
}

// New constructs a Shipper from cfg, loading AWS credentials from the
// default chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config, partition ids.PartitionID, logger *zap.Logger) (*Shipper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("outbox: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	var enc *zstd.Encoder
	if cfg.ZstdCompress {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("outbox: construct zstd encoder: %w", err)
		}
	}

	return &Shipper{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		compress:  cfg.ZstdCompress,
		encoder:   enc,
		logger:    logger,
		partition: partition,
	}, nil
}

// Ship uploads msg, msgpack-encoded and optionally zstd-compressed, to a
// key derived from the partition id, the message's destination and the
// current time.
func (s *Shipper) Ship(ctx context.Context, msg *envelope.EnqueueOutboxMessage) error {
	if msg == nil {
		return fmt.Errorf("outbox: nil message")
	}

	body, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbox: encode message: %w", err)
	}
	if s.compress {
		body = s.encoder.EncodeAll(body, nil)
	}

	key := fmt.Sprintf("%s%d/%s-%d.msgpack", s.prefix, s.partition, msg.Destination, time.Now().UnixNano())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("outbox: put object %s/%s: %w", s.bucket, key, err)
	}
	if s.logger != nil {
		s.logger.Debug("shipped outbox message", zap.String("key", key), zap.String("destination", msg.Destination))
	}
	return nil
}

// Shutdown releases Shipper resources. S3 requests in flight at call time
// are allowed to finish; there is nothing to cancel beyond ctx deadlines
// already applied by callers.
func (s *Shipper) Shutdown(deadline time.Duration) error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	return nil
}
