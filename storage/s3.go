package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/token-provisioner/interfaces"
)

// S3Store keeps provisioning records as objects in Amazon S3 or a compatible
// service. A PutObject replaces the whole object, so readers never observe a
// partially written record.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3-backed store. When accessKey and secretKey are
// empty the default AWS credential chain is used. A custom endpoint switches
// the client to path-style addressing, as expected by S3-compatible services.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	if bucketName == "" {
		return nil, errors.New("empty S3 bucket name")
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Load fetches the object for key. A missing object is not an error.
func (s *S3Store) Load(ctx context.Context, key interfaces.StateKey) (*interfaces.ProvisioningState, error) {
	start := time.Now()
	objectKey := s.objectKey(key)

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			s.log.Debug("No provisioning state in S3",
				slog.String("bucket", s.bucketName),
				slog.String("key", objectKey))
			return nil, nil
		}

		s.log.Error("Failed to get state object from S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get state object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object body: %w", err)
	}

	state, err := DecodeState(key, data)
	if err != nil {
		return nil, err
	}

	s.log.Debug("Loaded provisioning state from S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", objectKey),
		slog.String("stage", state.Stage().String()),
		slog.Duration("duration", time.Since(start)))

	return state, nil
}

// Save uploads the record for key, replacing the previous object.
func (s *S3Store) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}

	objectKey := s.objectKey(key)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload state object to S3: %w", err)
	}

	s.log.Debug("Stored provisioning state in S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", objectKey),
		slog.String("stage", state.Stage().String()))

	return nil
}

// Name returns a unique identifier for this store.
func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucketName)
}

// LocationURI returns the URI that identifies this store.
func (s *S3Store) LocationURI() string {
	return s.locationURI
}

func (s *S3Store) objectKey(key interfaces.StateKey) string {
	name := key.String() + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == 404 {
		return true
	}
	return false
}
