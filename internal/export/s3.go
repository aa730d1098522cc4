package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// PutObjectAPI is the part of the S3 client the archiver calls.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores send-log CSVs under <prefix><campaign_id>/<timestamp>.csv.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver creates an archiver using the default AWS credential chain.
func NewArchiver(ctx context.Context, region, bucket, prefix string) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for send-log archive: %w", err)
	}
	return NewArchiverWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewArchiverWithClient wraps an existing S3 client.
func NewArchiverWithClient(client PutObjectAPI, bucket, prefix string) *Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Archive uploads the send log and returns the object key.
func (a *Archiver) Archive(ctx context.Context, campaignID string, entries []domain.SendLogEntry) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		return "", fmt.Errorf("render send log: %w", err)
	}

	key := fmt.Sprintf("%s%s/%s.csv", a.prefix, campaignID, a.now().UTC().Format("20060102T150405Z"))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}

	logger.Info("[Export] send log archived", "campaign_id", campaignID, "key", key, "rows", len(entries))
	return key, nil
}
