package pluginmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher uploads a packaged archive somewhere other builds can fetch it.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// R2Client wraps the S3 client for Cloudflare R2 or any S3-compatible store.
type R2Client struct {
	Client     *s3.Client
	BucketName string
	Prefix     string
}

// NewR2Client initializes a new R2 client using configuration values.
func NewR2Client(ctx context.Context, s R2Settings) (*R2Client, error) {
	if s.AccessKey == "" || s.SecretKey == "" || s.Bucket == "" || (s.AccountID == "" && s.Endpoint == "") {
		return nil, fmt.Errorf("R2 credentials missing in configuration (R2_ACCOUNT_ID or PLUGINMGR_PUBLISH_ENDPOINT, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		Client:     client,
		BucketName: s.Bucket,
		Prefix:     s.Prefix,
	}, nil
}

// Publish uploads localPath under Prefix + its file name and returns the key.
func (r *R2Client) Publish(ctx context.Context, localPath string) (string, error) {
	key := r.Prefix + filepath.Base(localPath)
	if err := r.UploadLocalFile(ctx, key, localPath); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	return key, nil
}

// UploadLocalFile uploads a file from disk to R2.
func (r *R2Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/java-archive"),
	})
	return err
}
