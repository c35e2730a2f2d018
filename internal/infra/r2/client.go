// Package r2 offloads finished downloads to Cloudflare R2.
package r2

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds configuration for R2 client.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PresignExpiry   time.Duration
}

// Enabled reports whether enough settings are present to build a client.
func (c *Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// Client provides operations for Cloudflare R2 storage.
type Client struct {
	s3Client      *s3.Client
	bucketName    string
	presignExpiry time.Duration
	logger        *slog.Logger
}

// NewClient creates a new R2 client.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("incomplete R2 configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	logger.Info("R2 client initialized",
		"bucket", cfg.BucketName,
		"endpoint", endpoint,
	)

	return &Client{
		s3Client:      s3Client,
		bucketName:    cfg.BucketName,
		presignExpiry: expiry,
		logger:        logger,
	}, nil
}

// Offload uploads filePath under the session's prefix and returns a
// presigned download URL.
func (c *Client) Offload(ctx context.Context, sessionID, filePath string) (string, error) {
	key := ObjectKey(sessionID, filePath)

	if err := c.Upload(ctx, filePath, key); err != nil {
		return "", err
	}

	return c.GeneratePresignedURL(ctx, key, filepath.Base(filePath))
}

// ObjectKey is "<session>/<file name>".
func ObjectKey(sessionID, filePath string) string {
	return sessionID + "/" + filepath.Base(filePath)
}

// Upload uploads a file to R2.
func (c *Client) Upload(ctx context.Context, filePath, key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := ContentType(filePath)

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(fileInfo.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}

	c.logger.Info("File uploaded to R2",
		"key", key,
		"size", fileInfo.Size(),
		"content_type", contentType,
	)

	return nil
}

// GeneratePresignedURL returns a time-limited GET URL that downloads the
// object as an attachment named filename.
func (c *Client) GeneratePresignedURL(ctx context.Context, key, filename string) (string, error) {
	presignClient := s3.NewPresignClient(c.s3Client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(c.bucketName),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(ContentDisposition(filename)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = c.presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	c.logger.Debug("Generated presigned URL",
		"key", key,
		"expires_in", c.presignExpiry,
	)

	return request.URL, nil
}

// Delete deletes a file from R2.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}

	c.logger.Debug("File deleted from R2", "key", key)

	return nil
}

// DeleteOlderThan deletes objects older than the specified age.
func (c *Client) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	output, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list objects: %w", err)
	}

	threshold := time.Now().Add(-age)
	deleted := 0

	for _, obj := range output.Contents {
		if obj.Key == nil || obj.LastModified == nil || !obj.LastModified.Before(threshold) {
			continue
		}
		if err := c.Delete(ctx, *obj.Key); err != nil {
			c.logger.Warn("Failed to delete old file",
				"key", *obj.Key,
				"error", err,
			)
			continue
		}
		deleted++
	}

	return deleted, nil
}

// ContentType returns the MIME type based on file extension.
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

// ContentDisposition builds an attachment header value. Non-ASCII titles are
// carried in the RFC 2231 filename* parameter.
func ContentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
