package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
)

// Options selects the bucket and, for S3-compatible stores, the endpoint and
// static credentials. Without AccessKeyID the default AWS chain is used.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Password enables GCM3NCR0 encryption of uploaded transcripts.
	Password string
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type bucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Archiver uploads closed session transcripts as markdown.
type Archiver struct {
	up       uploader
	get      objectGetter
	head     bucketHeader
	bucket   string
	password string
	now      func() time.Time
}

// NewArchiver creates an S3-backed archiver.
func NewArchiver(ctx context.Context, opts Options) (*Archiver, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is empty")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	a := newArchiver(manager.NewUploader(cli), cli, opts.Bucket, opts.Password)
	a.head = cli
	return a, nil
}

func newArchiver(up uploader, get objectGetter, bucket, password string) *Archiver {
	return &Archiver{up: up, get: get, bucket: bucket, password: password, now: time.Now}
}

// Ping checks that the bucket is reachable with the loaded credentials.
func (a *Archiver) Ping(ctx context.Context) error {
	if a.head == nil {
		return nil
	}
	_, err := a.head.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}

// Key returns transcripts/<yyyy>/<mm>/<session id>.md for the archive time.
func Key(sessionID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("transcripts/%04d/%02d/%s.md", at.Year(), int(at.Month()), sessionID)
}

// Archive uploads the transcript. An empty history is not uploaded.
func (a *Archiver) Archive(ctx context.Context, sessionID string, turns []ai.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	at := a.now()
	key := Key(sessionID, at)
	body := []byte(RenderTranscript(sessionID, at, turns))

	meta := map[string]string{"session-id": sessionID, "turns": fmt.Sprint(len(turns))}
	if a.password != "" {
		enc, err := Encrypt(body, a.password)
		if err != nil {
			return fmt.Errorf("failed to encrypt transcript: %w", err)
		}
		body = enc
		meta["encrypted"] = "true"
		meta["encryption-format"] = gcmMagic
	}

	_, err := a.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Str("session_id", sessionID).Bool("encrypted", a.password != "").Msg("archived transcript")
	return nil
}

// Fetch downloads an archived transcript, decrypting it when needed.
func (a *Archiver) Fetch(ctx context.Context, key string) (string, error) {
	res, err := a.get.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to download from S3: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read S3 object: %w", err)
	}
	if IsEncrypted(data) {
		if a.password == "" {
			return "", fmt.Errorf("transcript %s is encrypted and no password is configured", key)
		}
		if data, err = Decrypt(data, a.password); err != nil {
			return "", err
		}
	}
	return string(data), nil
}

// RenderTranscript formats a session history as markdown. Images are listed,
// not embedded.
func RenderTranscript(sessionID string, at time.Time, turns []ai.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\nArchived %s\n", sessionID, at.UTC().Format(time.RFC3339))
	for _, t := range turns {
		heading := "User"
		if t.Role == ai.RoleModel {
			heading = "Assistant"
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		if txt := t.Text(); txt != "" {
			b.WriteString(txt)
			b.WriteString("\n")
		}
		for i, img := range t.Images() {
			fmt.Fprintf(&b, "\n_[image %d: %s, %d bytes]_\n", i+1, img.MIME, len(img.Data))
		}
	}
	return b.String()
}
