// Package archive keeps the raw WhatsApp webhook bodies in S3 for replay and
// dispute investigation.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ErrNotArchived is returned by Fetch for unknown events.
var ErrNotArchived = errors.New("archive: webhook not archived")

// ManifestEntry is one line of the daily JSONL manifest.
type ManifestEntry struct {
	EventID    string `json:"event_id"`
	S3Key      string `json:"s3_key"`
	PhoneHash  string `json:"phone_hash,omitempty"`
	Kind       string `json:"kind,omitempty"`
	ReceivedAt string `json:"received_at"`
	Bytes      int    `json:"bytes"`
}

// Webhook is one raw delivery to archive.
type Webhook struct {
	EventID    string
	From       string
	Kind       string
	Body       []byte
	ReceivedAt time.Time
}

// Store writes raw webhooks to S3. With no bucket every call is a no-op.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Key is the object key for eventID received on day.
func Key(eventID string, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("webhooks/whatsapp/by-date/%d/%02d/%02d/%s.json",
		day.Year(), day.Month(), day.Day(), sanitize(eventID))
}

func manifestKey(day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("webhooks/whatsapp/manifests/%d-%02d-%02d.jsonl", day.Year(), day.Month(), day.Day())
}

// HashPhone returns the hex SHA-256 of a phone number so manifests never
// carry the number itself.
func HashPhone(phone string) string {
	if phone == "" {
		return ""
	}
	h := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(h[:])
}

// ArchiveWebhook stores the raw body and appends a manifest line.
func (s *Store) ArchiveWebhook(ctx context.Context, w Webhook) error {
	if !s.Enabled() {
		return nil
	}
	if w.EventID == "" {
		return fmt.Errorf("archive: event id required")
	}
	if w.ReceivedAt.IsZero() {
		w.ReceivedAt = time.Now().UTC()
	}

	key := Key(w.EventID, w.ReceivedAt)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(w.Body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Debug("archived webhook", "event_id", w.EventID, "s3_key", key)

	entry := ManifestEntry{
		EventID:    w.EventID,
		S3Key:      key,
		PhoneHash:  HashPhone(w.From),
		Kind:       w.Kind,
		ReceivedAt: w.ReceivedAt.UTC().Format(time.RFC3339),
		Bytes:      len(w.Body),
	}
	if err := s.appendManifest(ctx, w.ReceivedAt, entry); err != nil {
		s.logger.Warn("failed to append webhook manifest", "error", err, "event_id", w.EventID)
	}
	return nil
}

// Fetch returns the archived body of eventID received on day.
func (s *Store) Fetch(ctx context.Context, eventID string, day time.Time) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrNotArchived
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(Key(eventID, day)),
	})
	if isNotFound(err) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// appendManifest rewrites the daily manifest with entry appended; S3 has no
// append.
func (s *Store) appendManifest(ctx context.Context, day time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := manifestKey(day)

	var existing []byte
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, _ = io.ReadAll(out.Body)
		out.Body.Close()
	case !isNotFound(err):
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(id)
}
