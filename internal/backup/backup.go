// Package backup uploads an encrypted nightly snapshot of the SQLite
// database to S3-compatible storage and prunes snapshots past retention.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ewhitmore/vigil/internal/store"
)

// s3Client is the slice of the S3 API the manager uses; an interface for
// testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager settings.
type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	ScheduleHour  int // UTC hour the nightly snapshot runs
	RetentionDays int
}

// Manager runs the nightly snapshot schedule. Disabled (never errors, never
// uploads) when S3 credentials or the passphrase are absent.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger
	now     func() time.Time

	lastRunDate string
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{
		cfg:     cfg,
		db:      db,
		backups: backups,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether the manager has everything it needs to upload.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start begins the schedule loop. A disabled manager starts nothing.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info("backups disabled, missing S3 credentials or passphrase")
		return
	}

	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the schedule loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := m.now().UTC()
	if now.Hour() != m.cfg.ScheduleHour {
		return
	}

	date := now.Format("2006-01-02")
	m.mu.Lock()
	ran := m.lastRunDate == date
	if !ran {
		m.lastRunDate = date
	}
	m.mu.Unlock()
	if ran {
		return
	}

	if err := m.RunOnce(ctx); err != nil {
		m.logger.Error("nightly backup failed", "error", err)
	}
	if err := m.pruneOld(ctx); err != nil {
		m.logger.Error("backup retention prune failed", "error", err)
	}
}

// RunOnce snapshots, encrypts, and uploads the database immediately.
func (m *Manager) RunOnce(ctx context.Context) error {
	if !m.Enabled() {
		return fmt.Errorf("backups not configured")
	}

	timestamp := m.now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("vigil-%s.db.enc", timestamp)
	s3Key := "backups/" + filename

	record, err := m.backups.Create(filename, s3Key)
	if err != nil {
		return fmt.Errorf("create backup record: %w", err)
	}

	// Checkpoint WAL so the file read is a consistent snapshot.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	plain, err := os.ReadFile(m.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}

	sealed, err := Encrypt(plain, m.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	if err := m.upload(ctx, s3Key, sealed); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	if err := m.backups.UpdateSize(record.ID, int64(len(sealed))); err != nil {
		return fmt.Errorf("record snapshot size: %w", err)
	}

	m.logger.Info("backup uploaded", "key", s3Key, "bytes", len(sealed))
	return nil
}

func (m *Manager) upload(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// pruneOld deletes snapshots older than the retention window, remote object
// first so a failed delete is retried next night.
func (m *Manager) pruneOld(ctx context.Context) error {
	cutoff := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	old, err := m.backups.ListOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("list old backups: %w", err)
	}

	for _, b := range old {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(b.S3Key),
		})
		if err != nil {
			m.logger.Warn("failed to delete remote snapshot", "key", b.S3Key, "error", err)
			continue
		}
		if err := m.backups.Delete(b.ID); err != nil {
			return fmt.Errorf("delete backup record: %w", err)
		}
		m.logger.Info("pruned expired backup", "key", b.S3Key)
	}
	return nil
}
