package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/render"
)

// ObjectArchive 把报告的 JSON 与 Markdown 写入对象存储
type ObjectArchive struct {
	client *minio.Client
	bucket string
}

// NewObjectArchive 创建对象存储归档
func NewObjectArchive(cfg config.ArchiveConfig) (*ObjectArchive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "macro-pulse-reports"
	}
	return &ObjectArchive{client: client, bucket: bucket}, nil
}

func (a *ObjectArchive) Name() string { return "minio" }

// ObjectPrefix 报告对象的前缀，按日期分目录
func ObjectPrefix(r *model.FinalReport) string {
	return fmt.Sprintf("reports/%s/%s", r.GeneratedAt.Format("2006-01-02"), r.RunID)
}

func (a *ObjectArchive) Publish(ctx context.Context, r *model.FinalReport) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s failed: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s failed: %w", a.bucket, err)
		}
	}

	data, err := json.MarshalIndent(model.NewReportRecord(r), "", "  ")
	if err != nil {
		return err
	}
	md, err := render.Markdown(r)
	if err != nil {
		return err
	}

	prefix := ObjectPrefix(r)
	if err := a.put(ctx, prefix+".json", data, "application/json"); err != nil {
		return err
	}
	return a.put(ctx, prefix+".md", md, "text/markdown; charset=utf-8")
}

func (a *ObjectArchive) put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s failed: %w", name, err)
	}
	return nil
}
