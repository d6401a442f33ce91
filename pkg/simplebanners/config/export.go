package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tendant/simple-banners/pkg/simplebanners/export"
	fsstorage "github.com/tendant/simple-banners/pkg/simplebanners/export/storage/fs"
	memorystorage "github.com/tendant/simple-banners/pkg/simplebanners/export/storage/memory"
	s3storage "github.com/tendant/simple-banners/pkg/simplebanners/export/storage/s3"
)

// exportTarget is a parsed ExportURL.
type exportTarget struct {
	Type   string // "", "memory", "fs", "s3"
	Path   string // fs base directory
	Bucket string
	Prefix string
}

// parseExportURL understands:
//
//	""                      export disabled
//	memory://               in-memory store
//	file:///path/to/dir     filesystem store
//	s3://bucket[/prefix]    S3 store, settings from S3Config
func parseExportURL(raw string) (exportTarget, error) {
	switch {
	case raw == "":
		return exportTarget{}, nil
	case raw == "memory" || raw == "memory://":
		return exportTarget{Type: "memory"}, nil
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return exportTarget{}, fmt.Errorf("filesystem path cannot be empty in export_url")
		}
		return exportTarget{Type: "fs", Path: path}, nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return exportTarget{}, fmt.Errorf("invalid export_url: %w", err)
		}
		if u.Host == "" {
			return exportTarget{}, fmt.Errorf("S3 bucket name cannot be empty in export_url")
		}
		prefix := strings.TrimPrefix(u.Path, "/")
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return exportTarget{Type: "s3", Bucket: u.Host, Prefix: prefix}, nil
	default:
		return exportTarget{}, fmt.Errorf("unsupported export_url format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
	}
}

// BuildBlobStore creates the manifest store named by ExportURL, or nil
// when export is disabled.
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (export.BlobStore, error) {
	target, err := parseExportURL(c.ExportURL)
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case "":
		return nil, nil
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: target.Path})
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 target.Bucket,
			Prefix:                 target.Prefix,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
	default:
		return nil, fmt.Errorf("unsupported export store type: %s", target.Type)
	}
}
