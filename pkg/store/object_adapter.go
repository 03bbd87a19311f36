package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"reelsync/pkg/domain"
)

// ObjectAdapter stores user documents as JSON objects in an S3 compatible
// bucket, one object per identity.
type ObjectAdapter struct {
	client *minio.Client
	bucket string
}

// ObjectAdapterConfig configures an ObjectAdapter.
type ObjectAdapterConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewObjectAdapter connects to MinIO and ensures the bucket exists.
func NewObjectAdapter(cfg ObjectAdapterConfig) (*ObjectAdapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &ObjectAdapter{client: client, bucket: cfg.Bucket}, nil
}

func (o *ObjectAdapter) Name() string  { return "minio" }
func (o *ObjectAdapter) IsAsync() bool { return true }

// Load downloads the object for id; NoSuchKey yields defaults.
func (o *ObjectAdapter) Load(ctx context.Context, id string) (domain.UserState, error) {
	id, err := normalizeID(id)
	if err != nil {
		return domain.UserState{}, err
	}
	obj, err := o.client.GetObject(ctx, o.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return domain.UserState{}, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return emptyState(id), nil
		}
		return domain.UserState{}, fmt.Errorf("read object: %w", err)
	}
	var state domain.UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.UserState{}, fmt.Errorf("decode user document: %w", err)
	}
	return prepareLoaded(state, id), nil
}

// Save uploads the whole document.
func (o *ObjectAdapter) Save(ctx context.Context, id string, state domain.UserState) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	state.ID = id
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode user document: %w", err)
	}
	_, err = o.client.PutObject(ctx, o.bucket, objectKey(id), bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Clear removes the object for id.
func (o *ObjectAdapter) Clear(ctx context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := o.client.RemoveObject(ctx, o.bucket, objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func objectKey(id string) string {
	return "users/" + safeFilename(id) + ".json"
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
