package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for an S3-compatible store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// MinioDirectory stores blobs as objects under bucket/prefix. Objects are
// immutable once uploaded, which matches the write-once segment files.
type MinioDirectory struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioDirectory connects to the store and creates the bucket if missing.
func NewMinioDirectory(ctx context.Context, cfg MinioConfig) (*MinioDirectory, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return NewMinioDirectoryWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewMinioDirectoryWithClient(client *minio.Client, bucket, prefix string) *MinioDirectory {
	return &MinioDirectory{client: client, bucket: bucket, prefix: prefix}
}

func (d *MinioDirectory) key(name string) string {
	return path.Join(d.prefix, name)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func (d *MinioDirectory) OpenInput(ctx context.Context, name string) (Input, error) {
	key := d.key(name)
	info, err := d.client.StatObject(ctx, d.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return &minioInput{ctx: ctx, client: d.client, bucket: d.bucket, key: key, size: info.Size}, nil
}

func (d *MinioDirectory) CreateOutput(ctx context.Context, name string) (Output, error) {
	key := d.key(name)
	pr, pw := io.Pipe()
	out := &minioOutput{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := d.client.PutObject(ctx, d.bucket, key, pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		out.done <- err
	}()
	return out, nil
}

func (d *MinioDirectory) Delete(ctx context.Context, name string) error {
	err := d.client.RemoveObject(ctx, d.bucket, d.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Rename copies the object server-side and removes the source; object
// stores have no atomic rename.
func (d *MinioDirectory) Rename(ctx context.Context, from, to string) error {
	_, err := d.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: d.bucket, Object: d.key(to)},
		minio.CopySrcOptions{Bucket: d.bucket, Object: d.key(from)},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("copying %s to %s: %w", from, to, err)
	}
	return d.Delete(ctx, from)
}

func (d *MinioDirectory) List(ctx context.Context, prefix string) ([]string, error) {
	root := d.prefix
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	var names []string
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    root + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, obj.Err)
		}
		names = append(names, strings.TrimPrefix(obj.Key, root))
	}
	sort.Strings(names)
	return names, nil
}

func (d *MinioDirectory) Exists(ctx context.Context, name string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, d.key(name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

type minioInput struct {
	ctx    context.Context
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (in *minioInput) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= in.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= in.size {
		end = in.size - 1
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}
	obj, err := in.client.GetObject(in.ctx, in.bucket, in.key, opts)
	if err != nil {
		return 0, err
	}
	defer obj.Close()
	n, err := io.ReadFull(obj, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (in *minioInput) Size() int64 {
	return in.size
}

func (in *minioInput) Close() error {
	return nil
}

type minioOutput struct {
	pw       *io.PipeWriter
	done     chan error
	written  atomic.Int64
	finished atomic.Bool
}

func (out *minioOutput) Write(p []byte) (int, error) {
	n, err := out.pw.Write(p)
	out.written.Add(int64(n))
	return n, err
}

func (out *minioOutput) Close() error {
	if !out.finished.CompareAndSwap(false, true) {
		return nil
	}
	if err := out.pw.Close(); err != nil {
		return err
	}
	return <-out.done
}

func (out *minioOutput) Abort() error {
	if !out.finished.CompareAndSwap(false, true) {
		return nil
	}
	_ = out.pw.CloseWithError(errors.New("upload aborted"))
	<-out.done
	return nil
}

func (out *minioOutput) Written() int64 {
	return out.written.Load()
}
