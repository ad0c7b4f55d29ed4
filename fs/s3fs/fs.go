// Package s3fs serves a bucket, or a key prefix of one, from Amazon S3 or
// any S3 compatible service.
//
// Keys are split on "/" into directories. A directory exists if a key lives
// under it; empty directories are kept with a zero length "name/" marker
// object, the way the S3 console does it.
//
// Files opened for writing are buffered in memory and uploaded on close.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

// API is the part of *s3.Client the backend uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Options struct {
	Bucket string
	Prefix string
	// Endpoint of an S3 compatible service. Empty uses AWS.
	Endpoint string
	Region   string
	// PathStyle addresses buckets as endpoint/bucket instead of
	// bucket.endpoint, which most self hosted services need.
	PathStyle bool
}

// NewFromConfig builds a client from the default AWS configuration chain
// (environment, shared config files, instance roles).
func NewFromConfig(ctx context.Context, opt Options) (ufs.FileSystem, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opt.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opt.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opt.Endpoint != "" {
			o.BaseEndpoint = aws.String(opt.Endpoint)
		}
		o.UsePathStyle = opt.PathStyle
	})
	return New(client, opt.Bucket, opt.Prefix), nil
}

func New(api API, bucket, prefix string) ufs.FileSystem {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &s3Fs{api: api, bucket: bucket, prefix: prefix}
}

type s3Fs struct {
	api    API
	bucket string
	prefix string
}

func (f *s3Fs) key(p string) string { return f.prefix + p }

// dirKey is the prefix every key in the directory p starts with.
func (f *s3Fs) dirKey(p string) string {
	if p == "" {
		return f.prefix
	}
	return f.prefix + p + "/"
}

func dirInfo(name string, modTime time.Time) fs.FileInfo {
	return &ninep.SimpleFileInfo{FIName: name, FIMode: fs.ModeDir | 0755, FIModTime: modTime}
}

func fileInfo(name string, size int64, modTime time.Time) fs.FileInfo {
	return &ninep.SimpleFileInfo{FIName: name, FIMode: 0644, FISize: size, FIModTime: modTime}
}

func (f *s3Fs) head(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	return f.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(p)),
	})
}

// hasChildren reports whether any key other than skip lives under the
// directory p.
func (f *s3Fs) hasChildren(ctx context.Context, p string, skip string) (bool, error) {
	out, err := f.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(f.dirKey(p)),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return false, mapError(err)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != skip {
			return true, nil
		}
	}
	return false, nil
}

func (f *s3Fs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	if p == "" {
		return dirInfo("", time.Time{}), nil
	}
	out, err := f.head(ctx, p)
	if err == nil {
		return fileInfo(ninep.Basename(p), aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified)), nil
	}
	if !isNotFound(err) {
		return nil, mapError(err)
	}
	ok, err := f.hasChildren(ctx, p, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, p)
	}
	return dirInfo(ninep.Basename(p), time.Time{}), nil
}

func (f *s3Fs) ListDir(ctx context.Context, p string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		dk := f.dirKey(p)
		pages := s3.NewListObjectsV2Paginator(f.api, &s3.ListObjectsV2Input{
			Bucket:    aws.String(f.bucket),
			Prefix:    aws.String(dk),
			Delimiter: aws.String("/"),
		})
		empty := true
		for pages.HasMorePages() {
			out, err := pages.NextPage(ctx)
			if err != nil {
				yield(nil, mapError(err))
				return
			}
			for _, cp := range out.CommonPrefixes {
				empty = false
				name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dk), "/")
				if !yield(dirInfo(name, time.Time{}), nil) {
					return
				}
			}
			for _, obj := range out.Contents {
				empty = false
				key := aws.ToString(obj.Key)
				if key == dk {
					continue
				}
				name := strings.TrimPrefix(key, dk)
				if !yield(fileInfo(name, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)), nil) {
					return
				}
			}
		}
		if empty && p != "" {
			yield(nil, fmt.Errorf("%w: %s", fs.ErrNotExist, p))
		}
	}
}

func (f *s3Fs) MakeDir(ctx context.Context, p string, mode fs.FileMode) error {
	if _, err := f.Stat(ctx, p); err == nil {
		return fmt.Errorf("%w: %s", fs.ErrExist, p)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_, err := f.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.dirKey(p)),
		Body:   bytes.NewReader(nil),
	})
	return mapError(err)
}

func (f *s3Fs) put(ctx context.Context, p string, data []byte, exclusive bool) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(f.key(p)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if exclusive {
		in.IfNoneMatch = aws.String("*")
	}
	_, err := f.api.PutObject(ctx, in)
	return mapError(err)
}

func (f *s3Fs) CreateFile(ctx context.Context, p string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	info, err := f.Stat(ctx, p)
	switch {
	case err == nil && info.IsDir():
		return nil, ninep.ErrIsDir
	case err == nil && flag&os.O_EXCL != 0:
		return nil, fmt.Errorf("%w: %s", fs.ErrExist, p)
	case err == nil:
		return f.OpenFile(ctx, p, flag&^os.O_CREATE)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	// an empty object so the file can be seen before it is closed
	if err := f.put(ctx, p, nil, flag&os.O_EXCL != 0); err != nil {
		return nil, err
	}
	return &writeHandle{fs: f, path: p, flag: flag}, nil
}

func (f *s3Fs) OpenFile(ctx context.Context, p string, flag int) (ninep.FileHandle, error) {
	info, err := f.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ninep.ErrIsDir
	}
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		if flag&os.O_TRUNC != 0 {
			return nil, ninep.ErrWriteNotAllowed
		}
		return &readHandle{fs: f, path: p, size: info.Size()}, nil
	}
	h := &writeHandle{fs: f, path: p, flag: flag}
	if flag&os.O_TRUNC != 0 {
		h.dirty = true
	} else if h.data, err = f.load(ctx, p, info.Size()); err != nil {
		return nil, err
	}
	return h, nil
}

// WriteStat renames files with a copy and a delete, and truncates by
// uploading again. Modes, owners and times are not kept by S3.
func (f *s3Fs) WriteStat(ctx context.Context, p string, req ufs.FileInfoChangeRequest) error {
	if req.Owner != nil || req.Group != nil || req.OwnerID != nil || req.GroupID != nil {
		return ninep.ErrChangeUidNotAllowed
	}
	if req.Mode != nil || req.ModTime != nil || req.AccessTime != nil || req.LastModifiedUser != nil {
		return fmt.Errorf("%w: s3 objects have no modes or times", ninep.ErrUnsupported)
	}
	info, err := f.Stat(ctx, p)
	if err != nil {
		return err
	}
	if req.Length != nil {
		if info.IsDir() {
			return ninep.ErrIsDir
		}
		data, err := f.load(ctx, p, info.Size())
		if err != nil {
			return err
		}
		size := *req.Length
		if size < 0 {
			return ninep.ErrInvalid
		}
		if size < int64(len(data)) {
			data = data[:size]
		} else {
			data = append(data, make([]byte, size-int64(len(data)))...)
		}
		if err := f.put(ctx, p, data, false); err != nil {
			return err
		}
	}
	if req.Name != nil && *req.Name != ninep.Basename(p) {
		if p == "" {
			return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: renaming directories", ninep.ErrUnsupported)
		}
		newPath := ninep.JoinPath(ninep.Dirname(p), *req.Name)
		if _, err := f.Stat(ctx, newPath); err == nil {
			return fmt.Errorf("%w: %s", fs.ErrExist, newPath)
		}
		_, err := f.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(f.bucket),
			Key:        aws.String(f.key(newPath)),
			CopySource: aws.String(f.bucket + "/" + escapeKey(f.key(p))),
		})
		if err != nil {
			return mapError(err)
		}
		return f.deleteKey(ctx, f.key(p))
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (f *s3Fs) deleteKey(ctx context.Context, key string) error {
	_, err := f.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	return mapError(err)
}

func (f *s3Fs) Delete(ctx context.Context, p string) error {
	if p == "" {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	info, err := f.Stat(ctx, p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return f.deleteKey(ctx, f.key(p))
	}
	more, err := f.hasChildren(ctx, p, f.dirKey(p))
	if err != nil {
		return err
	}
	if more {
		return ninep.ErrNotEmpty
	}
	return f.deleteKey(ctx, f.dirKey(p))
}
