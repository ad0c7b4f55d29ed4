package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

// memBucket is an in-memory S3 bucket.
type memBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	gets     int
}

func newMemBucket(objects map[string]string) *memBucket {
	b := &memBucket{objects: make(map[string][]byte), pageSize: 1000}
	for k, v := range objects {
		b.objects[k] = []byte(v)
	}
	return b
}

var _ API = (*memBucket)(nil)

func (b *memBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix, delim := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	isPrefix := map[string]bool{}
	for key := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if i := strings.Index(key[len(prefix):], delim); delim != "" && i >= 0 {
			isPrefix[key[:len(prefix)+i+len(delim)]] = true
		} else {
			isPrefix[key] = false
		}
	}
	entries := slices.Sorted(maps.Keys(isPrefix))

	start, _ := strconv.Atoi(aws.ToString(in.ContinuationToken))
	limit := b.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	end := min(start+limit, len(entries))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(entries))}
	if end < len(entries) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, e := range entries[start:end] {
		if isPrefix[e] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(e),
			Size:         aws.Int64(int64(len(b.objects[e]))),
			LastModified: aws.Time(time.Unix(0, 0)),
		})
	}
	return out, nil
}

func (b *memBucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(time.Unix(0, 0))}, nil
}

func (b *memBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if r := aws.ToString(in.Range); r != "" {
		var start, end int
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		data = data[start:min(end+1, len(data))]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(slices.Clone(data)))}, nil
}

func (b *memBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := b.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}
	b.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (b *memBucket) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	src, err := url.PathUnescape(src)
	if err != nil {
		return nil, err
	}
	data, ok := b.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	b.objects[aws.ToString(in.Key)] = slices.Clone(data)
	return &s3.CopyObjectOutput{}, nil
}

func (b *memBucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *memBucket) get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return string(data), ok
}

func listNames(t *testing.T, fsys ninep.FileSystem, p string) []string {
	t.Helper()
	var names []string
	for info, err := range fsys.ListDir(context.Background(), p) {
		if err != nil {
			t.Fatalf("list %q: %s", p, err)
		}
		if info.IsDir() {
			names = append(names, info.Name()+"/")
		} else {
			names = append(names, info.Name())
		}
	}
	return names
}

func TestListAndStat(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket(map[string]string{
		"root/a.txt":       "alpha",
		"root/dir/b.txt":   "beta",
		"root/dir/c/d.txt": "delta",
		"root/empty/":      "",
		"other/x":          "hidden",
	})
	b.pageSize = 1
	fsys := ufs.FS(New(b, "bucket", "/root/"))

	tcs := []struct {
		path  string
		names []string
	}{
		{"", []string{"a.txt", "dir/", "empty/"}},
		{"dir", []string{"b.txt", "c/"}},
		{"empty", nil},
	}
	for _, tc := range tcs {
		t.Run(tc.path, func(t *testing.T) {
			if got := listNames(t, fsys, tc.path); !slices.Equal(got, tc.names) {
				t.Errorf("expected %v, got %v", tc.names, got)
			}
		})
	}

	info, err := fsys.Stat(ctx, "dir/b.txt")
	if err != nil || info.Size() != 4 || info.IsDir() {
		t.Errorf("unexpected file %v %v", info, err)
	}
	for _, p := range []string{"dir", "dir/c", "empty"} {
		if info, err := fsys.Stat(ctx, p); err != nil || !info.IsDir() {
			t.Errorf("%s: expected a directory, got %v %v", p, info, err)
		}
	}
	if _, _, err := fsys.Walk(ctx, "", "x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected keys outside the prefix to be hidden, got %v", err)
	}
	for _, err := range fsys.ListDir(ctx, "missing") {
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	}
}

func TestReadRanges(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket(map[string]string{"f": "0123456789"})
	fsys := ufs.FS(New(b, "bucket", ""))

	h, err := fsys.Open(ctx, "f", ninep.OREAD)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	buf := make([]byte, 4)
	if n, err := h.ReadAt(buf, 3); n != 4 || err != nil || string(buf) != "3456" {
		t.Errorf("unexpected read %q %d %v", buf[:n], n, err)
	}
	if n, err := h.ReadAt(buf, 8); n != 2 || err != io.EOF || string(buf[:n]) != "89" {
		t.Errorf("expected a short read, got %q %d %v", buf[:n], n, err)
	}
	gets := b.gets
	if _, err := h.ReadAt(buf, 10); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if b.gets != gets {
		t.Errorf("reading past the end should not fetch")
	}
	if _, err := h.WriteAt([]byte("x"), 0); !errors.Is(err, ninep.ErrWriteNotAllowed) {
		t.Errorf("expected ErrWriteNotAllowed, got %v", err)
	}
}

func TestWrites(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket(map[string]string{"existing": "hello world"})
	fsys := ufs.FS(New(b, "bucket", "p"))

	if _, _, _, err := fsys.Create(ctx, "", "d", ninep.M_DIR|0755, ninep.OREAD, ""); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if _, ok := b.get("p/d/"); !ok {
		t.Errorf("expected a directory marker")
	}
	_, _, h, err := fsys.Create(ctx, "d", "new.txt", 0644, ninep.OWRITE, "")
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, _, _, err := fsys.Create(ctx, "d", "new.txt", 0644, ninep.OWRITE, ""); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
	h.WriteAt([]byte("fresh"), 0)
	if v, _ := b.get("p/d/new.txt"); v != "" {
		t.Errorf("expected the upload to wait for close, got %q", v)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.get("p/d/new.txt"); v != "fresh" {
		t.Errorf("unexpected object %q", v)
	}

	// existing objects outside the prefix are untouched
	b.objects["p/existing"] = []byte("hello world")
	h, err = fsys.Open(ctx, "existing", ninep.ORDWR)
	if err != nil {
		t.Fatal(err)
	}
	h.WriteAt([]byte("WORLD"), 6)
	h.Close()
	if v, _ := b.get("p/existing"); v != "hello WORLD" {
		t.Errorf("unexpected object %q", v)
	}
	if v, _ := b.get("existing"); v != "hello world" {
		t.Errorf("object outside the prefix changed: %q", v)
	}

	if err := fsys.Remove(ctx, "d"); !errors.Is(err, ninep.ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
	if err := fsys.Remove(ctx, "d/new.txt"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.get("p/d/"); ok {
		t.Errorf("expected the marker to be removed")
	}
}

func TestWriteStat(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket(map[string]string{"dir/a b.txt": "12345", "dir/c": ""})
	fsys := ufs.FS(New(b, "bucket", ""))

	st := ninep.SyncStatWithName("renamed")
	st.SetLength(3)
	if err := fsys.WriteStat(ctx, "dir/a b.txt", st); err != nil {
		t.Fatalf("wstat: %s", err)
	}
	if v, ok := b.get("dir/renamed"); !ok || v != "123" {
		t.Errorf("unexpected renamed object %q %v", v, ok)
	}
	if _, ok := b.get("dir/a b.txt"); ok {
		t.Errorf("expected the old key to be deleted")
	}

	tcs := []struct {
		name string
		st   func() ninep.Stat
		err  error
	}{
		{"onto existing", func() ninep.Stat { return ninep.SyncStatWithName("c") }, fs.ErrExist},
		{"mode", func() ninep.Stat { s := ninep.SyncStat(); s.SetMode(0600); return s }, ninep.ErrUnsupported},
		{"mtime", func() ninep.Stat { s := ninep.SyncStat(); s.SetMtime(1); return s }, ninep.ErrUnsupported},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if err := fsys.WriteStat(ctx, "dir/renamed", tc.st()); !errors.Is(err, tc.err) {
				t.Errorf("expected %v, got %v", tc.err, err)
			}
		})
	}
	if err := fsys.WriteStat(ctx, "dir/renamed", ninep.SyncStat()); err != nil {
		t.Errorf("sync: %s", err)
	}
}

func TestMapError(t *testing.T) {
	tcs := []struct {
		err  error
		want error
	}{
		{&types.NoSuchKey{}, fs.ErrNotExist},
		{&smithy.GenericAPIError{Code: "NoSuchBucket"}, fs.ErrNotExist},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, fs.ErrPermission},
		{&smithy.GenericAPIError{Code: "PreconditionFailed"}, fs.ErrExist},
	}
	for _, tc := range tcs {
		if got := mapError(tc.err); !errors.Is(got, tc.want) {
			t.Errorf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}
}
