package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/fs/billyfs"
	"github.com/jeffh/u9p/fs/cachefs"
	"github.com/jeffh/u9p/fs/muxfs"
	"github.com/jeffh/u9p/fs/s3fs"
	"github.com/jeffh/u9p/fs/sealfs"
	"github.com/jeffh/u9p/fs/sftpfs"
	"github.com/jeffh/u9p/ninep"
	"github.com/jeffh/u9p/ninep/ndb"
)

// Backend builds the file system an export record describes.
type Backend func(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error)

// Backends are selected by an export record's backend attribute. mux is
// handled by LoadExports since it refers to other exports.
var Backends = map[string]Backend{
	"mem":    memBackend,
	"dir":    dirBackend,
	"null":   func(context.Context, ndb.Record) (ufs.FileSystem, error) { return ufs.Null{}, nil },
	"static": staticBackend,
	"env":    func(context.Context, ndb.Record) (ufs.FileSystem, error) { return ufs.Env(), nil },
	"billy":  billyBackend,
	"sftp":   sftpBackend,
	"s3":     s3Backend,
}

var ErrBadExport = errors.New("bad export")

func required(rec ndb.Record, attr string) (string, error) {
	v := rec.Get(attr)
	if v == "" {
		return "", fmt.Errorf("%w: export %q needs %s=", ErrBadExport, rec.Get("export"), attr)
	}
	return v, nil
}

func memBackend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	m := ufs.NewMem()
	// file=name=contents seeds the tree
	files := map[string]string{}
	for _, f := range rec.GetAll("file") {
		name, contents, _ := strings.Cut(f, "=")
		files[name] = contents
	}
	if err := ufs.Populate(ctx, m, files); err != nil {
		return nil, err
	}
	return m, nil
}

func dirBackend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	path, err := required(rec, "path")
	if err != nil {
		return nil, err
	}
	return ufs.NewDir(path)
}

func staticBackend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	path, err := required(rec, "path")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return ufs.ReadOnlyFS(os.DirFS(path)), nil
}

func billyBackend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	if path := rec.Get("path"); path != "" {
		return billyfs.NewOS(path), nil
	}
	return billyfs.NewMem(), nil
}

func sftpBackend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	addr, err := required(rec, "addr")
	if err != nil {
		return nil, err
	}
	cfg, err := sftpfs.DefaultSSHConfig(rec.Get("user"), rec.Get("keyfile"), rec.Get("knownhosts"))
	if err != nil {
		return nil, err
	}
	return sftpfs.Dial(ctx, addr, cfg, rec.Get("path"))
}

func s3Backend(ctx context.Context, rec ndb.Record) (ufs.FileSystem, error) {
	bucket, err := required(rec, "bucket")
	if err != nil {
		return nil, err
	}
	return s3fs.NewFromConfig(ctx, s3fs.Options{
		Bucket:    bucket,
		Prefix:    rec.Get("prefix"),
		Endpoint:  rec.Get("endpoint"),
		Region:    rec.Get("region"),
		PathStyle: rec.GetBool("pathstyle"),
	})
}

// ExportTable is what LoadExports builds.
type ExportTable struct {
	Exports *ninep.Exports
	closers []io.Closer
}

// Close releases every backend.
func (t *ExportTable) Close() error {
	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Swap serves next's exports from t.Exports, which a running server keeps
// using. Sessions may still hold the old backends, so they stay open until
// t is closed.
func (t *ExportTable) Swap(next *ExportTable) {
	def, _, err := next.Exports.Lookup("")
	for _, name := range t.Exports.Names() {
		t.Exports.Remove(name)
	}
	for _, name := range next.Exports.Names() {
		_, fsys, _ := next.Exports.Lookup(name)
		t.Exports.Add(name, fsys)
	}
	if err == nil {
		t.Exports.SetDefault(def)
	}
	t.closers = append(t.closers, next.closers...)
	next.closers = nil
}

// LoadExports builds an export for every record with an export attribute:
//
//	export=data backend=dir path=/srv/data readonly
//	export=scratch backend=mem default
//	export=remote backend=sftp addr=host:22 path=/home/me cache=1m
//	export=vault backend=dir path=/srv/vault seal=/etc/u9p/vault.key
//	export=all backend=mux mount=data mount=scratch
//
// Every backend takes these attributes:
//
//	seal=keyfile  encrypt file contents at rest with the key in keyfile
//	cache[=ttl]   cache stats, listings and blocks
//	delay=dur     slow every operation down
//	readonly      reject changes with EPERM
//	trace         log every operation at debug
//	default       serve anames no export matches
func LoadExports(ctx context.Context, db *ndb.Ndb, logger *slog.Logger) (*ExportTable, error) {
	t := &ExportTable{Exports: ninep.NewExports()}
	built := map[string]ufs.FileSystem{}
	var muxes []ndb.Record
	var order []string

	fail := func(err error) (*ExportTable, error) {
		t.Close()
		return nil, err
	}

	for _, rec := range db.SearchSlice("export", "") {
		name := rec.Get("export")
		if name == "" {
			continue
		}
		if _, ok := built[name]; ok || slices.ContainsFunc(muxes, func(r ndb.Record) bool { return r.Get("export") == name }) {
			return fail(fmt.Errorf("%w: export %q defined twice", ErrBadExport, name))
		}
		kind := rec.Get("backend")
		if kind == "mux" {
			muxes = append(muxes, rec)
			continue
		}
		mk, ok := Backends[kind]
		if !ok {
			return fail(fmt.Errorf("%w: export %q has unknown backend %q", ErrBadExport, name, kind))
		}
		fsys, err := mk(ctx, rec)
		if err != nil {
			return fail(fmt.Errorf("export %q: %w", name, err))
		}
		if c, ok := fsys.(io.Closer); ok {
			t.closers = append(t.closers, c)
		}
		if fsys, err = wrap(fsys, rec, logger); err != nil {
			return fail(fmt.Errorf("export %q: %w", name, err))
		}
		built[name] = fsys
		order = append(order, name)
	}

	// muxes can only mount exports with real backends
	for _, rec := range muxes {
		name := rec.Get("export")
		mounts := map[string]ufs.FileSystem{}
		for _, m := range rec.GetAll("mount") {
			fsys, ok := built[m]
			if !ok {
				return fail(fmt.Errorf("%w: export %q mounts unknown export %q", ErrBadExport, name, m))
			}
			mounts[m] = fsys
		}
		mux, err := muxfs.New(mounts)
		if err != nil {
			return fail(fmt.Errorf("export %q: %w", name, err))
		}
		fsys, err := wrap(mux, rec, logger)
		if err != nil {
			return fail(fmt.Errorf("export %q: %w", name, err))
		}
		built[name] = fsys
		order = append(order, name)
	}

	defaults := 0
	for _, name := range order {
		if err := t.Exports.Add(name, ufs.FS(built[name])); err != nil {
			return fail(err)
		}
	}
	for _, rec := range db.SearchSlice("export", "") {
		if rec.GetBool("default") {
			defaults++
			t.Exports.SetDefault(rec.Get("export"))
		}
	}
	if defaults > 1 {
		return fail(fmt.Errorf("%w: more than one default export", ErrBadExport))
	}
	if len(order) == 0 {
		return fail(fmt.Errorf("%w: no exports defined", ErrBadExport))
	}
	return t, nil
}

func wrap(fsys ufs.FileSystem, rec ndb.Record, logger *slog.Logger) (ufs.FileSystem, error) {
	name := rec.Get("export")
	if keyfile := rec.Get("seal"); keyfile != "" {
		key, err := sealfs.LoadKey(keyfile)
		if err != nil {
			return nil, err
		}
		if fsys, err = sealfs.New(fsys, key); err != nil {
			return nil, err
		}
	}
	// cache=0 keeps entries until they are evicted
	if v, ok := rec.Lookup("cache"); ok {
		ttl, err := time.ParseDuration(v)
		if err == nil || rec.GetBool("cache") {
			opts := []cachefs.Option{cachefs.WithLogger(logger.With(slog.String("export", name)))}
			if err == nil {
				opts = append(opts, cachefs.WithTTL(ttl))
			}
			fsys = cachefs.New(fsys, opts...)
		}
	}
	if v := rec.Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: delay=%s: %w", ErrBadExport, v, err)
		}
		fsys = ufs.NewDelayFS(fsys, d)
	}
	if rec.GetBool("readonly") {
		fsys = ufs.ReadOnly(fsys)
	}
	if rec.GetBool("trace") {
		fsys = ufs.TraceFs(fsys, logger.With(slog.String("export", name)))
	}
	return fsys, nil
}
