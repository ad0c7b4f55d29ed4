package ndb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/shlex"
)

type Ndb struct {
	m       sync.RWMutex
	files   []string
	records [][]Record
	mods    []time.Time
	sys     System
}

type System interface {
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (fs.FileInfo, error)
}

type osSys struct{}

func (osSys) Open(path string) (io.ReadCloser, error) { return os.Open(path) }
func (osSys) Stat(path string) (fs.FileInfo, error)   { return os.Stat(path) }

// Open reads filepath and every file named by a "database" record's file
// attributes, transitively. A nil sys reads from the host.
func Open(sys System, filepath string) (*Ndb, error) {
	db := newNdb(sys, filepath)
	for i := 0; i < len(db.files); i++ {
		if err := db.load(i); err != nil {
			return nil, err
		}
		for _, rec := range db.records[i] {
			if _, ok := rec.Lookup("database"); !ok {
				continue
			}
			for _, file := range rec.GetAll("file") {
				if !slices.Contains(db.files, file) {
					db.files = append(db.files, file)
					db.records = append(db.records, nil)
					db.mods = append(db.mods, time.Time{})
				}
			}
		}
	}
	return db, nil
}

// OpenOne reads a single file and ignores database records.
func OpenOne(sys System, filepath string) (*Ndb, error) {
	db := newNdb(sys, filepath)
	if err := db.load(0); err != nil {
		return nil, err
	}
	return db, nil
}

func newNdb(sys System, filepath string) *Ndb {
	if sys == nil {
		sys = osSys{}
	}
	return &Ndb{
		files:   []string{filepath},
		records: make([][]Record, 1),
		mods:    make([]time.Time, 1),
		sys:     sys,
	}
}

// load rereads file i if it changed since it was last read.
func (n *Ndb) load(i int) error {
	path := n.files[i]
	fi, err := n.sys.Stat(path)
	if err != nil {
		return err
	}
	if !fi.ModTime().After(n.mods[i]) {
		return nil
	}
	f, err := n.sys.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	records, err := Parse(f)
	if err != nil {
		return fmt.Errorf("ndb: %s: %w", path, err)
	}
	n.records[i] = records
	n.mods[i] = fi.ModTime()
	return nil
}

// Changed reloads any file modified since it was read and reports if one
// was.
func (n *Ndb) Changed() (bool, error) {
	n.m.Lock()
	defer n.m.Unlock()
	changed := false
	for i := range n.files {
		before := n.mods[i]
		if err := n.load(i); err != nil {
			return changed, err
		}
		changed = changed || !n.mods[i].Equal(before)
	}
	return changed, nil
}

func (n *Ndb) Files() []string {
	n.m.RLock()
	defer n.m.RUnlock()
	return slices.Clone(n.files)
}

// Records yields every record in file order.
func (n *Ndb) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		n.m.RLock()
		defer n.m.RUnlock()
		for _, recs := range n.records {
			for _, rec := range recs {
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// Search yields records with attr=val. An empty val matches any record
// that has attr.
func (n *Ndb) Search(attr, val string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for rec := range n.Records() {
			if rec.Has(attr, val) && !yield(rec) {
				return
			}
		}
	}
}

func (n *Ndb) SearchSlice(attr, val string) []Record {
	var results []Record
	for rec := range n.Search(attr, val) {
		results = append(results, slices.Clone(rec))
	}
	return results
}

// Parse reads records from r. A record starts on a line beginning with a
// non-space character; indented lines continue it. Values may be quoted
// and "#" starts a comment.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		buf     bytes.Buffer
		start   int
	)
	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		rec, err := ParseRecord(buf.String())
		buf.Reset()
		if err != nil {
			return fmt.Errorf("record at line %d: %w", start, err)
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
		return nil
	}

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(line)
		if !unicode.IsSpace(first) {
			if err := flush(); err != nil {
				return nil, err
			}
			start = lineno
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

// ParseRecord parses the attribute/value pairs of a single record.
func ParseRecord(s string) (Record, error) {
	words, err := shlex.Split(s)
	if err != nil {
		return nil, err
	}
	rec := make(Record, 0, len(words))
	for _, w := range words {
		attr, val, _ := strings.Cut(w, "=")
		if attr == "" {
			return nil, fmt.Errorf("missing attribute in %q", w)
		}
		rec = append(rec, Tuple{attr, val})
	}
	return rec, nil
}
