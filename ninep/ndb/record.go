package ndb

import (
	"strconv"
	"strings"
	"unicode"
)

// Tuple is one attr=val pair. A bare attr has an empty Val.
type Tuple struct {
	Attr, Val string
}

// Record is one entry of an ndb file, such as
//
//	export=data backend=dir path=/srv/data readonly
//
// Attributes may repeat; their order is kept as written.
type Record []Tuple

// MakeRecord builds a Record from alternating attrs and values.
func MakeRecord(pairs ...string) Record {
	if len(pairs)%2 != 0 {
		panic("ndb: MakeRecord needs attr, val pairs")
	}
	r := make(Record, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		r = append(r, Tuple{Attr: pairs[i], Val: pairs[i+1]})
	}
	return r
}

// Lookup returns the first value of attr.
func (r Record) Lookup(attr string) (string, bool) {
	i := r.index(attr)
	if i < 0 {
		return "", false
	}
	return r[i].Val, true
}

// Get is Lookup without the presence flag.
func (r Record) Get(attr string) string {
	v, _ := r.Lookup(attr)
	return v
}

// GetAll returns every value of a repeated attr, like file= or mount=.
func (r Record) GetAll(attr string) []string {
	var vals []string
	for _, t := range r {
		if t.Attr == attr {
			vals = append(vals, t.Val)
		}
	}
	return vals
}

// Has reports if r contains attr=val, or attr at all when val is empty.
func (r Record) Has(attr, val string) bool {
	for _, t := range r {
		if t.Attr == attr && (val == "" || t.Val == val) {
			return true
		}
	}
	return false
}

// GetBool treats attr as a flag. A bare attr is set; so are the usual
// spellings of true.
func (r Record) GetBool(attr string) bool {
	v, ok := r.Lookup(attr)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "", "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}

func (r Record) index(attr string) int {
	for i, t := range r {
		if t.Attr == attr {
			return i
		}
	}
	return -1
}

// String formats r as a single line that ParseRecord reads back.
func (r Record) String() string {
	parts := make([]string, len(r))
	for i, t := range r {
		switch {
		case t.Val == "":
			parts[i] = t.Attr
		case quotable(t.Val):
			parts[i] = t.Attr + "=" + strconv.Quote(t.Val)
		default:
			parts[i] = t.Attr + "=" + t.Val
		}
	}
	return strings.Join(parts, " ")
}

func quotable(s string) bool {
	return strings.ContainsFunc(s, func(c rune) bool {
		return c > unicode.MaxASCII || unicode.IsSpace(c) || strings.ContainsRune(`="'\#`, c)
	})
}
