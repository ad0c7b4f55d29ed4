// Package ndb reads the attr=value files u9pd is configured with.
//
// Each record starts at column zero and continues on indented lines. Values
// holding spaces are double quoted, a bare attr is a flag, and # starts a
// comment:
//
//	export=data backend=dir path="/srv/my data" readonly
//	export=scratch backend=mem
//		default
//
// A record with a database attr names further files with file=; Open follows
// them and Changed reports when any of them was modified on disk.
package ndb
