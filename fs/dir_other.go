//go:build !unix

package fs

import (
	"fmt"
	"runtime"

	"github.com/jeffh/u9p/ninep"
)

// Dir is only available on unix hosts.
type Dir struct{ FileSystem }

func NewDir(root string) (*Dir, error) {
	return nil, fmt.Errorf("%w: host directories on %s", ninep.ErrUnsupported, runtime.GOOS)
}
