//go:build !linux && !darwin

package evloop

import (
	"os"
)

// statPath observes path, returning the zero value if it does not exist.
// Only the portable attributes are available.
func statPath(path string) Statdata {
	fi, err := os.Stat(path)
	if err != nil {
		return Statdata{}
	}
	return Statdata{
		Mtime: fi.ModTime(),
		Size:  fi.Size(),
		Nlink: 1,
		Mode:  fi.Mode(),
	}
}
