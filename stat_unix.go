//go:build linux || darwin

package evloop

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// statPath observes path, returning the zero value if it does not exist.
func statPath(path string) Statdata {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Statdata{}
	}
	return Statdata{
		Mtime: time.Unix(st.Mtim.Unix()),
		Atime: time.Unix(st.Atim.Unix()),
		Ctime: time.Unix(st.Ctim.Unix()),
		Size:  st.Size,
		Dev:   uint64(st.Dev),
		Rdev:  uint64(st.Rdev),
		Ino:   uint64(st.Ino),
		Nlink: uint64(st.Nlink),
		Mode:  fileMode(uint32(st.Mode)),
		UID:   st.Uid,
		GID:   st.Gid,
	}
}

// fileMode converts a st_mode to an os.FileMode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		m |= os.ModeDevice
	}
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}
