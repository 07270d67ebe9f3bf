// Package fsmode models the Linux st_mode bit field as stored in tar headers.
//
// Go's io/fs.FileMode uses its own bit layout, so values read from or written to
// archives go through Mode and are converted with FromFS and FS.
package fsmode

import "io/fs"

// Mode holds POSIX file type and permission bits.
type Mode uint32

const (
	S_IFMT   Mode = 0o170000 // type mask
	S_IFSOCK Mode = 0o140000
	S_IFLNK  Mode = 0o120000
	S_IFREG  Mode = 0o100000
	S_IFBLK  Mode = 0o060000
	S_IFDIR  Mode = 0o040000
	S_IFCHR  Mode = 0o020000
	S_IFIFO  Mode = 0o010000

	S_ISUID Mode = 0o4000
	S_ISGID Mode = 0o2000
	S_ISVTX Mode = 0o1000

	S_IRWXU Mode = 0o700
	S_IRUSR Mode = 0o400
	S_IWUSR Mode = 0o200
	S_IXUSR Mode = 0o100

	S_IRWXG Mode = 0o070
	S_IRGRP Mode = 0o040
	S_IWGRP Mode = 0o020
	S_IXGRP Mode = 0o010

	S_IRWXO Mode = 0o007
	S_IROTH Mode = 0o004
	S_IWOTH Mode = 0o002
	S_IXOTH Mode = 0o001
)

// DirDefault is the mode given to synthesized directories: drwxr-xr-x.
const DirDefault = S_IFDIR | S_IRWXU | S_IRGRP | S_IXGRP | S_IROTH | S_IXOTH

// Type returns the file type bits.
func (m Mode) Type() Mode { return m & S_IFMT }

// Perm returns the permission bits including setuid, setgid and sticky.
func (m Mode) Perm() Mode { return m &^ S_IFMT }

// Has reports whether all bits of flag are set.
func (m Mode) Has(flag Mode) bool { return m&flag == flag }

func (m Mode) IsDir() bool     { return m.Type() == S_IFDIR }
func (m Mode) IsRegular() bool { return m.Type() == S_IFREG }
func (m Mode) IsSymlink() bool { return m.Type() == S_IFLNK }

// FromFS converts a Go file mode. A mode without type bits is a regular file.
func FromFS(fm fs.FileMode) Mode {
	m := Mode(fm.Perm())
	if fm&fs.ModeSetuid != 0 {
		m |= S_ISUID
	}
	if fm&fs.ModeSetgid != 0 {
		m |= S_ISGID
	}
	if fm&fs.ModeSticky != 0 {
		m |= S_ISVTX
	}
	switch {
	case fm&fs.ModeDir != 0:
		m |= S_IFDIR
	case fm&fs.ModeSymlink != 0:
		m |= S_IFLNK
	case fm&fs.ModeNamedPipe != 0:
		m |= S_IFIFO
	case fm&fs.ModeSocket != 0:
		m |= S_IFSOCK
	case fm&fs.ModeCharDevice != 0:
		m |= S_IFCHR
	case fm&fs.ModeDevice != 0:
		m |= S_IFBLK
	default:
		m |= S_IFREG
	}
	return m
}

// FS converts m to a Go file mode.
func (m Mode) FS() fs.FileMode {
	fm := fs.FileMode(m & 0o777)
	if m.Has(S_ISUID) {
		fm |= fs.ModeSetuid
	}
	if m.Has(S_ISGID) {
		fm |= fs.ModeSetgid
	}
	if m.Has(S_ISVTX) {
		fm |= fs.ModeSticky
	}
	switch m.Type() {
	case S_IFDIR:
		fm |= fs.ModeDir
	case S_IFLNK:
		fm |= fs.ModeSymlink
	case S_IFIFO:
		fm |= fs.ModeNamedPipe
	case S_IFSOCK:
		fm |= fs.ModeSocket
	case S_IFCHR:
		fm |= fs.ModeDevice | fs.ModeCharDevice
	case S_IFBLK:
		fm |= fs.ModeDevice
	}
	return fm
}

// String renders m the way ls -l does, e.g. "drwxr-xr-x".
func (m Mode) String() string {
	var b [10]byte
	switch m.Type() {
	case S_IFDIR:
		b[0] = 'd'
	case S_IFLNK:
		b[0] = 'l'
	case S_IFIFO:
		b[0] = 'p'
	case S_IFSOCK:
		b[0] = 's'
	case S_IFCHR:
		b[0] = 'c'
	case S_IFBLK:
		b[0] = 'b'
	default:
		b[0] = '-'
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if m&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}
	special := func(flag Mode, idx int, set, setNoExec byte) {
		if !m.Has(flag) {
			return
		}
		if b[idx] == '-' {
			b[idx] = setNoExec
		} else {
			b[idx] = set
		}
	}
	special(S_ISUID, 3, 's', 'S')
	special(S_ISGID, 6, 's', 'S')
	special(S_ISVTX, 9, 't', 'T')
	return string(b[:])
}
