package base

import (
	"fmt"
	"strconv"
	"strings"
)

// FileType identifies the role of a file inside a database directory.
type FileType int

const (
	FileTypeLog FileType = iota
	FileTypeLock
	FileTypeTable
	FileTypeManifest
	FileTypeCurrent
)

// MakeFilename formats the on-disk name for a file of the given type and
// number, relative to dirname.
func MakeFilename(dirname string, fileType FileType, fileNum uint64) string {
	dirname = strings.TrimRight(dirname, "/")
	switch fileType {
	case FileTypeLog:
		return fmt.Sprintf("%s/%06d.log", dirname, fileNum)
	case FileTypeLock:
		return fmt.Sprintf("%s/LOCK", dirname)
	case FileTypeTable:
		return fmt.Sprintf("%s/%06d.ldb", dirname, fileNum)
	case FileTypeManifest:
		return fmt.Sprintf("%s/MANIFEST-%06d", dirname, fileNum)
	case FileTypeCurrent:
		return fmt.Sprintf("%s/CURRENT", dirname)
	}
	panic("base: unknown file type")
}

// ParseFilename recognizes a base filename (no directory) and reports its
// type and number. ok is false for names that don't match a known pattern.
func ParseFilename(name string) (fileType FileType, fileNum uint64, ok bool) {
	switch {
	case name == "CURRENT":
		return FileTypeCurrent, 0, true
	case name == "LOCK":
		return FileTypeLock, 0, true
	case strings.HasPrefix(name, "MANIFEST-"):
		n, err := strconv.ParseUint(name[len("MANIFEST-"):], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeManifest, n, true
	case strings.HasSuffix(name, ".log"):
		n, err := strconv.ParseUint(name[:len(name)-4], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeLog, n, true
	case strings.HasSuffix(name, ".ldb"):
		n, err := strconv.ParseUint(name[:len(name)-4], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return FileTypeTable, n, true
	}
	return 0, 0, false
}
