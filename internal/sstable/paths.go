package sstable

import (
	"fmt"
	"path/filepath"
)

// DataPath returns the data-file path for an SSTable named basename
// under dir, following the L<level>-<fileNum>.sst layout spec §6 uses
// for the data directory.
func DataPath(dir, basename string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.sst", basename))
}

// IndexPath returns the companion index-file path for an SSTable named
// basename under dir.
func IndexPath(dir, basename string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.idx", basename))
}

// Basename builds the canonical basename for an SSTable at the given
// level with the given file number, e.g. "L1-000042".
func Basename(level int, fileNum uint64) string {
	return fmt.Sprintf("L%d-%06d", level, fileNum)
}
