package fileset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// DataFileExtension is the default extension for data files, adopted
// verbatim from the original implementation's on-disk layout.
const DataFileExtension = "crabe.sst"

// HintFileExtension is the default extension for compaction hint files.
const HintFileExtension = "crabe.cpct"

// LockFileName is the well-known exclusive lock file created in the data
// directory on open.
const LockFileName = "crabe.lock"

var dataFilePattern = regexp.MustCompile(`^(\d{10})\.` + regexp.QuoteMeta(DataFileExtension) + `$`)

// dataFileName returns the zero-padded, 10-digit filename for a data file.
func dataFileName(fileID uint32) string {
	return fmt.Sprintf("%010d.%s", fileID, DataFileExtension)
}

// hintFileName returns the zero-padded, 10-digit filename for a hint file.
func hintFileName(fileID uint32) string {
	return fmt.Sprintf("%010d.%s", fileID, HintFileExtension)
}

// DataPath returns the full path to fileID's data file within dir.
func DataPath(dir string, fileID uint32) string {
	return filepath.Join(dir, dataFileName(fileID))
}

// HintPath returns the full path to fileID's hint file within dir.
func HintPath(dir string, fileID uint32) string {
	return filepath.Join(dir, hintFileName(fileID))
}

// parseDataFileID returns the file id encoded in name, and whether name is
// a well-formed data filename.
func parseDataFileID(name string) (uint32, bool) {
	m := dataFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
