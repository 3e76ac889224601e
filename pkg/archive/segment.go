// Package archive packs the uploads and config segments into gzip tarballs, merges segment files
// into a single backup artifact and extracts artifacts again.
package archive

// Segment names, in restore order.
const (
	SegmentDatabase = "database"
	SegmentUploads  = "uploads"
	SegmentConfig   = "config"
)

// Scratch and bundle member file names for each segment.
const (
	DatabaseFile = "database.dump"
	UploadsFile  = "uploads.tar.gz"
	ConfigFile   = "config.tar.gz"
)

// Segments lists every segment in restore order.
var Segments = []string{SegmentDatabase, SegmentUploads, SegmentConfig}

// MemberName returns the file name a segment uses in scratch space and inside a bundle.
func MemberName(segment string) string {
	switch segment {
	case SegmentDatabase:
		return DatabaseFile
	case SegmentUploads:
		return UploadsFile
	case SegmentConfig:
		return ConfigFile
	}
	return ""
}

// Segment is the outcome of producing one backup segment: either a file on disk or a skip.
type Segment struct {
	Name string
	Path string
}

// Produced reports a segment written to path.
func Produced(name, path string) Segment {
	return Segment{Name: name, Path: path}
}

// Skipped reports a segment with nothing to back up.
func Skipped(name string) Segment {
	return Segment{Name: name}
}

// IsProduced reports whether the segment has a file.
func (s Segment) IsProduced() bool {
	return s.Path != ""
}

// Format is how segment files are combined into the uploaded artifact.
type Format string

const (
	// FormatAuto picks raw for a single segment and bundle otherwise.
	FormatAuto Format = ""
	// FormatRaw uploads the single segment file unchanged.
	FormatRaw Format = "raw"
	// FormatBundle wraps every segment file in an outer gzip tar.
	FormatBundle Format = "bundle"
)
