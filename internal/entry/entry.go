package entry

// Kind discriminates the shapes a repository path can resolve to.
type Kind string

const (
	KindFile      Kind = "file"
	KindSymlink   Kind = "symlink"
	KindSubmodule Kind = "submodule"
	KindDirectory Kind = "directory"
	KindAbsent    Kind = "absent"
)

// Raw is one element of a contents API response, reduced to the fields the
// classifier needs. Content carries the decoded file body; the API only
// returns content for single-file responses, never for directory listings.
type Raw struct {
	Type    string
	Name    string
	Path    string
	SHA     string
	Content string
}

// RemoteEntry is the classified form of a repository path. Exactly one Kind
// applies; fields not meaningful for that kind stay zero:
//
//	KindFile:      SHA, Name, Path, Content
//	KindSymlink:   SHA, Name, Path
//	KindSubmodule: SHA, Name, Path
//	KindDirectory: Path, Entries (one level deep, no content)
//	KindAbsent:    no fields
type RemoteEntry struct {
	Kind    Kind
	SHA     string
	Name    string
	Path    string
	Content string
	Entries []RemoteEntry
}

// Absent returns the entry representing "nothing usable at this path". Its
// SHA is empty, so it never compares equal to a real blob identity.
func Absent() RemoteEntry {
	return RemoteEntry{Kind: KindAbsent}
}

// IsFile returns true if the entry is a regular file.
func (e RemoteEntry) IsFile() bool {
	return e.Kind == KindFile
}

// IsAbsent returns true if the entry is the absence marker.
func (e RemoteEntry) IsAbsent() bool {
	return e.Kind == KindAbsent
}

// Classify maps a contents API response onto a RemoteEntry. The API answers
// a path query with either a single object (file, symlink or submodule) or a
// list of objects when the path names a directory; callers pass whichever of
// file and dir the response produced. A nil file with a nil dir means the
// path yielded nothing and classifies as Absent.
//
// Directory listings are classified one level deep. Listing elements with an
// unrecognized type (for example nested directories, which the API reports
// but does not expand) classify as Absent so they can never be mistaken for
// syncable files.
func Classify(path string, file *Raw, dir []Raw) RemoteEntry {
	if dir != nil {
		entries := make([]RemoteEntry, 0, len(dir))
		for _, item := range dir {
			entries = append(entries, classifyOne(item))
		}
		return RemoteEntry{Kind: KindDirectory, Path: path, Entries: entries}
	}

	if file == nil {
		return Absent()
	}
	return classifyOne(*file)
}

// classifyOne maps a single raw object onto its RemoteEntry shape. Anything
// with an unknown type discriminator degrades to Absent.
func classifyOne(raw Raw) RemoteEntry {
	switch raw.Type {
	case "file":
		return RemoteEntry{
			Kind:    KindFile,
			SHA:     raw.SHA,
			Name:    raw.Name,
			Path:    raw.Path,
			Content: raw.Content,
		}
	case "symlink":
		return RemoteEntry{
			Kind: KindSymlink,
			SHA:  raw.SHA,
			Name: raw.Name,
			Path: raw.Path,
		}
	case "submodule":
		return RemoteEntry{
			Kind: KindSubmodule,
			SHA:  raw.SHA,
			Name: raw.Name,
			Path: raw.Path,
		}
	default:
		return Absent()
	}
}
