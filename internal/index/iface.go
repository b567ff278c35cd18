package index

// StoryIndex defines the interface for story persistence operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type StoryIndex interface {
	CreateStory(s StoryRow, v VersionRow, head HeadRows) error
	GetStory(id string) (*StoryRow, error)
	ListStories() ([]StoryRow, error)
	CommitVersion(storyID, expectedHead string, v VersionRow, head HeadRows) error
	GetVersion(storyID, versionID string) (*VersionRow, error)
	ListVersions(storyID string) ([]VersionMeta, error)
	MentionedBy(storyID, target string) ([]MentionRow, error)
	Search(query, storyID string, limit int) ([]SearchResult, error)
	UpsertContext(c ContextRow) error
	DeleteContext(storyID string) error
	GetContextChecksum(storyID string) (string, error)
	AllContextChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies StoryIndex at compile time.
var _ StoryIndex = (*DB)(nil)
