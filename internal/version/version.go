// Package version carries build metadata set with -ldflags -X.
package version

var (
	// Version is the release version of the indexer.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info is the build metadata reported by -version and /api/status.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String formats the metadata for the -version flag.
func (i Info) String() string {
	return "surveillance-indexer " + i.Version + " (" + i.GitSHA + ", built " + i.BuildTime + ")"
}
