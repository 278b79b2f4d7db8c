package version

import "fmt"

var (
	// Set to the content of CURRENT_VERSION file at link-time with -X flag.
	rawReleaseVersion = "0.0.0"

	// Set at link-time with -X flag.
	gitVersion = "unknown"
)

func ReleaseVersion() string {
	return rawReleaseVersion
}

// GitVersion is the git SHA this binary was built from.
func GitVersion() string {
	return gitVersion
}

func CLIDisplayString() string {
	return fmt.Sprintf("%s (%s)", rawReleaseVersion, gitVersion)
}
