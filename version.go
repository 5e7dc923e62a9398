package main

import (
	"fmt"
	"strconv"
)

var (
	version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildDate string = "unknown"
)

// Version is the release followed by the git commit and working tree state
// when the build recorded them.
func Version() string {
	v := version
	// Add git commit and working tree status when available
	if sha1Int, err := strconv.ParseUint(gitSHA1, 16, 64); err == nil && sha1Int != 0 {
		v = fmt.Sprintf("%s (git:%s", v, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			v = fmt.Sprintf("%s-dirty", v)
		}
		v = fmt.Sprintf("%s)", v)
	}
	if buildDate != "unknown" {
		v = fmt.Sprintf("%s built %s", v, buildDate)
	}
	return v
}
