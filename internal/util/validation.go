package util

import "regexp"

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// IsValidPluginID checks if the plugin ID is a valid slug.
func IsValidPluginID(id string) bool {
	return slugRegex.MatchString(id)
}

// IsValidProjectName checks that a registry project name is a safe slug —
// no path separators, no leading dot, nothing that could escape the
// framework-source or project-path join operations done by the propagator.
func IsValidProjectName(name string) bool {
	return name != "" && slugRegex.MatchString(name)
}
