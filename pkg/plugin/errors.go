package plugin

import (
	"errors"
	"fmt"
)

// MissingDependencyError is returned when a plugin orders itself relative
// to a plugin that is not installed in the target pipeline set, or whose
// phases are absent from the pipeline being registered into.
type MissingDependencyError struct {
	// Plugin is the plugin doing the relative registration.
	Plugin string
	// Dependency is the plugin key whose phases could not be found.
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin: %q depends on %q, which is not installed in this pipeline", e.Plugin, e.Dependency)
}

// IsMissingDependency returns true if the error is a missing plugin
// dependency.
func IsMissingDependency(err error) bool {
	var me *MissingDependencyError
	return errors.As(err, &me)
}
