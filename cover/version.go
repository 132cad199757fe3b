package cover

import "github.com/kolkov/llcov/internal/sink"

// Version information for the llcov runtime.
const (
	// Version is the current version of the llcov runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about coverage recording.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Backend is the active sink backend ("unresolved" before the first
	// event, "custom" for a recorder installed with SetSink).
	Backend string

	// Recorded is the number of events seen by the built-in sink.
	Recorded uint64
}

// GetInfo returns information about the coverage runtime.
//
// Example:
//
//	info := cover.GetInfo()
//	fmt.Printf("llcov %s (%s)\n", info.Version, info.Backend)
func GetInfo() Info {
	info := Info{Version: Version, Backend: sink.BackendUnresolved.String()}

	h := current.Load()
	if h == nil {
		return info
	}
	s, ok := h.r.(*sink.Sink)
	if !ok {
		info.Backend = "custom"
		return info
	}
	info.Backend = s.Backend().String()
	info.Recorded = s.Stats().Recorded
	return info
}
