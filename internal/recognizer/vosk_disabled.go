//go:build !vosk

package recognizer

// NativeAvailable reports whether the binary links libvosk.
const NativeAvailable = false

// LoadVoskModel always fails in builds without the vosk tag.
func LoadVoskModel(path string) (Model, error) {
	return nil, ErrNativeUnavailable
}
