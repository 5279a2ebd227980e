package photo

// Source is where new photos come from
type Source string

const (
	SourceRearCamera Source = "rear_camera"
	SourceFilePicker Source = "file_picker"
)

// Capabilities describes what the device offers for image capture
type Capabilities struct {
	HasCamera        bool
	CameraPermission bool
}

// SelectSource prefers the rear camera and falls back to file selection
// when there is no camera or access to it was denied.
func SelectSource(caps Capabilities) Source {
	if caps.HasCamera && caps.CameraPermission {
		return SourceRearCamera
	}
	return SourceFilePicker
}

// Hint carries the input attributes for a capture control. Capture is
// only a hint; browsers without a camera ignore it and show a file picker.
type Hint struct {
	Accept   string `json:"accept"`
	Capture  string `json:"capture,omitempty"`
	Multiple bool   `json:"multiple"`
}

func CaptureHint(src Source) Hint {
	h := Hint{Accept: "image/*", Multiple: true}
	if src == SourceRearCamera {
		h.Capture = "environment"
	}
	return h
}
