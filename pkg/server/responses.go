package server

// FilesResponse is the HTTP response for GET /api/files.
type FilesResponse struct {
	Root  string   `json:"root"`
	Files []string `json:"files"`
}

// SizeResponse is a volume size in (x, y, z) order.
type SizeResponse struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// VolumeResponse is the HTTP response for GET /api/volume. Aspect only
// holds orientations whose ratio is known.
type VolumeResponse struct {
	Path    string             `json:"path"`
	Decoder string             `json:"decoder"`
	Size    SizeResponse       `json:"size"`
	Slices  map[string]int     `json:"slices"`
	Aspect  map[string]float64 `json:"aspect"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Bytes       int64    `json:"bytes,omitempty"`
	Failures    []string `json:"failures,omitempty"`
}
