// internal/handler/types.go
package handler

// PredictRequest is the body of POST /predict in both variants.
type PredictRequest struct {
	Image string `json:"image"` // base64, optionally as a data URI
}

// BackendResponse is the backend variant's prediction body.
type BackendResponse struct {
	FireDetected bool    `json:"fireDetected"`
	Confidence   float64 `json:"confidence"`
	Note         string  `json:"note,omitempty"`
}

// MLResponse is the ml variant's prediction body.
type MLResponse struct {
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
	HasFire    bool    `json:"hasFire"`
	Note       string  `json:"note,omitempty"`
}

// StatusResponse is returned by GET / on the ml variant.
type StatusResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// BackendError is the backend variant's error body.
type BackendError struct {
	Error string `json:"error"`
}

// MLError is the ml variant's error body.
type MLError struct {
	Detail string `json:"detail"`
}
