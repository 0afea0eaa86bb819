package upload

import "time"

// ChunkAck is the response for a non-final chunk.
type ChunkAck struct {
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// PipelineResult is the response for the final chunk of a session (and
// for direct, non-chunked uploads).
type PipelineResult struct {
	Success         bool   `json:"success"`
	ImagesRootCID   string `json:"imagesRootCID"`
	MetadataRootCID string `json:"metadataRootCID"`
	LastRootCID     string `json:"lastRootCID"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"activeSessions"`
}
