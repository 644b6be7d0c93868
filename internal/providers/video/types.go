package video

import (
	"fmt"
	"strings"

	"server/internal/domain"
)

// State is the provider-side view of an operation.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// SubmitResult is returned after a job is accepted by the provider.
type SubmitResult struct {
	JobID  string
	Status domain.JobStatus
}

// ResultDescriptor points at one finished video on the provider side.
type ResultDescriptor struct {
	URI      string
	MimeType string
}

// StatusResult is one observation of an operation. Progress is -1 when the
// provider reported no percentage.
type StatusResult struct {
	State       State
	Progress    int
	Message     string
	Descriptors []ResultDescriptor
}

// AssetPayload carries the downloaded bytes of one finished video.
type AssetPayload struct {
	Data     []byte
	MimeType string
}

// Capability limits advertised to callers and enforced before submission.
const (
	MaxPromptLength = 2000
	MaxVariants     = 4
)

var (
	allowedAspectRatios = []string{"16:9", "9:16", "1:1"}
	allowedResolutions  = []string{"480p", "720p", "1080p"}
	allowedDurations    = []int{5, 8, 10}
)

// Capabilities describes the allowed request values, served verbatim by the
// config endpoint.
type Capabilities struct {
	AspectRatios    []string `json:"aspect_ratios"`
	Resolutions     []string `json:"resolutions"`
	Durations       []int    `json:"durations"`
	MaxVariants     int      `json:"max_variants"`
	MaxPromptLength int      `json:"max_prompt_length"`
}

// SupportedCapabilities returns the static capability table.
func SupportedCapabilities() Capabilities {
	return Capabilities{
		AspectRatios:    append([]string(nil), allowedAspectRatios...),
		Resolutions:     append([]string(nil), allowedResolutions...),
		Durations:       append([]int(nil), allowedDurations...),
		MaxVariants:     MaxVariants,
		MaxPromptLength: MaxPromptLength,
	}
}

// ValidateRequest checks every field against its enum or bound. It runs
// before any network call so invalid input never reaches the provider.
func ValidateRequest(req domain.GenerationRequest) error {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return fmt.Errorf("video: prompt is required: %w", domain.ErrValidation)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("video: prompt exceeds %d characters: %w", MaxPromptLength, domain.ErrValidation)
	}
	if _, err := DimensionsFor(req.AspectRatio, req.Resolution); err != nil {
		return err
	}
	if !containsInt(allowedDurations, req.DurationSeconds) {
		return fmt.Errorf("video: unsupported duration %d: %w", req.DurationSeconds, domain.ErrValidation)
	}
	if req.Variants < 1 || req.Variants > MaxVariants {
		return fmt.Errorf("video: variants must be between 1 and %d: %w", MaxVariants, domain.ErrValidation)
	}
	return nil
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
