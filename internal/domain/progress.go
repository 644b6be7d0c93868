package domain

// Each non-terminal status maps to a fixed progress floor so the UI sees
// monotone progress even when the provider reports no percentage. During the
// processing and rendering stages a provider-reported percentage is rescaled
// into the band [floor, next floor - 1] instead of replacing the model.
var progressFloors = map[JobStatus]int{
	JobStatusPending:     10,
	JobStatusProcessing:  25,
	JobStatusRendering:   45,
	JobStatusDownloading: 70,
	JobStatusUploading:   85,
	JobStatusFinished:    100,
}

var progressCeilings = map[JobStatus]int{
	JobStatusProcessing: 44,
	JobStatusRendering:  69,
}

var stageLabels = map[JobStatus]string{
	JobStatusPending:     "Waiting in queue",
	JobStatusProcessing:  "Generating video",
	JobStatusRendering:   "Rendering frames",
	JobStatusDownloading: "Retrieving result",
	JobStatusUploading:   "Saving to storage",
	JobStatusFinished:    "Done",
	JobStatusFailed:      "Failed",
}

// ProgressFor blends the synthetic stage floor with an optional
// provider-reported percentage. Pass providerPct < 0 when the provider did
// not report one.
func ProgressFor(status JobStatus, providerPct int) int {
	floor, ok := progressFloors[status]
	if !ok {
		return 0
	}
	ceiling, banded := progressCeilings[status]
	if !banded || providerPct <= 0 {
		return floor
	}
	if providerPct > 100 {
		providerPct = 100
	}
	return floor + (ceiling-floor)*providerPct/100
}

// StageFor returns the human-readable stage label for a status.
func StageFor(status JobStatus) string {
	if label, ok := stageLabels[status]; ok {
		return label
	}
	return string(status)
}
