package domain

// AssetReference points at a generated video after persistence. LocalKey is
// the scratch-storage key and survives only until the durable copy is
// confirmed; DurableURL is the object-storage location. DurablePending marks
// a reference whose durable upload failed and is awaiting reconciliation.
type AssetReference struct {
	Filename        string
	LocalKey        string
	DurableURL      string
	Bytes           int64
	PromptHash      string
	Width           int
	Height          int
	DurationSeconds int
	AspectRatio     string
	Resolution      string
	DurablePending  bool
}
