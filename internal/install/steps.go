package install

// Step is a stage of the installation pipeline. The manager moves through
// the steps strictly in order; Failed is reachable from every step.
type Step int

const (
	StepIdle Step = iota
	StepFetchingManifest
	StepVerifyingManifest
	StepResolvingArtifacts
	StepDownloading
	StepVerifyingArtifacts
	StepStaging
	StepCommitting
	StepDone
	StepFailed
)

// String returns a stable name for the step.
func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepFetchingManifest:
		return "fetching manifest"
	case StepVerifyingManifest:
		return "verifying manifest"
	case StepResolvingArtifacts:
		return "resolving artifacts"
	case StepDownloading:
		return "downloading"
	case StepVerifyingArtifacts:
		return "verifying artifacts"
	case StepStaging:
		return "staging"
	case StepCommitting:
		return "committing"
	case StepDone:
		return "done"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}
