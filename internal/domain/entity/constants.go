package entity

// SourceType identifies where a piece of raw text came from
type SourceType string

// Source type constants
const (
	SourceManualText     SourceType = "manual_text"
	SourceSlackDM        SourceType = "slack_dm"
	SourceMeetTranscript SourceType = "meet_transcript"
	SourceFileUpload     SourceType = "file_upload"
)

var validSourceTypes = map[SourceType]bool{
	SourceManualText:     true,
	SourceSlackDM:        true,
	SourceMeetTranscript: true,
	SourceFileUpload:     true,
}

// IsValid returns true if the source type is one of the known ingestion sources
func (s SourceType) IsValid() bool {
	return validSourceTypes[s]
}

// String returns the string representation of the source type
func (s SourceType) String() string {
	return string(s)
}

// Task field limits
const (
	MaxTitleLength = 500
	MinPriority    = 1
	MaxPriority    = 5
)
