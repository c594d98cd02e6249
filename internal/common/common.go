package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz     = "/healthz"
	PathMetrics     = "/metrics"
	PathTranscripts = "/v1/transcripts"
)

// Defaults and limits
const (
	SQLiteBusyTimeoutMS = 5000

	// Canonical audio format produced by the normalizer.
	CanonicalSampleRate = 16000
	CanonicalBitrate    = "48k"
	CanonicalExt        = ".mp3"
)

// External tool executables
const (
	FFmpegExecutable  = "ffmpeg"
	FFprobeExecutable = "ffprobe"
)

// Attachment reference path prefixes recognized inside documents.
const (
	RefPrefixFiles        = "/files/"
	RefPrefixCloudProxy   = "/api/clouddisk/file?ref="
	RefPrefixLegacyPublic = "/static/uploads/"
)

// Subdirectory names under the storage dir.
const (
	AttachmentsDirName = "attachments"
	DocumentsDirName   = "documents"
	WorkDirName        = "work"
)
