package models

import "time"

// StagePaths holds the paths derived from a DatabaseConfig.
type StagePaths struct {
	Source        string // live database file
	Staged        string // copy inside the backup directory
	ArchivePrefix string // archive path without the date suffix and extension
}

// RemoteObject is an object listed from the bucket.
type RemoteObject struct {
	Key          string
	ETag         string
	LastModified time.Time
	Size         int64
}

// Pipeline step names, reported in logs and failure emails.
const (
	StepInit     = "init"
	StepPaths    = "paths"
	StepBucket   = "bucket"
	StepCopy     = "copy"
	StepArchive  = "archive"
	StepUpload   = "upload"
	StepVerify   = "verify"
	StepCleanup  = "cleanup"
	StepWake     = "wol"
	StepShutdown = "ssh_shutdown"
)

// DatabaseResult holds the outcome of one database's backup and cleanup.
type DatabaseResult struct {
	Database      string // backup name of the database
	ArchivePath   string
	ArchiveSize   int64
	UploadedKey   string
	LocalDeleted  []string
	RemoteDeleted []string
	Duration      time.Duration
	FailedStep    string
	Error         error
}

// PassResult holds the outcome of one pass over all configured databases.
type PassResult struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Skipped   []string // inactive databases
	Databases []DatabaseResult
}

// Failed returns the number of databases whose pipeline failed.
func (r PassResult) Failed() int {
	n := 0
	for _, db := range r.Databases {
		if db.Error != nil {
			n++
		}
	}
	return n
}
