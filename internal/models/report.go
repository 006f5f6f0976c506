package models

import "time"

// FailureReport is the content of the email sent when a database fails.
type FailureReport struct {
	RunID        string
	Host         string
	Database     string // backup name of the database
	Source       string // live database file, empty when paths were invalid
	Bucket       string
	StartTime    time.Time
	Duration     time.Duration
	FailedStep   string
	ErrorMessage string
}
