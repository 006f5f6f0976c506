package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the object storage host.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // URL polled until the storage host answers
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the host responds
}

// WOLResult holds the result of waking the storage host.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	Attempts     int // endpoint probes sent
	WaitDuration time.Duration
	Error        error
}
