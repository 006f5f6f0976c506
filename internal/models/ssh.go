package models

// SSHShutdownConfig holds settings for shutting the storage host down after a pass.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when nil
	KeyPath       string
	ShutdownDelay int    // minutes
	OS            string // "linux" (default) or "windows"
}

// SSHResult holds the result of a remote command.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
