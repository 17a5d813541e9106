package vigil

// Set via -ldflags at build time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
