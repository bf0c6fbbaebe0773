package version

// Version is overridden at build time with -ldflags "-X github.com/saworbit/hangfuzz/internal/version.Version=...".
var Version = "dev"
