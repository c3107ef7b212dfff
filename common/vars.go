package common

// Version is set at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"

// PackageName is the namespace of exported metrics.
const PackageName = "content_key_service"
