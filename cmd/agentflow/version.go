package main

import "runtime/debug"

// version is stamped by release builds:
//
//	go build -ldflags "-X main.version=v0.3.0" ./cmd/agentflow/
var version = "dev"

// resolvedVersion prefers the ldflags stamp, then the module version recorded
// by `go install module@version`, then "dev".
func resolvedVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
