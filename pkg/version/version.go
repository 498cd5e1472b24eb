// Package version provides version information for the cfd-oracle node.
package version

// Version is the current version of the node. Overridden at link time with
// -ldflags "-X github.com/StrathCole/cfd-oracle/pkg/version.Version=...".
var Version = "0.3.0"

// AgentString returns the agent string sent in outbound feed requests.
// Format: cfd-oracle/v{version}
func AgentString() string {
	return "cfd-oracle/v" + Version
}
