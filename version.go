package sprinkler

import "fmt"

// Version is the build version, stamped by release tooling.
var Version = "0.1.0"

// VersionJSON returns Version serialized as {"version": "..."}.
func VersionJSON() []byte {
	return []byte(fmt.Sprintf(`{"version": "%s"}`, Version))
}
