package build

// SDKVersion is reported to providers in demand properties so that node
// operators can identify requestor software versions on the network.
const SDKVersion = "0.7.0"

// CurrentCommit is set by the build system via ldflags.
var CurrentCommit string

// UserVersion returns the full user agent style version string.
func UserVersion() string {
	return "golem-go-" + SDKVersion + CurrentCommit
}
