package build

import "github.com/raulk/clock"

// Clock is the global clock for the SDK. In standard builds this is the
// real monotonic clock; tests swap it for a mock to control polling
// intervals and timeouts.
var Clock = clock.New()
