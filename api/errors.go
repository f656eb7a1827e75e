package api

import "fmt"

// TransientError marks a gateway failure that is worth retrying:
// timeouts, 5xx responses, dropped connections. Gateways wrap such
// failures so polling layers can distinguish them from terminal errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %s", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
