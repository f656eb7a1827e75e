package retry

import (
	"context"
	"errors"
	"reflect"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/golemfactory/golem-go/build"
)

var log = logging.Logger("golem/retry")

func errorIsIn(err error, errorTypes []error) bool {
	for _, etype := range errorTypes {
		tmp := reflect.New(reflect.PointerTo(reflect.ValueOf(etype).Elem().Type())).Interface()
		if errors.As(err, tmp) {
			return true
		}
	}
	return false
}

// Retry calls f up to attempts times, sleeping with exponential backoff
// between calls, as long as the returned error matches one of errorTypes.
// Errors outside errorTypes are returned immediately.
func Retry[T any](ctx context.Context, attempts int, sleep time.Duration, errorTypes []error, f func() (T, error)) (result T, err error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Info("retrying after error:", err)
			timer := build.Clock.Timer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			}
			sleep *= 2
		}
		result, err = f()
		if err == nil || !errorIsIn(err, errorTypes) {
			return result, err
		}
	}
	log.Errorf("failed after %d attempts, last error: %s", attempts, err)
	return result, err
}
