package shared

import "fmt"

// SequenceLockKey builds the redis key guarding number allocation for one
// (series, period) namespace across processes.
func SequenceLockKey(series, period string) string {
	return fmt.Sprintf("numbering:%s:%s:lock", series, period)
}
