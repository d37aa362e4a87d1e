//go:build !(linux || darwin || freebsd)

package diaglog

import "math"

func FreeSpace(dir string) (uint64, error) {
	return math.MaxUint64, nil
}
