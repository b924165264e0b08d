//go:build !unix

package predictlog

import "os"

// Advisory file locks are unix-only. Elsewhere appends rely on the store mutex
// and on each record being written with a single append-mode write.
func lockExclusive(*os.File) error { return nil }

func lockShared(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
