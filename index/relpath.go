package index

import "fmt"

// subdirRelpath returns the "i/SSSSS" subdirectory containing hunk n.
func subdirRelpath(n int) string {
	return fmt.Sprintf("i/%05d", n/HunksPerSubdir)
}

// hunkRelpath returns the full relpath of hunk n's file.
func hunkRelpath(n int) string {
	return fmt.Sprintf("%s/%09d", subdirRelpath(n), n)
}
