package server

// Bucket layout of the pull-state database. File states are keyed by their
// uuid; the path index maps an absolute child path back to its id so rescans
// never register a file twice.
var (
	filesBucket         = []byte("file-states")
	leasesBucket        = []byte("leases")
	filePathIndexBucket = []byte("file-path-index")
)
