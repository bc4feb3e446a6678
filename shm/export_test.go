package shm

// SetSegmentDirForTest pins segment storage under dir for the duration of a
// test, bypassing /dev/shm detection so tests don't depend on the host's
// tmpfs layout. Restore with the returned func.
func SetSegmentDirForTest(dir string) (restore func()) {
	prev := segmentDirOverride
	segmentDirOverride = dir
	return func() { segmentDirOverride = prev }
}
