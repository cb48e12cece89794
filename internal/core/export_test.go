package core

func init() {
	// Merge asserts matching digests under test.
	checkMergeDigests = true
}
