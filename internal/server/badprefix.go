package server

import "os"

// readBadPrefixFile loads the canned bad-prefix response file fresh on
// every call, mirroring facedetect.c's send_prefix_file reading the file
// from disk on every bad-prefix event rather than caching it once at
// startup (so an operator can update the file without restarting).
func readBadPrefixFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
