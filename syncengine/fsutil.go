package syncengine

import "os"

func alreadyOnDisk(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
