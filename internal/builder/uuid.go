package builder

import (
	"fmt"
	"os"
	"strings"
)

// ReadUUID reads the component UUID from a file such as uuid.txt. Leading
// and trailing whitespace is ignored.
func ReadUUID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("UUID file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read UUID file: %w", err)
	}
	uuid := strings.TrimSpace(string(data))
	if uuid == "" {
		return "", fmt.Errorf("UUID file is empty: %s", path)
	}
	return uuid, nil
}
