package license

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// LoadOverrides reads the user's stored license overrides from
// <usersDir>/<userID>/license.json. Missing or unreadable files mean no
// overrides, so callers always get tier defaults in that case.
func LoadOverrides(usersDir, userID string) *Overrides {
	data, err := os.ReadFile(filepath.Join(usersDir, userID, "license.json"))
	if err != nil {
		return nil
	}
	var o Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		log.Printf("[license] corrupt overrides file for user %s: %v", userID, err)
		return nil
	}
	return &o
}
