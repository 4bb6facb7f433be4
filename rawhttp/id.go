package rawhttp

import "github.com/google/uuid"

// genID returns a fresh identifier for correlating a request in logs.
func genID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "unknown"
	}
	return id.String()
}
