package support

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	envInstanceID   = "PROXYWARDEN_INSTANCE_ID"
	envInstanceName = "PROXYWARDEN_INSTANCE_NAME"
)

var (
	instanceIDOnce   sync.Once
	instanceIDValue  string
	instanceNameOnce sync.Once
	instanceNameVal  string
)

// GetInstanceID identifies this process to the other instances sharing the
// same database and redis. Hostname is used when the env var is unset.
func GetInstanceID() string {
	instanceIDOnce.Do(func() {
		value := strings.TrimSpace(GetEnv(envInstanceID, ""))
		if value == "" {
			hostname, err := os.Hostname()
			if err == nil {
				value = strings.TrimSpace(hostname)
			}
		}
		if value == "" {
			value = "default"
		}
		instanceIDValue = value
	})
	return instanceIDValue
}

func GetInstanceName() string {
	instanceNameOnce.Do(func() {
		value := strings.TrimSpace(GetEnv(envInstanceName, ""))
		if value == "" {
			value = GetInstanceID()
		}
		instanceNameVal = value
	})
	return instanceNameVal
}

// NewRunToken returns a token unique to one run on this instance, e.g. the
// owner value of a redis lease.
func NewRunToken() string {
	return GetInstanceID() + ":" + uuid.NewString()
}
