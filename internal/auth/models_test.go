package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSyntheticProjectID(t *testing.T) {
	cases := []struct {
		projectID string
		want      bool
	}{
		{"cloud-code-123", true},
		{"CLOUD-CODE-9", true},
		{"Cloud-Code-0042", true},
		{"cloud-code-", false},
		{"cloud-code-12a", false},
		{"my-cloud-code-12", false},
		{"bright-sunset-38291", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsSyntheticProjectID(tc.projectID), "project id %q", tc.projectID)
	}
}

func TestTokenExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	fresh := &Token{ExpiryTimestamp: now.Add(10 * time.Minute).Unix()}
	assert.False(t, fresh.ExpiresWithin(now, 5*time.Minute))

	stale := &Token{ExpiryTimestamp: now.Add(2 * time.Minute).Unix()}
	assert.True(t, stale.ExpiresWithin(now, 5*time.Minute))

	expired := &Token{ExpiryTimestamp: now.Add(-time.Minute).Unix()}
	assert.True(t, expired.ExpiresWithin(now, 5*time.Minute))
}
