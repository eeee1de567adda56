package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireActAs(t *testing.T) {
	svc := Service{Operators: []string{" ops "}}
	cases := []struct {
		name        string
		actor, part string
		allowed     bool
	}{
		{"self", "alice", "alice", true},
		{"other", "alice", "bob", false},
		{"operator", "ops", "bob", true},
		{"anonymous", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.RequireActAs(tc.actor, tc.part)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			var fe ForbiddenError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tc.actor, fe.ActorID)
		})
	}
}

func TestRequireOperator(t *testing.T) {
	svc := Service{Operators: []string{"ops"}}
	assert.NoError(t, svc.RequireOperator("ops", "deposit"))
	assert.Error(t, svc.RequireOperator("alice", "deposit"))
	assert.Error(t, Service{}.RequireOperator("ops", "deposit"))
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok, err := IssueToken("secret", "alice", time.Hour, now)
	require.NoError(t, err)

	sub, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	_, err = ParseToken("other", tok)
	assert.Error(t, err)

	expired, err := IssueToken("secret", "alice", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.Error(t, err)

	_, err = IssueToken("", "alice", time.Hour, now)
	assert.Error(t, err)
}
