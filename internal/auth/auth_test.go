package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCredential(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", NormalizeCredential("Bearer abc"))
	require.Equal(t, "abc", NormalizeCredential("bearer   abc "))
	require.Equal(t, "abc", NormalizeCredential("abc"))
	require.Equal(t, "Bearerabc", NormalizeCredential("Bearerabc"))
	require.Equal(t, "", NormalizeCredential("Bearer "))
}

func TestIssueAndValidate(t *testing.T) {
	t.Parallel()

	i := NewIssuer("secret", time.Hour)
	token, err := i.Issue(42)
	require.NoError(t, err)

	id, err := i.Validate("Bearer " + token)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	sub, err := Subject(token)
	require.NoError(t, err)
	require.Equal(t, "42", sub)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	t.Parallel()

	token, err := NewIssuer("other", 0).Issue(42)
	require.NoError(t, err)

	_, err = NewIssuer("secret", 0).Validate(token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestValidateRejectsExpired(t *testing.T) {
	t.Parallel()

	i := NewIssuer("secret", time.Minute)
	i.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := i.Issue(42)
	require.NoError(t, err)

	i.now = time.Now
	_, err = i.Validate(token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestSubjectRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Subject("not-a-token")
	require.True(t, errors.Is(err, ErrInvalidToken))
}
