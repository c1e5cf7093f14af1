package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dawidpereira/quetty/internal/errs"
)

func TestValidateProfileNameAcceptsAlphanumericUnderscoreDash(t *testing.T) {
	assert.NoError(t, ValidateProfileName("work-profile_2"))
}

func TestValidateProfileNameRejectsEmpty(t *testing.T) {
	err := ValidateProfileName("")
	assert.True(t, errors.Is(err, errs.ErrInvalidProfileName))
}

func TestValidateProfileNameRejectsTooLong(t *testing.T) {
	name := make([]byte, 65)
	for i := range name {
		name[i] = 'a'
	}
	err := ValidateProfileName(string(name))
	assert.True(t, errors.Is(err, errs.ErrInvalidProfileName))
}

func TestValidateProfileNameRejectsPathSeparators(t *testing.T) {
	for _, bad := range []string{"../etc", "a/b", "a\\b", "a.b"} {
		err := ValidateProfileName(bad)
		assert.Truef(t, errors.Is(err, errs.ErrInvalidProfileName), "expected rejection for %q", bad)
	}
}
