// Package config implements quetty's layered configuration resolution
// and named-profile system (spec §4.9, §6.2, §6.3, §6.4).
package config

import (
	"strings"

	"github.com/dawidpereira/quetty/internal/errs"
)

const profileNameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// ValidateProfileName enforces spec §6.3's grammar
// ([A-Za-z0-9_-]{1,64}) before any filesystem access. Path separators,
// traversal tokens, and NUL are caught by the same alphabet check since
// none of `. / \ NUL` belong to it.
func ValidateProfileName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return errs.New("config", "profile", errs.KindConfig, errs.ErrInvalidProfileName).WithSubject(name)
	}
	for _, r := range name {
		if !strings.ContainsRune(profileNameAlphabet, r) {
			return errs.New("config", "profile", errs.KindConfig, errs.ErrInvalidProfileName).WithSubject(name)
		}
	}
	return nil
}
