package group

import (
	"errors"
	"testing"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	t.Parallel()
	if errors.Is(ErrNotFound, ErrNotMember) {
		t.Error("ErrNotFound and ErrNotMember must be distinct sentinels")
	}
}

func TestMemberRoleConstants(t *testing.T) {
	t.Parallel()
	if RoleMember == RoleAdmin {
		t.Error("RoleMember and RoleAdmin must be distinct")
	}
}
