package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RolePatient, CapBookAppointment, true},
		{RolePatient, CapCancelAny, false},
		{RolePatient, CapConfirm, false},
		{RoleAdmission, CapProgramSlots, true},
		{RoleAdmission, CapAutoApproveSlots, false},
		{RoleAdmission, CapApproveSlots, false},
		{RoleDoctor, CapComplete, true},
		{RoleDoctor, CapReprogram, false},
		{RoleAdmin, CapDeleteSlots, true},
		{RoleAdmin, CapBookAppointment, false},
	}
	for _, tc := range cases {
		a := Actor{ID: uuid.New(), Role: tc.role}
		assert.Equal(t, tc.want, a.Can(tc.cap), "%s / %s", tc.role, tc.cap)
	}
}

func TestActorContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	a := Actor{ID: uuid.New(), Role: RoleDoctor}
	got, ok := FromContext(WithActor(context.Background(), a))
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.True(t, got.Valid())
	assert.False(t, Actor{Role: RoleDoctor}.Valid())
}
