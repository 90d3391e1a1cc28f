package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

func TestAuthContextAllows(t *testing.T) {
	tests := []struct {
		name    string
		context models.AuthContext
		role    models.Role
		want    bool
	}{
		{"admin accepts admin", models.ContextAdmin, models.RoleAdmin, true},
		{"admin accepts super admin", models.ContextAdmin, models.RoleSuperAdmin, true},
		{"admin rejects musician", models.ContextAdmin, models.RoleMusician, false},
		{"musician accepts musician", models.ContextMusician, models.RoleMusician, true},
		{"musician rejects admin", models.ContextMusician, models.RoleAdmin, false},
		{"musician rejects super admin", models.ContextMusician, models.RoleSuperAdmin, false},
		{"musician accepts unknown role", models.ContextMusician, models.Role("FRIEND"), true},
		{"unknown context rejects all", models.AuthContext(42), models.RoleAdmin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.context.Allows(tt.role))
		})
	}
}

func TestAuthContextString(t *testing.T) {
	assert.Equal(t, "admin", models.ContextAdmin.String())
	assert.Equal(t, "musician", models.ContextMusician.String())
	assert.Equal(t, "unknown", models.AuthContext(7).String())
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	token := &models.AuthToken{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, token.IsExpired(now))

	token.ExpiresAt = now
	assert.False(t, token.IsExpired(now))

	session := &models.Session{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, session.IsExpired(now))
	assert.True(t, session.IsExpired(now.Add(2*time.Hour)))
}

func TestParseRoleAndEmail(t *testing.T) {
	assert.Equal(t, models.RoleSuperAdmin, models.ParseRole(" super_admin "))
	assert.True(t, models.ParseRole("admin").IsAdmin())
	assert.Equal(t, "m@example.com", models.NormalizeEmail("  M@Example.COM "))
}
