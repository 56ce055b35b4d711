package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/approval-api/internal/models"
)

func TestMessageMatching(t *testing.T) {
	registrar := &Client{UID: "reg-1", Role: models.RoleRegistrar}
	student := &Client{UID: "stu-1", Role: models.RoleStudent}
	admin := &Client{UID: "adm-1", Role: models.RoleAdmin}

	msg := Message{
		Roles: []models.UserRole{models.RoleRegistrar, models.RoleAdmin},
		UIDs:  []string{"stu-1"},
	}

	assert.True(t, msg.matches(registrar))
	assert.True(t, msg.matches(student))
	assert.True(t, msg.matches(admin))
	assert.False(t, msg.matches(&Client{UID: "stu-2", Role: models.RoleStudent}))
}

func TestEmptyMessageBroadcasts(t *testing.T) {
	msg := Message{Data: []byte("hello")}
	assert.True(t, msg.matches(&Client{UID: "anyone", Role: models.RoleTeacher}))
}
