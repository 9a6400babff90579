package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChatID(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain digits", "5215512345678", "5215512345678@s.whatsapp.net"},
		{"formatted US number", "+1 (555) 123-4567", "15551234567@s.whatsapp.net"},
		{"dots and spaces", "52.155.1234 5678", "5215512345678@s.whatsapp.net"},
		{"existing individual jid", "5215512345678@s.whatsapp.net", "5215512345678@s.whatsapp.net"},
		{"existing group jid keeps domain", "120363041234567890@g.us", "120363041234567890@g.us"},
		{"legacy c.us suffix kept", "+52 155 1234-5678@c.us", "5215512345678@c.us"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeChatID(tc.input))
		})
	}
}

func TestToJID(t *testing.T) {
	jid, err := ToJID("+1 (555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", jid.User)
	assert.Equal(t, "s.whatsapp.net", jid.Server)
}

func TestToJIDRejectsEmpty(t *testing.T) {
	_, err := ToJID("not a number")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "book-appointment", Slugify("Book Appointment"))
	assert.Equal(t, "yes", Slugify("Yes"))
	assert.Equal(t, "call-us-now", Slugify("  Call us NOW!  "))
	assert.Equal(t, "option-1", Slugify("Option 1"))
	assert.Equal(t, "", Slugify("!!!"))
}
