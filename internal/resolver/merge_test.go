package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/internal/federation"
)

func TestAdoptLocale(t *testing.T) {
	cases := []struct {
		name    string
		local   string
		foreign string
		want    string
		adopted bool
	}{
		{"empty local adopts anything", "", "de_DE", "de_DE", true},
		{"empty foreign changes nothing", "de_DE", "", "", false},
		{"region added to bare language", "de", "de_DE", "de_DE", true},
		{"never downgraded to bare language", "de_DE", "de", "", false},
		{"same specificity keeps local", "de_DE", "de_AT", "", false},
		{"different language keeps local", "en", "de_DE", "", false},
		{"dash separator accepted", "de", "de-DE", "de-DE", true},
		{"mixed separators compare by language", "de-DE", "de_AT", "", false},
		{"equal bare tags keep local", "de", "de", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, adopted := adoptLocale(tc.local, tc.foreign)
			assert.Equal(t, tc.adopted, adopted)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMergeProfile(t *testing.T) {
	t.Run("fills only empty fields", func(t *testing.T) {
		user := &domain.User{
			DisplayName: "Existing Name",
			TimeZone:    "",
			Locale:      "hu",
		}
		changed := mergeProfile(user, federation.ExternalUserInfo{
			DisplayName: "Foreign Name",
			Email:       "jane@example.com",
			TimeZone:    "Europe/Budapest",
			Locale:      "hu_HU",
		})

		assert.True(t, changed)
		assert.Equal(t, "Existing Name", user.DisplayName)
		assert.Equal(t, "jane@example.com", user.Email)
		assert.Equal(t, "Europe/Budapest", user.TimeZone)
		assert.Equal(t, "hu_HU", user.Locale)
	})

	t.Run("reports no change for a complete profile", func(t *testing.T) {
		user := &domain.User{
			DisplayName: "Name",
			Email:       "jane@example.com",
			TimeZone:    "UTC",
			Locale:      "en_US",
		}
		changed := mergeProfile(user, federation.ExternalUserInfo{
			DisplayName: "Other",
			Email:       "other@example.com",
			TimeZone:    "Europe/Vienna",
			Locale:      "en_GB",
		})

		assert.False(t, changed)
		assert.Equal(t, "jane@example.com", user.Email)
		assert.Equal(t, "en_US", user.Locale)
	})

	t.Run("empty foreign profile changes nothing", func(t *testing.T) {
		user := &domain.User{}
		assert.False(t, mergeProfile(user, federation.ExternalUserInfo{}))
	})
}
