package resolver

import (
	"strings"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/internal/federation"
)

// mergeProfile fills local account fields from a foreign profile. Non-empty
// local values are never overwritten; the one exception is the locale, which
// may be upgraded to a more specific tag (see adoptLocale). Returns whether
// anything changed.
func mergeProfile(user *domain.User, profile federation.ExternalUserInfo) bool {
	changed := false

	if user.DisplayName == "" && profile.DisplayName != "" {
		user.DisplayName = profile.DisplayName
		changed = true
	}
	if user.Email == "" && profile.Email != "" {
		user.Email = profile.Email
		changed = true
	}
	if user.TimeZone == "" && profile.TimeZone != "" {
		user.TimeZone = profile.TimeZone
		changed = true
	}
	if locale, ok := adoptLocale(user.Locale, profile.Locale); ok {
		user.Locale = locale
		changed = true
	}

	return changed
}

// adoptLocale decides whether the foreign locale replaces the local one.
// An empty local value adopts anything. Otherwise the foreign tag wins only
// when it names the same language and adds a region qualifier the local tag
// lacks; specificity is never downgraded, and a same-language tag of equal
// specificity does not replace the existing one.
func adoptLocale(local, foreign string) (string, bool) {
	if foreign == "" {
		return "", false
	}
	if local == "" {
		return foreign, true
	}
	if localeLanguage(local) != localeLanguage(foreign) {
		return "", false
	}
	if localeHasRegion(foreign) && !localeHasRegion(local) {
		return foreign, true
	}
	return "", false
}

// localeLanguage returns the primary language subtag of a locale identifier,
// accepting both "_" and "-" separators.
func localeLanguage(locale string) string {
	if i := strings.IndexAny(locale, "_-"); i >= 0 {
		return strings.ToLower(locale[:i])
	}
	return strings.ToLower(locale)
}

// localeHasRegion reports whether the locale identifier carries a subtag
// beyond the primary language.
func localeHasRegion(locale string) bool {
	return strings.IndexAny(locale, "_-") >= 0
}
