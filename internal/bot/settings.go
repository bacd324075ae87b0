package bot

import (
	"errors"
	"fmt"
	"strings"

	"guardbot/internal/policy"
	"guardbot/internal/storage"
)

const (
	detectorGIF      = "gif"
	detectorInsult   = "insult"
	detectorImageURL = "imageurl"
)

var errNoChange = errors.New("nothing to change")

func setDetector(settings *storage.GuildSettings, name string, on bool) error {
	switch name {
	case detectorGIF:
		settings.GifDetector = on
	case detectorInsult:
		settings.InsultFilter = on
	case detectorImageURL:
		settings.ImageURLScan = on
	default:
		return fmt.Errorf("unknown detector %q", name)
	}
	return nil
}

func addExemption(settings *storage.GuildSettings, category policy.Category, roleID string) error {
	if settings.Exemptions == nil {
		settings.Exemptions = make(map[policy.Category][]string)
	}
	roles, changed := addUnique(settings.Exemptions[category], roleID)
	if !changed {
		return errNoChange
	}
	settings.Exemptions[category] = roles
	return nil
}

func removeExemption(settings *storage.GuildSettings, category policy.Category, roleID string) error {
	roles, changed := removeValue(settings.Exemptions[category], roleID)
	if !changed {
		return errNoChange
	}
	if len(roles) == 0 {
		delete(settings.Exemptions, category)
	} else {
		settings.Exemptions[category] = roles
	}
	return nil
}

func addWord(settings *storage.GuildSettings, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return errors.New("empty word")
	}
	words, changed := addUnique(settings.NGWords.Words, word)
	if !changed {
		return errNoChange
	}
	settings.NGWords.Words = words
	return nil
}

func removeWord(settings *storage.GuildSettings, word string) error {
	words, changed := removeValue(settings.NGWords.Words, strings.TrimSpace(word))
	if !changed {
		return errNoChange
	}
	settings.NGWords.Words = words
	return nil
}

func setPunishment(settings *storage.GuildSettings, level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("punishment level %d out of range 0-9", level)
	}
	settings.NGWords.Punishment = level
	return nil
}

func setException(settings *storage.GuildSettings, roleID string, on bool) error {
	var (
		roles   []string
		changed bool
	)
	if on {
		roles, changed = addUnique(settings.NGWords.ExceptionRoles, roleID)
	} else {
		roles, changed = removeValue(settings.NGWords.ExceptionRoles, roleID)
	}
	if !changed {
		return errNoChange
	}
	settings.NGWords.ExceptionRoles = roles
	return nil
}

func addUnique(values []string, value string) ([]string, bool) {
	for _, v := range values {
		if v == value {
			return values, false
		}
	}
	return append(values, value), true
}

func removeValue(values []string, value string) ([]string, bool) {
	for i, v := range values {
		if v == value {
			return append(values[:i:i], values[i+1:]...), true
		}
	}
	return values, false
}
