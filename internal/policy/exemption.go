// Package policy answers whether a member is exempt from a detector.
package policy

import (
	"context"

	"go.uber.org/zap"
)

type Category string

const (
	CategorySpam           Category = "spam"
	CategoryProfanity      Category = "profanity"
	CategoryThreadSpam     Category = "thread_spam"
	CategoryPhotosensitive Category = "photosensitive"

	// CategoryLink is kept so stored exemption sets round-trip. No detector
	// here filters links, so it is not offered for editing.
	CategoryLink Category = "link"
)

// Categories lists the categories a detector consults.
var Categories = []Category{CategorySpam, CategoryProfanity, CategoryThreadSpam, CategoryPhotosensitive}

func ParseCategory(value string) (Category, bool) {
	for _, category := range Categories {
		if string(category) == value {
			return category, true
		}
	}
	return "", false
}

// Source supplies the exemption role set of a community for one category.
type Source interface {
	ExemptRoles(ctx context.Context, guildID string, category Category) ([]string, error)
}

type Policy struct {
	source Source
	logger *zap.Logger
}

func New(source Source, logger *zap.Logger) *Policy {
	return &Policy{source: source, logger: logger}
}

// IsExempt reports whether any of memberRoles is in the community's set for
// category. Lookup failures count as no exemption.
func (p *Policy) IsExempt(ctx context.Context, guildID string, memberRoles []string, category Category) bool {
	if p == nil || p.source == nil || len(memberRoles) == 0 {
		return false
	}
	roles, err := p.source.ExemptRoles(ctx, guildID, category)
	if err != nil {
		p.logger.Warn("exemption lookup failed", zap.String("guild_id", guildID), zap.String("category", string(category)), zap.Error(err))
		return false
	}
	return HasAny(memberRoles, roles)
}

// Exempt is the pure form of IsExempt over an in-memory mapping.
func Exempt(sets map[Category][]string, memberRoles []string, category Category) bool {
	return HasAny(memberRoles, sets[category])
}

// HasAny reports whether the two role lists intersect.
func HasAny(memberRoles, roles []string) bool {
	if len(memberRoles) == 0 || len(roles) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(roles))
	for _, id := range roles {
		set[id] = struct{}{}
	}
	for _, id := range memberRoles {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
