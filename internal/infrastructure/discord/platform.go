package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-verify-ledger/internal/domain"
)

const memberSearchLimit = 25

// session is the subset of *discordgo.Session the platform uses.
type session interface {
	GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Platform talks to one guild over the REST API. It resolves handles to
// members, sends direct messages and grants the verified role.
type Platform struct {
	s       session
	guildID string
	roleID  string
}

// New creates a REST-only bot session. No gateway connection is opened.
func New(token, guildID, roleID string) (*Platform, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token required: %w", domain.ErrBadRequest)
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return newPlatform(s, guildID, roleID), nil
}

func newPlatform(s session, guildID, roleID string) *Platform {
	return &Platform{s: s, guildID: guildID, roleID: roleID}
}

// Resolve finds the guild member whose username equals handle, ignoring case.
func (p *Platform) Resolve(ctx context.Context, handle string) (string, bool, error) {
	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return "", false, nil
	}
	members, err := p.s.GuildMembersSearch(p.guildID, handle, memberSearchLimit, discordgo.WithContext(ctx))
	if err != nil {
		if restCode(err) == discordgo.ErrCodeUnknownGuild {
			return "", false, fmt.Errorf("guild %s: %w", p.guildID, domain.ErrPlatformUnavailable)
		}
		return "", false, fmt.Errorf("search guild members: %w", err)
	}
	for _, m := range members {
		if m.User != nil && strings.EqualFold(m.User.Username, handle) {
			return m.User.ID, true, nil
		}
	}
	return "", false, nil
}

// Deliver sends msg as an embed in a direct message.
func (p *Platform) Deliver(ctx context.Context, userID string, msg domain.Message) error {
	ch, err := p.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       msg.Color,
	}
	if _, err := p.s.ChannelMessageSendEmbed(ch.ID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send DM: %w", err)
	}
	return nil
}

// GrantRole adds the verified role to userID. Missing guild, member, role or
// permission are reported as results; only unexpected failures are errors.
func (p *Platform) GrantRole(ctx context.Context, userID string) (domain.GrantResult, error) {
	member, err := p.s.GuildMember(p.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if r, ok := grantResultFor(err); ok {
			return r, nil
		}
		return 0, fmt.Errorf("fetch guild member: %w", err)
	}
	if slices.Contains(member.Roles, p.roleID) {
		return domain.GrantAlreadyHeld, nil
	}
	if err := p.s.GuildMemberRoleAdd(p.guildID, userID, p.roleID, discordgo.WithContext(ctx)); err != nil {
		if r, ok := grantResultFor(err); ok {
			return r, nil
		}
		return 0, fmt.Errorf("add role: %w", err)
	}
	return domain.GrantGranted, nil
}

func grantResultFor(err error) (domain.GrantResult, bool) {
	switch restCode(err) {
	case discordgo.ErrCodeUnknownGuild:
		return domain.GrantGuildNotFound, true
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
		return domain.GrantMemberNotFound, true
	case discordgo.ErrCodeUnknownRole:
		return domain.GrantRoleNotFound, true
	case discordgo.ErrCodeMissingPermissions:
		return domain.GrantPermissionDenied, true
	}
	return 0, false
}

// restCode returns the Discord JSON error code carried by err, or 0.
func restCode(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		return rest.Message.Code
	}
	return 0
}
