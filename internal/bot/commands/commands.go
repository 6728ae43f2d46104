// Package commands turns Discord slash commands into engine intents and
// formats the results as chat replies.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/poker-club-bot/internal/identity"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/stats"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/tournament"
	"github.com/jensholdgaard/poker-club-bot/internal/violation"
)

// ErrNotOrganizer is returned when a caller without an admin role runs an
// organizer command.
var ErrNotOrganizer = violation.New("not_organizer", "only organizers can use this command")

// Replies for failures that are not rule violations.
const (
	msgNotFound = "That player has never played here."
	msgFailure  = "Something went wrong. Please try again later."
)

// Invocation is one slash command as seen by the handlers.
type Invocation struct {
	Name   string
	Caller identity.Identity
	Roles  []string
	// Chips is the cash-out size for quit.
	Chips int64
	// Target is the player named by kick.
	Target *identity.Identity
}

// Reply is the outcome of an Invocation. Announce, when set, is also posted
// to the announcement channel. Private replies are shown to the caller only.
type Reply struct {
	Content  string
	Announce string
	Private  bool
}

// Messenger is the part of *discordgo.Session the handlers write to.
type Messenger interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds what the handlers need from the Discord settings.
type Config struct {
	AnnounceChannelID string
	// AdminRoleIDs gate organizer commands. Empty allows everyone.
	AdminRoleIDs []string
}

// Handlers process Discord interactions.
type Handlers struct {
	cfg         Config
	resolver    *identity.Resolver
	ledger      *ledger.Engine
	stats       *stats.Engine
	tournaments *tournament.Engine
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(cfg Config, resolver *identity.Resolver, l *ledger.Engine, s *stats.Engine, t *tournament.Engine, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		cfg:         cfg,
		resolver:    resolver,
		ledger:      l,
		stats:       s,
		tournaments: t,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/poker-club-bot/internal/bot/commands"),
	}
}

// organizerOnly lists commands gated by AdminRoleIDs.
var organizerOnly = []string{"kick", "shuffle", "tournament-begin", "tournament-end"}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	minChips := float64(0)
	return []*discordgo.ApplicationCommand{
		{Name: "startgame", Description: "Start a new cash game"},
		{Name: "buyin", Description: "Buy in to the running game"},
		{
			Name:        "quit",
			Description: "Cash out of the running game",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "chips",
					Description: "Chips you are leaving with",
					Required:    true,
					MinValue:    &minChips,
				},
			},
		},
		{Name: "endgame", Description: "End the running game"},
		{Name: "summary", Description: "Show the ledger of the running game"},
		{Name: "history", Description: "Show totals over the most recent games"},
		{Name: "log", Description: "Show the latest buy-ins and cash-outs"},
		{Name: "stats", Description: "Show your lifetime statistics"},
		{Name: "tournament-start", Description: "Open a new tournament"},
		{Name: "join", Description: "Join the running tournament"},
		{Name: "eliminate", Description: "Leave the running tournament"},
		{
			Name:        "kick",
			Description: "Eliminate another player (organizers only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "player",
					Description: "The player to eliminate",
					Required:    true,
				},
			},
		},
		{Name: "shuffle", Description: "Assign random seats (organizers only)"},
		{Name: "tournament-begin", Description: "Start the tournament clock (organizers only)"},
		{Name: "tournament-end", Description: "Close the tournament (organizers only)"},
		{Name: "tournament", Description: "Show the current tournament"},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.Dispatch(context.Background(), s, i)
}

// Dispatch answers one interaction through m.
func (h *Handlers) Dispatch(ctx context.Context, m Messenger, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv, ok := InvocationFrom(i)
	if !ok {
		return
	}

	reply := h.Handle(ctx, inv)

	resp := &discordgo.InteractionResponseData{Content: reply.Content}
	if reply.Private {
		resp.Flags = discordgo.MessageFlagsEphemeral
	}
	err := m.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: resp,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "responding to interaction failed",
			slog.String("command", inv.Name),
			slog.Any("error", err),
		)
	}

	if reply.Announce == "" || h.cfg.AnnounceChannelID == "" {
		return
	}
	if _, err := m.ChannelMessageSend(h.cfg.AnnounceChannelID, reply.Announce); err != nil {
		h.logger.ErrorContext(ctx, "sending announcement failed",
			slog.String("command", inv.Name),
			slog.String("channel_id", h.cfg.AnnounceChannelID),
			slog.Any("error", err),
		)
	}
}

// InvocationFrom extracts the caller and options of a slash command.
func InvocationFrom(i *discordgo.InteractionCreate) (Invocation, bool) {
	var user *discordgo.User
	inv := Invocation{}
	switch {
	case i.Member != nil && i.Member.User != nil:
		user = i.Member.User
		inv.Roles = i.Member.Roles
		inv.Caller.DisplayName = i.Member.Nick
	case i.User != nil:
		user = i.User
	default:
		return Invocation{}, false
	}
	inv.Caller.ExternalID = user.ID
	inv.Caller.Username = user.Username
	if inv.Caller.DisplayName == "" {
		inv.Caller.DisplayName = user.GlobalName
	}

	data := i.ApplicationCommandData()
	inv.Name = data.Name
	for _, opt := range data.Options {
		switch opt.Name {
		case "chips":
			inv.Chips = opt.IntValue()
		case "player":
			id, _ := opt.Value.(string)
			target := identity.Identity{ExternalID: id}
			if data.Resolved != nil {
				if u, ok := data.Resolved.Users[id]; ok {
					target.Username = u.Username
					target.DisplayName = u.GlobalName
				}
				if m, ok := data.Resolved.Members[id]; ok && m.Nick != "" {
					target.DisplayName = m.Nick
				}
			}
			inv.Target = &target
		}
	}
	return inv, true
}

// Handle runs inv and returns what to say.
func (h *Handlers) Handle(ctx context.Context, inv Invocation) Reply {
	ctx, span := h.tracer.Start(ctx, "Handlers.Handle",
		trace.WithAttributes(
			attribute.String("command", inv.Name),
			attribute.String("external_id", inv.Caller.ExternalID),
		),
	)
	defer span.End()

	if slices.Contains(organizerOnly, inv.Name) && !h.isOrganizer(inv.Roles) {
		return h.failure(ctx, span, inv, ErrNotOrganizer)
	}

	caller, err := h.resolver.Resolve(ctx, inv.Caller)
	if err != nil {
		return h.failure(ctx, span, inv, err)
	}

	var reply Reply
	switch inv.Name {
	case "startgame":
		reply, err = h.startGame(ctx, caller)
	case "buyin":
		reply, err = h.buyIn(ctx, caller)
	case "quit":
		reply, err = h.quit(ctx, caller, inv.Chips)
	case "endgame":
		reply, err = h.endGame(ctx, caller)
	case "summary":
		reply, err = h.summary(ctx)
	case "history":
		reply, err = h.history(ctx)
	case "log":
		reply, err = h.log(ctx)
	case "stats":
		reply, err = h.playerStats(ctx, caller)
	case "tournament-start":
		reply, err = h.tournamentStart(ctx, caller)
	case "join":
		reply, err = h.join(ctx, caller)
	case "eliminate":
		reply, err = h.eliminate(ctx, caller)
	case "kick":
		reply, err = h.kick(ctx, inv.Target)
	case "shuffle":
		reply, err = h.shuffle(ctx)
	case "tournament-begin":
		reply, err = h.tournamentBegin(ctx)
	case "tournament-end":
		reply, err = h.tournamentEnd(ctx, caller)
	case "tournament":
		reply, err = h.tournamentSummary(ctx)
	default:
		return Reply{Content: "Unknown command", Private: true}
	}
	if err != nil {
		return h.failure(ctx, span, inv, err)
	}
	return reply
}

func (h *Handlers) isOrganizer(roles []string) bool {
	if len(h.cfg.AdminRoleIDs) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(h.cfg.AdminRoleIDs, r) {
			return true
		}
	}
	return false
}

// failure maps err to a private reply. Rule violations are shown as they
// are; anything else is logged and hidden behind a generic message.
func (h *Handlers) failure(ctx context.Context, span trace.Span, inv Invocation, err error) Reply {
	if violation.Is(err) {
		return Reply{Content: capitalize(err.Error()) + ".", Private: true}
	}
	if errors.Is(err, store.ErrNotFound) {
		return Reply{Content: msgNotFound, Private: true}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "command failed")
	h.logger.ErrorContext(ctx, "command failed",
		slog.String("command", inv.Name),
		slog.String("external_id", inv.Caller.ExternalID),
		slog.Any("error", err),
	)
	return Reply{Content: msgFailure, Private: true}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
