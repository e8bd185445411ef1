package chat

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/nexus/chat-app/internal/errs"
	"github.com/nexus/chat-app/internal/metrics"
	"github.com/nexus/chat-app/internal/model"
)

const coinsUsage = "/coins set <name> <amount>"

// runCommand interprets text as a slash command. It reports false for
// commands it does not know so that the caller sends them as plain text.
func (s *Session) runCommand(ctx context.Context, text string) (bool, error) {
	args := strings.Fields(text)
	if len(args) < 2 || strings.ToLower(args[0]) != "/coins" || args[1] != "set" {
		return false, nil
	}
	return true, s.setCoins(ctx, args[2:])
}

// setCoins implements /coins set <name> <amount>.
func (s *Session) setCoins(ctx context.Context, args []string) error {
	if !s.Self().IsOperator() {
		metrics.CommandsTotal.WithLabelValues("denied").Inc()
		s.notify(errs.NewError(errs.ErrUnauthorized).Message)
		return nil
	}

	var target, rawAmount string
	if len(args) > 0 {
		target = args[0]
	}
	if len(args) > 1 {
		rawAmount = args[1]
	}
	amount, ok := parseLeadingInt(rawAmount)
	if target == "" || !ok {
		metrics.CommandsTotal.WithLabelValues("invalid").Inc()
		s.notify(errs.NewError(errs.ErrCommandUsage, coinsUsage).Message)
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errs.NewError(errs.ErrTransportClose)
	}

	updated, found := s.store.UpdateUserCoins(ctx, target, amount)
	if !found {
		if _, exists := s.store.FindUser(ctx, target); exists {
			// The write failed; the store has already alerted.
			metrics.CommandsTotal.WithLabelValues("failed").Inc()
			return nil
		}
		metrics.CommandsTotal.WithLabelValues("not_found").Inc()
		s.notify(errs.NewError(errs.ErrUserNotFound, target).Message)
		return nil
	}

	if err := conn.BroadcastUserUpdate(updated); err != nil {
		s.log.Warn().Err(err).Str("target", updated.Name).Msg("user update broadcast failed")
	}
	// This tab does not hear its own USER_UPDATE. The entry keeps the
	// timestamp of the target's last event so its later LEAVE still wins.
	s.patchPresence(updated.Sanitized())

	metrics.CommandsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Str("target", updated.Name).Int("coins", amount).Msg("coins set")

	notice := model.NewSystemMessage(fmt.Sprintf("💰 The operator set %s's coins to %d.", updated.Name, amount))
	return s.send(ctx, notice)
}

// parseLeadingInt reads an optionally signed decimal integer from the start
// of s, ignoring leading whitespace and anything after the digits, so "50",
// "+50" and "50coins" all give 50. It fails if there are no digits or the
// value does not fit in an int.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	n, digits := 0, 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		d := int(s[digits] - '0')
		if n > (math.MaxInt-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}
