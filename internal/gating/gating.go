// Package gating decides whether a user has joined every mandatory channel.
//
// Only a definitive "not a member" answer fails a channel. Anything
// inconclusive, such as an unknown channel, a bot without access or a
// transport error, counts as a pass so a misconfigured channel cannot lock
// every user out.
package gating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"catalog_bot/internal/metrics"
	"catalog_bot/internal/model"
)

// Status is a membership state reported by the chat platform.
type Status string

// Membership states. Creator is the platform's name for the owner.
const (
	StatusMember        Status = "member"
	StatusAdministrator Status = "administrator"
	StatusCreator       Status = "creator"
	StatusRestricted    Status = "restricted"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
)

// Absent reports whether s definitively means the user is not in the channel.
func (s Status) Absent() bool {
	return s == StatusLeft || s == StatusKicked
}

// Classified lookup faults. Only ErrUserNotFound fails the gate.
var (
	ErrTargetNotFound = errors.New("channel not found")
	ErrNoVisibility   = errors.New("checker cannot see channel members")
	ErrUserNotFound   = errors.New("user not found")
)

// MembershipChecker looks up a user's status in a channel identified by "@handle".
type MembershipChecker interface {
	CheckMembership(ctx context.Context, handle string, userID int64) (Status, error)
}

// ChannelLister provides the channels to evaluate.
type ChannelLister interface {
	ListChannels(ctx context.Context, mandatoryOnly bool) ([]model.Channel, error)
}

// Result is the outcome of an evaluation.
type Result struct {
	Passed      bool
	Outstanding []model.Channel
}

// Evaluator checks users against the mandatory channels.
type Evaluator struct {
	channels ChannelLister
	checker  MembershipChecker
	cache    Cache
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator. cache may be nil.
func NewEvaluator(channels ChannelLister, checker MembershipChecker, cache Cache, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		channels: channels,
		checker:  checker,
		cache:    cache,
		logger:   logger,
	}
}

// Evaluate returns whether userID may proceed and which channels are still
// outstanding. It never fails: if the channel list cannot be read the user
// passes.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) Result {
	channels, err := e.channels.ListChannels(ctx, true)
	if err != nil {
		e.logger.Error("list mandatory channels", "user_id", userID, "error", err)
		return Result{Passed: true}
	}

	var outstanding []model.Channel
	for _, ch := range channels {
		if !ch.IsMandatory || !ch.IsActive || ch.Kind != model.ChannelTelegram {
			continue
		}
		if !e.isMember(ctx, ch, userID) {
			outstanding = append(outstanding, ch)
		}
	}

	return Result{Passed: len(outstanding) == 0, Outstanding: outstanding}
}

func (e *Evaluator) isMember(ctx context.Context, ch model.Channel, userID int64) bool {
	handle := NormalizeHandle(ch.URL)
	if handle == "" {
		e.logger.Warn("channel has no usable handle", "channel_id", ch.ID, "url", ch.URL)
		metrics.GatingChecks.WithLabelValues("inconclusive").Inc()
		return true
	}

	key := cacheKey(handle, userID)
	if e.cache != nil {
		if _, ok := e.cache.Get(ctx, key); ok {
			metrics.GatingChecks.WithLabelValues("cached").Inc()
			return true
		}
	}

	status, err := e.checker.CheckMembership(ctx, handle, userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		metrics.GatingChecks.WithLabelValues("fail").Inc()
		return false
	case err != nil:
		e.logger.Warn("membership check inconclusive",
			"channel", handle, "user_id", userID, "fault", faultKind(err), "error", err)
		metrics.GatingChecks.WithLabelValues("inconclusive").Inc()
		return true
	case status.Absent():
		metrics.GatingChecks.WithLabelValues("fail").Inc()
		return false
	}

	metrics.GatingChecks.WithLabelValues("pass").Inc()
	if e.cache != nil {
		e.cache.Set(ctx, key, status)
	}
	return true
}

// Forget drops cached memberships of userID for the given channels, so a
// user who just left is checked again.
func (e *Evaluator) Forget(ctx context.Context, userID int64, channels []model.Channel) {
	if e.cache == nil {
		return
	}
	for _, ch := range channels {
		if h := NormalizeHandle(ch.URL); h != "" {
			e.cache.Delete(ctx, cacheKey(h, userID))
		}
	}
}

func cacheKey(handle string, userID int64) string {
	return fmt.Sprintf("%s:%d", handle, userID)
}

func faultKind(err error) string {
	switch {
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrNoVisibility):
		return "no_visibility"
	}
	return "other"
}
