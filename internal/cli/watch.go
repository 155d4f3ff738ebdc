package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"Parley/internal/model"
	"Parley/internal/service"
	"Parley/internal/session"

	"github.com/spf13/cobra"
)

func init() {
	watchCmd.AddCommand(watchRosterCmd, watchChatCmd)
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live views until interrupted",
}

var watchRosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Stream the chat list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			out := &syncWriter{w: cmd.OutOrStdout()}

			roster := service.NewRosterSync(sess, e.repos.Members, e.repos.Users, e.logger)
			unsub := roster.OnChange(func(entries []model.RosterEntry) {
				out.print(renderRoster(entries))
			})
			defer unsub()

			if err := roster.Start(ctx); err != nil {
				return err
			}
			defer roster.Stop()

			return present(ctx, e, sess)
		})
	},
}

var watchChatCmd = &cobra.Command{
	Use:   "chat [chat-id]",
	Short: "Stream one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			row, err := e.membership(ctx, sess, args[0])
			if err != nil {
				return err
			}
			out := &syncWriter{w: cmd.OutOrStdout()}

			conv := service.NewConversationSync(sess, e.repos.Chats, e.repos.Users, e.repos.Typing, e.logger)
			unsub := conv.OnChange(func(view *model.ConversationView) {
				out.print(renderConversation(view, sess.UID()))
			})
			defer unsub()

			if err := conv.Select(ctx, row.ChatID, row.ReceiverID); err != nil {
				return err
			}
			defer conv.Close()

			chats := service.NewChatListService(sess, e.repos, e.events, nil, e.logger)
			_ = chats.Open(ctx, row.ChatID)

			return present(ctx, e, sess)
		})
	},
}

// present keeps the user online until ctx is cancelled.
func present(ctx context.Context, e *env, sess *session.Session) error {
	reporter, err := service.NewReporter(sess, e.repos.Users, e.cfg.Presence.Heartbeat, e.logger)
	if err != nil {
		return err
	}
	if err := reporter.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return reporter.Stop(context.WithoutCancel(ctx))
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, text)
}

func renderRoster(entries []model.RosterEntry) string {
	var b strings.Builder
	b.WriteString("── chats ──\n")
	for _, entry := range entries {
		name := entry.ReceiverID
		if entry.Peer != nil {
			name = entry.Peer.Username
		}
		marks := ""
		if entry.Pinned {
			marks += "📌"
		}
		if entry.Unread {
			marks += fmt.Sprintf(" (%d)", entry.UnreadMessages)
		}
		if entry.Archived {
			marks += " [archived]"
		}
		fmt.Fprintf(&b, "%-36s %-16s %-10s %s%s\n", entry.ChatID, name, entry.TimeLabel, entry.LastMessage, marks)
	}
	return b.String()
}

func renderConversation(view *model.ConversationView, viewer string) string {
	var b strings.Builder

	peer := "unknown user"
	if view.Peer != nil {
		peer = view.Peer.Username
	}
	fmt.Fprintf(&b, "── %s %s ──\n", peer, view.PeerStatus)

	for _, group := range view.Groups {
		fmt.Fprintf(&b, "   %s\n", group.Label)
		for _, msg := range group.Messages {
			sender := msg.SenderID
			if msg.SenderID == viewer {
				sender = "you"
			} else if u := view.Senders[msg.SenderID]; u != nil {
				sender = u.Username
			}

			text := service.Preview(msg.Text, msg.Media)
			if msg.Edited {
				text += " (edited)"
			}
			if msg.Reaction != "" {
				text += " " + msg.Reaction.Emoji()
			}
			if msg.Star != nil && msg.Star.IsStarred {
				text += " ⭐"
			}
			fmt.Fprintf(&b, "%3d %s %s: %s\n", msg.Index, msg.Time, sender, text)
		}
	}

	if n := len(view.Groups); n > 0 {
		last := view.Groups[n-1].Messages
		fmt.Fprintf(&b, "   last message %s\n", last[len(last)-1].Age)
	}

	switch {
	case view.BlockedByViewer:
		b.WriteString("you blocked this user\n")
	case view.BlockedByPeer:
		b.WriteString("you have been blocked\n")
	case view.PeerTyping:
		b.WriteString("typing...\n")
	}
	return b.String()
}
