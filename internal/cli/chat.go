package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"Parley/internal/model"
	"Parley/internal/service"
	"Parley/internal/session"

	"github.com/spf13/cobra"
)

func init() {
	sendCmd.Flags().String("file", "", "attach a file")
	sendCmd.Flags().Int("reply", -1, "index of the message being replied to")

	for _, c := range []*cobra.Command{editCmd, reactCmd, starCmd} {
		c.Flags().String("id", "", "message id, preferred over the index when present")
	}

	rootCmd.AddCommand(searchCmd, addCmd, sendCmd, editCmd, reactCmd, starCmd)
	rootCmd.AddCommand(chatCommand("pin", "Pin or unpin a chat"))
	rootCmd.AddCommand(chatCommand("archive", "Archive or unarchive a chat"))
	rootCmd.AddCommand(chatCommand("clear", "Remove every message of a chat"))
	rootCmd.AddCommand(chatCommand("open", "Mark a chat as read"))
	rootCmd.AddCommand(chatCommand("block", "Block the other participant of a chat"))
	rootCmd.AddCommand(chatCommand("unblock", "Lift a block"))
}

var searchCmd = &cobra.Command{
	Use:   "search [username]",
	Short: "Find users by exact username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			users, err := service.NewContactService(sess, e.repos, e.events, e.logger).Search(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, users)
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add [user-id]",
	Short: "Start a chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			row, err := service.NewContactService(sess, e.repos, e.events, e.logger).AddContact(ctx, args[0])
			if errors.Is(err, service.ErrChatExists) {
				fmt.Fprintln(cmd.ErrOrStderr(), "chat already exists")
				return printJSON(cmd, row)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, row)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [chat-id] [text]",
	Short: "Send a message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			row, err := e.membership(ctx, sess, args[0])
			if err != nil {
				return err
			}

			req := service.SendRequest{ChatID: row.ChatID, PeerID: row.ReceiverID}
			if len(args) > 1 {
				req.Text = args[1]
			}
			if path, _ := cmd.Flags().GetString("file"); path != "" {
				if req.Attachment, err = readFile(path); err != nil {
					return err
				}
			}
			if idx, _ := cmd.Flags().GetInt("reply"); idx >= 0 {
				msgs, err := e.repos.Chats.Messages(ctx, row.ChatID)
				if err != nil {
					return err
				}
				if idx >= len(msgs) {
					return fmt.Errorf("no message at index %d", idx)
				}
				req.ReplyTo = &model.ReplyRef{Text: msgs[idx].Text, SenderID: msgs[idx].SenderID}
			}

			msg, err := mutations(e, sess).Send(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit [chat-id] [index] [text]",
	Short: "Edit one of your messages sent in the last five minutes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := messageRef(cmd, args[1])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			row, err := e.membership(ctx, sess, args[0])
			if err != nil {
				return err
			}
			return mutations(e, sess).Edit(ctx, row.ChatID, row.ReceiverID, ref, args[2])
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react [chat-id] [index] [heart|like|smile|wink|sad]",
	Short: "Toggle a reaction on a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := messageRef(cmd, args[1])
		if err != nil {
			return err
		}
		tag, err := model.ParseReaction(args[2])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			return mutations(e, sess).React(ctx, args[0], ref, tag)
		})
	},
}

var starCmd = &cobra.Command{
	Use:   "star [chat-id] [index]",
	Short: "Star or unstar a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := messageRef(cmd, args[1])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
			return mutations(e, sess).Star(ctx, args[0], ref)
		})
	},
}

// chatCommand builds the roster commands that take a single chat id.
func chatCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [chat-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env, sess *session.Session) error {
				row, err := e.membership(ctx, sess, args[0])
				if err != nil {
					return err
				}

				chats := service.NewChatListService(sess, e.repos, e.events, nil, e.logger)
				contacts := service.NewContactService(sess, e.repos, e.events, e.logger)

				switch name {
				case "pin":
					pinned, err := chats.TogglePin(ctx, row.ChatID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pinned: %t\n", pinned)
				case "archive":
					archived, err := chats.ToggleArchive(ctx, row.ChatID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "archived: %t\n", archived)
				case "clear":
					return chats.Clear(ctx, row.ChatID, row.ReceiverID)
				case "open":
					return chats.Open(ctx, row.ChatID)
				case "block":
					return contacts.Block(ctx, row.ChatID, row.ReceiverID)
				case "unblock":
					return contacts.Unblock(ctx, row.ChatID, row.ReceiverID)
				}
				return nil
			})
		},
	}
}

func mutations(e *env, sess *session.Session) *service.MutationService {
	return service.NewMutationService(sess, e.repos, e.uploader, e.events, nil, e.cfg.Media.ChatFolder, e.logger)
}

func messageRef(cmd *cobra.Command, index string) (model.MessageRef, error) {
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 {
		return model.MessageRef{}, fmt.Errorf("invalid message index %q", index)
	}
	id, _ := cmd.Flags().GetString("id")
	return model.MessageRef{Index: i, ID: id}, nil
}
