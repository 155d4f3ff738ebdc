package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/metrics"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/service"
	"Parley/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatHandler serves the roster and profile operations that do not need a
// live view.
type ChatHandler interface {
	Me(c *gin.Context)
	SearchUsers(c *gin.Context)
	ChangeStatus(c *gin.Context)
	ChangeAvatar(c *gin.Context)
	ListChats(c *gin.Context)
	AddContact(c *gin.Context)
	GetMessages(c *gin.Context)
	TogglePin(c *gin.Context)
	ToggleArchive(c *gin.Context)
	ClearChat(c *gin.Context)
	OpenChat(c *gin.Context)
	Block(c *gin.Context)
	Unblock(c *gin.Context)
}

type chatHandler struct {
	directory    identity.Directory
	repos        service.Repos
	uploader     media.Uploader
	events       eventlog.Publisher
	metrics      *metrics.Metrics
	avatarFolder string
	logger       *zap.Logger
	now          func() time.Time
}

func NewChatHandler(dir identity.Directory, repos service.Repos, uploader media.Uploader, events eventlog.Publisher, m *metrics.Metrics, avatarFolder string, logger *zap.Logger) ChatHandler {
	return &chatHandler{
		directory:    dir,
		repos:        repos,
		uploader:     uploader,
		events:       events,
		metrics:      m,
		avatarFolder: avatarFolder,
		logger:       logger.Named("chats"),
		now:          time.Now,
	}
}

type statusForm struct {
	Status string `json:"status" binding:"required"`
}

type contactForm struct {
	PeerID string `json:"peerId" binding:"required"`
}

// account restores the caller's identity into a fresh client so account
// operations act as the caller.
func (h *chatHandler) account(ctx context.Context, sess *session.Session) (*service.AccountService, error) {
	auth := identity.NewClient(h.directory)
	if _, err := auth.Restore(ctx, sess.Identity.Token); err != nil {
		return nil, err
	}
	return service.NewAccountService(auth, h.repos, h.uploader, h.avatarFolder, h.logger), nil
}

func (h *chatHandler) Me(c *gin.Context) {
	sess := sessionFrom(c)
	if sess.Profile == nil {
		abort(c, http.StatusNotFound, "profile not found")
		return
	}
	ok(c, sess.Profile, "Profile retrieved successfully")
}

func (h *chatHandler) SearchUsers(c *gin.Context) {
	username := c.Query("username")
	users, err := service.NewContactService(sessionFrom(c), h.repos, h.events, h.logger).Search(c.Request.Context(), username)
	if err != nil {
		fail(c, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	ok(c, users, "Users retrieved successfully")
}

func (h *chatHandler) ChangeStatus(c *gin.Context) {
	var form statusForm
	if err := c.ShouldBindJSON(&form); err != nil {
		abort(c, http.StatusBadRequest, "status is required")
		return
	}

	accounts, err := h.account(c.Request.Context(), sessionFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := accounts.ChangeStatus(c.Request.Context(), form.Status); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil, "Status updated successfully")
}

func (h *chatHandler) ChangeAvatar(c *gin.Context) {
	header, err := c.FormFile("avatar")
	if err != nil {
		abort(c, http.StatusBadRequest, "avatar file is required")
		return
	}
	file, err := readFormFile(header)
	if err != nil {
		fail(c, err)
		return
	}

	accounts, err := h.account(c.Request.Context(), sessionFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	url, err := accounts.ChangeAvatar(c.Request.Context(), *file)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"avatar": url}, "Avatar updated successfully")
}

// ListChats returns the roster as a one-off read, ordered the same way the
// live roster is.
func (h *chatHandler) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	sess := sessionFrom(c)
	uid := sess.UID()

	rows, err := h.repos.Members.List(ctx, uid)
	if err != nil {
		fail(c, err)
		return
	}

	peers := make(map[string]*model.User)
	for _, row := range rows {
		if _, seen := peers[row.ReceiverID]; seen {
			continue
		}
		peer, err := h.repos.Users.Get(ctx, row.ReceiverID)
		if err != nil {
			h.logger.Warn("peer load failed", zap.String("peer_id", row.ReceiverID), zap.Error(err))
		}
		peers[row.ReceiverID] = peer
	}

	var pinned []string
	if sess.Profile != nil {
		pinned = sess.Profile.Pinned
	}
	entries := service.OrderRoster(rows, pinned, uid, func(id string) *model.User { return peers[id] }, h.now())
	if entries == nil {
		entries = []model.RosterEntry{}
	}
	ok(c, entries, "Chats retrieved successfully")
}

func (h *chatHandler) AddContact(c *gin.Context) {
	var form contactForm
	if err := c.ShouldBindJSON(&form); err != nil {
		abort(c, http.StatusBadRequest, "peerId is required")
		return
	}

	row, err := service.NewContactService(sessionFrom(c), h.repos, h.events, h.logger).AddContact(c.Request.Context(), form.PeerID)
	if errors.Is(err, service.ErrChatExists) {
		// reported to the user, not a failure
		ok(c, row, "Chat already exists")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, row, "Chat created successfully")
}

func (h *chatHandler) GetMessages(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := h.row(c.Request.Context(), sessionFrom(c), chatID); err != nil {
		fail(c, err)
		return
	}

	msgs, err := h.repos.Chats.Messages(c.Request.Context(), chatID)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{
		"chatId": chatID,
		"groups": service.GroupMessages(msgs, sessionFrom(c).UID(), h.now()),
	}, "Messages retrieved successfully")
}

func (h *chatHandler) TogglePin(c *gin.Context) {
	pinned, err := h.chatList(c).TogglePin(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"pinned": pinned}, "Pin toggled successfully")
}

func (h *chatHandler) ToggleArchive(c *gin.Context) {
	archived, err := h.chatList(c).ToggleArchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"archived": archived}, "Archive toggled successfully")
}

func (h *chatHandler) ClearChat(c *gin.Context) {
	row, err := h.row(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.chatList(c).Clear(c.Request.Context(), row.ChatID, row.ReceiverID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil, "Chat cleared successfully")
}

func (h *chatHandler) OpenChat(c *gin.Context) {
	if err := h.chatList(c).Open(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil, "Chat marked as read")
}

func (h *chatHandler) Block(c *gin.Context) {
	h.setBlock(c, true)
}

func (h *chatHandler) Unblock(c *gin.Context) {
	h.setBlock(c, false)
}

func (h *chatHandler) setBlock(c *gin.Context, block bool) {
	sess := sessionFrom(c)
	row, err := h.row(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	contacts := service.NewContactService(sess, h.repos, h.events, h.logger)
	if block {
		err = contacts.Block(c.Request.Context(), row.ChatID, row.ReceiverID)
	} else {
		err = contacts.Unblock(c.Request.Context(), row.ChatID, row.ReceiverID)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"blocked": block}, "Block updated successfully")
}

func (h *chatHandler) chatList(c *gin.Context) *service.ChatListService {
	return service.NewChatListService(sessionFrom(c), h.repos, h.events, h.metrics, h.logger)
}

// row finds the caller's membership row for chatID; a chat the caller is
// not a member of is reported as missing.
func (h *chatHandler) row(ctx context.Context, sess *session.Session, chatID string) (*model.Membership, error) {
	rows, err := h.repos.Members.List(ctx, sess.UID())
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ChatID == chatID {
			found := r
			return &found, nil
		}
	}
	return nil, fmt.Errorf("chat %s: %w", chatID, repo.ErrMembershipNotFound)
}
