package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler interface {
	Register(c *gin.Context)
	Login(c *gin.Context)
	LoginFederated(c *gin.Context)
	Logout(c *gin.Context)
}

type authHandler struct {
	directory    identity.Directory
	repos        service.Repos
	uploader     media.Uploader
	avatarFolder string
	logger       *zap.Logger
}

func NewAuthHandler(dir identity.Directory, repos service.Repos, uploader media.Uploader, avatarFolder string, logger *zap.Logger) AuthHandler {
	return &authHandler{
		directory:    dir,
		repos:        repos,
		uploader:     uploader,
		avatarFolder: avatarFolder,
		logger:       logger.Named("auth"),
	}
}

type registerForm struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
	Username string `form:"username" json:"username" binding:"required"`
}

type loginForm struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type federatedForm struct {
	IDToken string `form:"id_token" json:"idToken" binding:"required"`
}

// every request gets its own identity client; the token it ends up with is
// what the caller keeps
func (h *authHandler) accounts() *service.AccountService {
	return service.NewAccountService(identity.NewClient(h.directory), h.repos, h.uploader, h.avatarFolder, h.logger)
}

// Register accepts JSON or a multipart form with an optional avatar file.
func (h *authHandler) Register(c *gin.Context) {
	var form registerForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"HttpStatusCode": http.StatusBadRequest,
			"ResponseBody":   nil,
			"IsSuccess":      false,
			"Message":        "email, password and username are required",
		})
		return
	}

	req := service.RegisterRequest{Email: form.Email, Password: form.Password, Username: form.Username}
	if header, err := c.FormFile("avatar"); err == nil {
		file, err := readFormFile(header)
		if err != nil {
			fail(c, err)
			return
		}
		req.Avatar = file
	}

	id, err := h.accounts().Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, id, "Account created successfully")
}

func (h *authHandler) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		abort(c, http.StatusBadRequest, "email and password are required")
		return
	}

	id, err := h.accounts().Login(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, id, "Signed in successfully")
}

func (h *authHandler) LoginFederated(c *gin.Context) {
	var form federatedForm
	if err := c.ShouldBind(&form); err != nil {
		abort(c, http.StatusBadRequest, "idToken is required")
		return
	}

	id, err := h.accounts().LoginFederated(c.Request.Context(), form.IDToken)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, id, "Signed in successfully")
}

// Logout records the caller offline. Tokens are stateless, so the caller
// discards its own copy.
func (h *authHandler) Logout(c *gin.Context) {
	sess := sessionFrom(c)
	auth := identity.NewClient(h.directory)
	if _, err := auth.Restore(c.Request.Context(), sess.Identity.Token); err != nil {
		fail(c, err)
		return
	}

	accounts := service.NewAccountService(auth, h.repos, h.uploader, h.avatarFolder, h.logger)
	if err := accounts.Logout(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}

	h.logger.Info("signed out", zap.String("uid", sess.UID()))
	ok(c, nil, "Signed out successfully")
}

func readFormFile(header *multipart.FileHeader) (*media.File, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	return &media.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
