package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	accountservice "pharma/backend/internal/account/service"
	authservice "pharma/backend/internal/auth/service"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

func (h *handler) login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	if email == "" || password == "" {
		respond(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	creds, err := h.auth.Login(c.Request.Context(), authservice.LoginRequest{
		Email:     email,
		Password:  password,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	h.cookies.setCredentials(c, creds, h.auth.AccessTTL(), h.auth.RefreshTTL())
	respond(c, http.StatusOK, msgLoginOK)
}

func (h *handler) refresh(c *gin.Context) {
	raw, err := c.Cookie(refreshCookie)
	if err != nil || raw == "" {
		respond(c, http.StatusUnauthorized, msgRefreshMissing)
		return
	}
	creds, err := h.auth.Refresh(c.Request.Context(), raw)
	if err != nil {
		writeFailure(c, err, msgRefreshInvalid)
		return
	}
	h.cookies.setCredentials(c, creds, h.auth.AccessTTL(), h.auth.RefreshTTL())
	respond(c, http.StatusOK, msgRefreshOK)
}

func (h *handler) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), currentUserID(c)); err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	h.cookies.clearCredentials(c)
	respond(c, http.StatusOK, msgLogoutOK)
}

type registerRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

// register always creates a buyer; admins are provisioned by cmd/seed.
func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	_, err := h.accounts.Register(c.Request.Context(), accountservice.RegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      userdomain.RoleBuyer,
	})
	if err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	respond(c, http.StatusCreated, msgUserCreated)
}

type confirmRequest struct {
	ConfirmationCode string `json:"confirmation_code" binding:"required"`
}

func (h *handler) confirmAccount(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := h.accounts.Confirm(c.Request.Context(), req.ConfirmationCode); err != nil {
		writeFailure(c, err, msgCodeNotFound)
		return
	}
	respond(c, http.StatusOK, msgAccountConfirmed)
}

type forgetPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *handler) forgetPassword(c *gin.Context) {
	var req forgetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := h.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	respond(c, http.StatusOK, msgResetMailSent)
}

type resetPasswordRequest struct {
	ConfirmationCode string `json:"confirmation_code" binding:"required"`
	Password         string `json:"password" binding:"required"`
	ConfirmPassword  string `json:"confirm_password" binding:"required"`
}

func (h *handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := h.accounts.ResetPassword(c.Request.Context(), req.ConfirmationCode, req.Password, req.ConfirmPassword); err != nil {
		writeFailure(c, err, msgCodeNotFound)
		return
	}
	respond(c, http.StatusOK, msgPasswordUpdated)
}

type userView struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handler) me(c *gin.Context) {
	u, err := h.accounts.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, userView{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	})
}

// deleteMe removes the caller's account and clears its cookies.
func (h *handler) deleteMe(c *gin.Context) {
	if err := h.accounts.DeleteUser(c.Request.Context(), currentUserID(c)); err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	h.cookies.clearCredentials(c)
	respond(c, http.StatusOK, msgUserDeleted)
}

type sessionView struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id"`
	IPAddress      string                  `json:"ip_address,omitempty"`
	UserAgent      string                  `json:"user_agent,omitempty"`
	Location       *sessiondomain.Location `json:"location,omitempty"`
	LastActivityAt time.Time               `json:"last_activity_at"`
	CreatedAt      time.Time               `json:"created_at"`
	IsActive       bool                    `json:"is_active"`
}

func (h *handler) mySessions(c *gin.Context) {
	list, err := h.sessions.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:             s.ID,
			UserID:         s.UserID,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			Location:       s.Location,
			LastActivityAt: s.LastActivityAt,
			CreatedAt:      s.CreatedAt,
			IsActive:       s.Active,
		})
	}
	c.JSON(http.StatusOK, out)
}

const activityLimit = 50

type activityView struct {
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// myActivity returns the caller's most recent audit events, newest first.
func (h *handler) myActivity(c *gin.Context) {
	list, err := h.activity.ListByUser(c.Request.Context(), currentUserID(c), activityLimit)
	if err != nil {
		writeFailure(c, err, msgUserNotFound)
		return
	}
	out := make([]activityView, 0, len(list))
	for _, a := range list {
		out = append(out, activityView{Action: a.Action, Resource: a.Resource, IP: a.IP, Metadata: a.Metadata, CreatedAt: a.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ready(c.Request.Context()); err != nil {
			respond(c, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	respond(c, http.StatusOK, "ok")
}
