package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"alarmflow/internal/auth"
	"alarmflow/internal/model"
	"alarmflow/internal/store"
	"alarmflow/logger"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a password of at least 8 characters are required"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.serverError(c, err)
		return
	}

	user, err := s.store.CreateUser(c.Request.Context(), req.Username, hash)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username already registered"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	s.log.WithComponent("server").WithFields(logger.Fields{"username": user.Username}).Info("user registered")
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, hash, err := s.store.GetUserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPassword(req.Password, hash)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	token, err := s.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

type createGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	group, err := s.store.CreateGroup(c.Request.Context(), req.Name)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name already taken"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

// handleAddGroupMember adds a user to a group, then pushes the catch-up
// snapshot of every page granted to that group to the new member, so
// joining takes effect without a reconnect.
func (s *Server) handleAddGroupMember(c *gin.Context) {
	ctx := c.Request.Context()
	groupID, userID := c.Param("id"), c.Param("uid")

	if _, err := s.store.GetGroupByID(ctx, groupID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	} else if err != nil {
		s.serverError(c, err)
		return
	}
	if _, err := s.store.GetUserByID(ctx, userID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	} else if err != nil {
		s.serverError(c, err)
		return
	}

	err := s.store.AddGroupMember(ctx, groupID, userID)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a member"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	pages, err := s.store.PagesGrantedToGroup(ctx, groupID)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Warn("cannot push join catch-up")
	} else {
		for _, page := range pages {
			s.notifier.SendPageSnapshot(ctx, userID, page)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

// handleRemoveGroupMember drops the membership row. No revocation push
// is sent; affected connections see the change on their next snapshot.
func (s *Server) handleRemoveGroupMember(c *gin.Context) {
	err := s.store.RemoveGroupMember(c.Request.Context(), c.Param("id"), c.Param("uid"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// handleDeleteGroup cascades grants and memberships at the store level.
// Like member removal it sends no revocation pushes; this staleness
// until the next reconnect is accepted.
func (s *Server) handleDeleteGroup(c *gin.Context) {
	err := s.store.DeleteGroup(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type createPageRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCreatePage(c *gin.Context) {
	var req createPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	page, err := s.store.CreatePage(c.Request.Context(), req.Name, currentUser(c).ID)
	if err != nil {
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusCreated, page)
}

func (s *Server) handleListPages(c *gin.Context) {
	user := currentUser(c)
	pages, err := s.resolver.AccessiblePages(c.Request.Context(), user.ID)
	if err != nil {
		s.serverError(c, err)
		return
	}

	out := make([]gin.H, 0, len(pages))
	for _, p := range pages {
		out = append(out, gin.H{
			"id":       p.ID,
			"name":     p.Name,
			"owner_id": p.OwnerID,
			"is_owner": p.OwnerID == user.ID,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePageAlarms(c *gin.Context) {
	ctx := c.Request.Context()
	pageID := c.Param("id")

	ok, err := s.resolver.CanView(ctx, currentUser(c).ID, pageID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	alarms, err := s.store.AlarmsForPages(ctx, []string{pageID})
	if err != nil {
		s.serverError(c, err)
		return
	}
	if alarms == nil {
		alarms = []model.Alarm{}
	}
	c.JSON(http.StatusOK, alarms)
}

func (s *Server) handleAlarmEvents(c *gin.Context) {
	ctx := c.Request.Context()

	alarm, err := s.store.GetAlarmByID(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alarm not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	ok, err := s.resolver.CanView(ctx, currentUser(c).ID, alarm.PageID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	events, err := s.store.AlarmEvents(ctx, alarm.ID, 100)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if events == nil {
		events = []model.AlarmEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.log.WithComponent("server").WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
