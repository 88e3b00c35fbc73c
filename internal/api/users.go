package api

import (
	"log/slog"
	"net/http"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/api/httperr"

	"github.com/gin-gonic/gin"
)

type userListResponse struct {
	Success bool                `json:"success"`
	Count   int                 `json:"count"`
	Users   []auth.UserResponse `json:"users"`
}

// handleListUsers 返回全部用户（最新注册在前），不含密码哈希。
//
// GET /users
func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	out := make([]auth.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, auth.NewUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, userListResponse{Success: true, Count: len(out), Users: out})
}
