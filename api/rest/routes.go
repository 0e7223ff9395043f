package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/store"
)

// Handlers groups every REST handler for route registration.
type Handlers struct {
	Users    *UserHandler
	Friends  *FriendHandler
	Calls    *CallHandler
	Location *LocationHandler
	Admin    *AdminHandler
}

// AdminOptions guards the admin route group.
type AdminOptions struct {
	Key string
	IPs []string
}

// Register mounts the /api routes on r.
func (h *Handlers) Register(r gin.IRouter, admin AdminOptions) {
	api := r.Group("/api")

	api.POST("/users/register", h.Users.Register)

	authed := api.Group("")
	authed.Use(mw.Identity())
	{
		users := authed.Group("/users")
		users.GET("/me", h.Users.Me)
		users.GET("/search", h.Users.Search)
		users.GET("/:id", h.Users.Get)

		friends := authed.Group("/friends")
		friends.GET("", h.Friends.List)
		friends.GET("/requests", h.Friends.Requests)
		friends.POST("/request", h.Friends.SendRequest)
		friends.POST("/requests/:id/accept", h.Friends.Accept)
		friends.POST("/requests/:id/reject", h.Friends.Reject)
		friends.DELETE("/:userId", h.Friends.Remove)

		calls := authed.Group("/calls")
		calls.POST("/initiate", h.Calls.Initiate)
		calls.POST("/retry", h.Calls.Retry)
		calls.POST("/answer", h.Calls.Answer)
		calls.POST("/end", h.Calls.End)

		loc := authed.Group("/location")
		loc.POST("/update", h.Location.Update)
		loc.GET("/channels/nearby", h.Location.Nearby)
		loc.GET("/channels/mine", h.Location.Mine)
		loc.POST("/channels", h.Location.Create)
		loc.POST("/channels/:id/join", h.Location.Join)
		loc.POST("/channels/:id/leave", h.Location.Leave)
		loc.GET("/channels/:id/participants", h.Location.Participants)
		loc.POST("/channels/:id/group-call/start", h.Location.StartGroupCall)
	}

	if h.Admin != nil {
		adm := api.Group("/admin")
		adm.Use(mw.IPWhitelist(admin.IPs), mw.AdminAuth(admin.Key))
		adm.GET("/metrics", h.Admin.Metrics)
		adm.GET("/online", h.Admin.Online)
		adm.POST("/announce", h.Admin.Announce)
		adm.GET("/scheduler", h.Admin.ListSchedulerTasks)
	}
}

// Health reports whether the database answers.
// GET /health
func Health(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := st.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
