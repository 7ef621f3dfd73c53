package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lodgevision/signage/internal/gateway"
	"github.com/lodgevision/signage/internal/resolver"
	"github.com/lodgevision/signage/internal/syncgroup"
)

// NewRouter builds the gin router: sync-group CRUD + playback verbs,
// display endpoints and the websocket upgrade route.
func NewRouter(coordinator *syncgroup.Coordinator, res *resolver.Resolver, gw *gateway.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	groups := NewSyncGroupHandler(coordinator)
	displays := NewDisplayHandler(res, gw)

	api := r.Group("/api")
	{
		sg := api.Group("/sync-groups")
		{
			sg.POST("", groups.Create)
			sg.GET("", groups.List)
			sg.GET("/:id", groups.Get)
			sg.PUT("/:id", groups.Update)
			sg.DELETE("/:id", groups.Delete)

			sg.POST("/:id/playback/start", groups.StartPlayback)
			sg.POST("/:id/playback/pause", groups.PausePlayback)
			sg.POST("/:id/playback/resume", groups.ResumePlayback)
			sg.POST("/:id/playback/seek", groups.SeekPlayback)
			sg.POST("/:id/playback/stop", groups.StopPlayback)
			sg.POST("/:id/conductor", groups.ElectConductor)
		}

		d := api.Group("/displays")
		{
			d.GET("/:id/current-source", displays.CurrentSource)
			d.POST("/confirm-pairing", displays.ConfirmPairing)
			d.POST("/:id/command", displays.Command)
			d.POST("/:id/quick-play", displays.QuickPlay)
		}
	}

	r.GET("/ws", gin.WrapF(gw.HandleWS))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": gw.Stats()})
	})

	return r
}
