package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/fence"
	"github.com/pgguard/pgguard/statestore"
)

type Config struct {
	Port     string
	NodeName string
}

// Api is the operator control surface of one agent. Everything here is a
// convenience wrapper over the same components the control loop drives; the
// fencing gate still applies to manual promotions.
type Api struct {
	Topology  cluster.Provider
	Gate      *fence.Gate
	Override  statestore.OverrideMarker
	Publisher statestore.Publisher
	Log       *logrus.Entry
	QuitChan  chan int
	Config
}

func (s *Api) Start(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	s.Log = s.Log.WithField("subcomponent", "api")
	s.Log.Infof("starting pgguard api")

	r.GET("/status", func(c *gin.Context) {
		snap, err := s.Topology.Snapshot(ctx)
		health := cluster.Classify(snap)

		published, _ := s.Publisher.GetPublishedPrimary()
		body := gin.H{
			"node":              s.NodeName,
			"health":            health,
			"published_primary": published,
		}
		if err != nil {
			body["topology_error"] = err.Error()
		}
		if snap != nil {
			body["primary"] = snap.Primary
			body["nodes"] = snap.Nodes
		}

		c.JSON(http.StatusOK, body)
	})

	r.GET("/promote", func(c *gin.Context) {
		if err := s.Gate.AttemptPromotion(ctx); err != nil {
			if refusal, ok := fence.AsRefusal(err); ok {
				c.JSON(http.StatusConflict, gin.H{"refused": string(refusal.Reason), "detail": refusal.Detail})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("node %v promoted", s.NodeName),
		})
	})

	r.GET("/override", func(c *gin.Context) {
		if err := s.Override.Place(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "override marker placed, next promotion attempt bypasses fencing",
		})
	})

	r.GET("/shutdown", func(c *gin.Context) {
		defer func() {
			s.QuitChan <- 0
		}()

		c.JSON(http.StatusOK, gin.H{
			"message": "node is shutting down",
		})
	})

	if err := r.Run(fmt.Sprintf(":%v", s.Port)); err != nil {
		s.Log.WithError(err).Fatal()
	}
}
