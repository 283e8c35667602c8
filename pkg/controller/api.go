package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/skymesh/internal/httputil"
	"github.com/skycoin/skymesh/internal/netutil"
	"github.com/skycoin/skymesh/pkg/drone"
	"github.com/skycoin/skymesh/pkg/router"
	"github.com/skycoin/skymesh/pkg/routing"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HTTPHandler serves the administrative API.
func (c *Controller) HTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(time.Second * 30))
			r.Get("/nodes", c.getNodes())
			r.Get("/nodes/{id}", c.getNode())
			r.Get("/nodes/{id}/topology", c.getTopology())
			r.Post("/nodes/{id}/discover", c.postDiscover())
			r.Post("/nodes/{id}/messages", c.postMessage())
			r.Post("/links", c.postLink())
			r.Delete("/links/{a}/{b}", c.deleteLink())
			r.Post("/drones/{id}/crash", c.postCrash())
			r.Post("/drones/{id}/pdr", c.postPDR())
			r.Get("/events", c.getEvents())
		})
		r.Get("/events/ws", c.streamEvents())
	})
	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return r
}

func (c *Controller) getNodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, c.Nodes())
	}
}

func (c *Controller) getNode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		info, err := c.Node(id)
		if err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, info)
	}
}

func (c *Controller) getTopology() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		snapshot, err := c.Topology(id)
		if err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, snapshot)
	}
}

func (c *Controller) postDiscover() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := c.Discover(r.Context(), id); err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		snapshot, err := c.Topology(id)
		if err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, snapshot)
	}
}

func (c *Controller) postMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		var reqBody struct {
			To      routing.NodeID `json:"to"`
			Payload string         `json:"payload"`
		}
		if err := httputil.ReadJSON(r, &reqBody); err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		sid, err := c.Send(r.Context(), from, reqBody.To, []byte(reqBody.Payload))
		if err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusAccepted, map[string]interface{}{"session_id": sid})
	}
}

func (c *Controller) postLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reqBody Edge
		if err := httputil.ReadJSON(r, &reqBody); err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := c.AddLink(reqBody.A, reqBody.B); err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, NewEdge(reqBody.A, reqBody.B))
	}
}

func (c *Controller) deleteLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := idFromParam(r, "a")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		b, err := idFromParam(r, "b")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := c.RemoveLink(a, b); err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, true)
	}
}

func (c *Controller) postCrash() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := c.Crash(id); err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, true)
	}
}

func (c *Controller) postPDR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		var reqBody struct {
			PDR float64 `json:"pdr"`
		}
		if err := httputil.ReadJSON(r, &reqBody); err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := c.SetPacketDropRate(id, reqBody.PDR); err != nil {
			httputil.WriteJSON(w, r, statusOf(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, true)
	}
}

func (c *Controller) getEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, err := httputil.TimeFromQuery(r, "since", time.Time{})
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		entries, err := c.Events(since)
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, entries)
	}
}

// streamEvents pushes every live event to a websocket until either side
// goes away.
func (c *Controller) streamEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.Logger.WithError(err).Warn("Failed to upgrade events stream")
			return
		}
		defer func() {
			if err := conn.Close(); err != nil {
				c.Logger.WithError(err).Debug("Failed to close events stream")
			}
		}()

		events, unsubscribe := c.Subscribe()
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case env, ok := <-events:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(env); err != nil {
					c.Logger.WithError(err).Debug("Events stream closed")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func idFromParam(r *http.Request, key string) (routing.NodeID, error) {
	return routing.ParseNodeID(chi.URLParam(r, key))
}

func statusOf(err error) int {
	switch errors.Cause(err) {
	case ErrUnknownNode:
		return http.StatusNotFound
	case ErrNotDrone, ErrNotEndpoint, ErrInvalidLink, ErrWouldIsolate, drone.ErrInvalidPDR,
		router.ErrInvalidDestination, router.ErrDestinationIsRelay:
		return http.StatusBadRequest
	case ErrNodeStopped, ErrClosed:
		return http.StatusConflict
	case router.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCommandTimeout, netutil.ErrThresholdReached, router.ErrPathNotFound,
		router.ErrNoNeighbors, context.DeadlineExceeded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
