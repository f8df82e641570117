package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/nearwire/client"
	"github.com/luma/nearwire/internal/env"
	"github.com/luma/nearwire/internal/meta"
	"github.com/luma/nearwire/internal/telemetry"
	"github.com/luma/nearwire/storage"
	"github.com/luma/nearwire/version"
)

type admin struct {
	conf    *env.Config
	store   *storage.InmemoryStore[string, []byte]
	pending *client.Pending[string, []byte]

	// versions stamps futures registered without an order.
	versions *version.Generator

	started time.Time
	timeout time.Duration
	log     *zap.Logger
}

func registerRoutes(ctx context.Context, r *gin.Engine, a *admin) {
	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/info", a.info)
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	r.GET("/near", a.near)
	r.POST("/futures", func(c *gin.Context) {
		a.registerFuture(ctx, c)
	})
}

func (a *admin) info(c *gin.Context) {
	info := meta.GetInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":    info.Version,
		"build":      info.Build,
		"platform":   info.Platform,
		"goVersion":  info.GoVersion,
		"region":     a.conf.Region,
		"marshaller": a.conf.Marshaller,
		"bufferSize": humanize.IBytes(uint64(a.conf.BufferSize)),
		"started":    humanize.Time(a.started),
		"nearCache":  a.store.Len(),
		"pending":    a.pending.Len(),
	})
}

func (a *admin) near(c *gin.Context) {
	data, err := a.store.Backup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// registerFuture starts waiting for the response to an update issued
// elsewhere on this node. The body names the future version and the keys in
// request order:
//
//	{"topology": 3, "nodeOrder": 1, "order": 42, "keys": ["a", "b"]}
//
// Without an order a fresh future version is issued and returned.
func (a *admin) registerFuture(ctx context.Context, c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
		return
	}

	parsed := gjson.ParseBytes(body)
	keysResult := parsed.Get("keys")
	if !keysResult.IsArray() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keys are required"})
		return
	}

	futVer := a.versions.Next()
	if parsed.Get("order").Exists() {
		futVer = version.Version{
			Topology:   uint32(parsed.Get("topology").Uint()),
			NodeOrder:  uint32(parsed.Get("nodeOrder").Uint()),
			GlobalTime: parsed.Get("globalTime").Int(),
			Order:      parsed.Get("order").Uint(),
		}
	}

	var keys []string
	for _, k := range keysResult.Array() {
		keys = append(keys, k.String())
	}

	done, err := a.pending.Register(futVer, keys)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	go a.await(ctx, futVer, done)

	c.JSON(http.StatusAccepted, gin.H{
		"future": gin.H{
			"topology":   futVer.Topology,
			"nodeOrder":  futVer.NodeOrder,
			"globalTime": futVer.GlobalTime,
			"order":      futVer.Order,
		},
		"keys": len(keys),
	})
}

func (a *admin) await(ctx context.Context, futVer version.Version, done <-chan client.Result[string, []byte]) {
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case res, ok := <-done:
		if !ok {
			return
		}

		if nearVer := res.Response.NearVersion(); nearVer != nil {
			a.versions.Observe(*nearVer)
		}

		log := a.log.With(zap.Stringer("future", futVer), zap.Int("applied", res.Applied))
		if err := res.Response.Error(); err != nil {
			log.Warn("Update failed on primary",
				zap.Strings("failedKeys", res.Response.FailedKeys()),
				zap.Error(err))
			return
		}

		if res.Err != nil {
			log.Warn("Failed to apply near values", zap.Error(res.Err))
			return
		}

		log.Info("Update completed")

	case <-timer.C:
		a.log.Warn("Timed out waiting for response", zap.Stringer("future", futVer))
		a.pending.Forget(futVer)

	case <-ctx.Done():
		a.pending.Forget(futVer)
	}
}
