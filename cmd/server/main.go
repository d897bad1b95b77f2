package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"parlance/internal/cid"
	"parlance/internal/config"
	"parlance/internal/otelutil"
	"parlance/internal/permissions"
	"parlance/internal/server"
	"parlance/pkg/protocol"
	"parlance/pkg/transport"
)

// cidMiddleware ensures every request context carries a correlation id,
// either the caller's or a freshly minted one, and echoes it back.
func cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cid.HeaderName)
		if id == "" {
			id = cid.New()
		}
		c.Request = c.Request.WithContext(cid.WithCID(c.Request.Context(), id))
		c.Header(cid.HeaderName, id)
		c.Next()
	}
}

func handleWebSocket(log *zap.Logger, srv *server.Server, cfg *config.Settings) gin.HandlerFunc {
	tracer := otel.Tracer("parlance/server")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ws.accept")
		span.SetAttributes(attribute.String(cid.AttributeName, cid.FromContext(ctx)))
		defer span.End()

		ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := transport.NewConn(context.Background(), ws, c.ClientIP(), transport.Config{
			WriteTimeout: cfg.Transport.WriteTimeout,
		}, log)
		conn.SetHandler(func(ctx context.Context, env protocol.Envelope, audio []byte) {
			srv.HandleMessage(ctx, conn, env, audio)
		})
		conn.SetCloseHandler(func(err error) {
			srv.HandleDisconnect(conn.ID())
		})
		srv.Attach(conn)
		conn.Run()

		log.Info("connection accepted",
			zap.String("conn_id", conn.ID().String()),
			zap.String("remote", conn.RemoteAddr()))
		<-conn.Done()
	}
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := otelutil.Init(); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	defer otelutil.Flush()

	cfg, err := config.Load(log, os.Getenv("PARLANCE_CONFIG"))
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	perms := permissions.NewMemoryProvider(permissions.DefaultGuestPermissions()...)
	srv := server.New(log, cfg, perms)

	r := gin.New()
	r.Use(gin.Recovery(), cidMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "parlance"})
	})
	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, srv.GetStats())
	})
	r.GET("/api/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": srv.Users().JoinedUsers()})
	})
	r.GET("/api/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": srv.Channels().List()})
	})
	r.GET("/api/sources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sources": srv.Sources().List()})
	})
	r.GET("/ws", handleWebSocket(log, srv, cfg))

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		srv.Shutdown(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("forced shutdown", zap.Error(err))
		}
	}()

	log.Info("starting parlance server", zap.String("addr", cfg.Server.Address))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server exited", zap.Error(err))
	}
}
