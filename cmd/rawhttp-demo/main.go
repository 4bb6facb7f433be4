package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/okapilabs/wirekit/internal/obs"
	"github.com/okapilabs/wirekit/rawhttp"
	"github.com/okapilabs/wirekit/rawhttp/extract"
	"github.com/okapilabs/wirekit/rawhttp/ws"
)

// closeFrame is a bare WebSocket close frame, code 1000.
var closeFrame = []byte{0x88, 0x02, 0x03, 0xe8}

type appState struct {
	Greeting string
}

func main() {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger := obs.ZerologLogger{L: zl}

	addr := os.Getenv("RAWHTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	r := rawhttp.NewRouter()
	r.GET("/healthz", func(w rawhttp.ResponseWriter, _ *rawhttp.Request) {
		_ = rawhttp.Text(w, 200, "ok")
	})
	r.GET("/users/:id", func(w rawhttp.ResponseWriter, req *rawhttp.Request) {
		_ = rawhttp.JSON(w, 200, map[string]string{"id": req.PathValue("id")})
	})
	r.POST("/echo", extract.Handle1[extract.Bytes](echo))
	r.GET("/greet/:name", extract.Handle2[extract.State[appState], extract.Path[string]](greet))
	r.GET("/ws", func(w rawhttp.ResponseWriter, req *rawhttp.Request) {
		conn, _, err := ws.Upgrade(w, req)
		if err != nil {
			zl.Warn().Err(err).Msg("websocket handshake rejected")
			return
		}
		// Handshake demo only; close politely right away.
		_, _ = conn.Write(closeFrame)
		_ = conn.Close()
	})

	srv := &rawhttp.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		Logger:            logger,
		BaseContext: func(net.Listener) context.Context {
			return rawhttp.WithState(context.Background(), appState{Greeting: "hello"})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			zl.Error().Err(err).Msg("shutdown")
		}
	}()

	zl.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, rawhttp.ErrServerClosed) {
		zl.Fatal().Err(err).Msg("server failed")
	}
	zl.Info().Msg("bye")
}

func echo(w rawhttp.ResponseWriter, req *rawhttp.Request, b extract.Bytes) {
	ct := req.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.WriteHeader(200)
	_, _ = w.Write(b.Data)
}

func greet(w rawhttp.ResponseWriter, _ *rawhttp.Request, st extract.State[appState], name extract.Path[string]) {
	_ = rawhttp.JSON(w, 200, map[string]string{"message": st.Value.Greeting + ", " + name.Value})
}
