// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/ladderup/match-service/internal/auth"
	"github.com/ladderup/match-service/internal/catalog"
	"github.com/ladderup/match-service/internal/grading"
	"github.com/ladderup/match-service/internal/handlers"
	"github.com/ladderup/match-service/internal/matchmaking"
	"github.com/ladderup/match-service/internal/middleware"
	"github.com/ladderup/match-service/internal/room"
	"github.com/ladderup/match-service/internal/store"
	"github.com/ladderup/match-service/internal/stt"
)

func main() {
	if priv, pub := os.Getenv("AUTH_PRIVATE_KEY_FILE"), os.Getenv("AUTH_PUBLIC_KEY_FILE"); priv != "" && pub != "" {
		if err := auth.InitFromPath(priv, pub); err != nil {
			log.Fatalf("failed to load session keys: %v", err)
		}
	} else {
		auth.Init()
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect()
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	questions, err := catalog.ConnectPostgres(ctx, logger)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer questions.Close()

	registry := room.NewRegistry(logger)
	rooms := room.NewService(st, questions, registry, logger)
	if raw := os.Getenv("MATCH_DURATION"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Fatalf("invalid MATCH_DURATION %q: want seconds", raw)
		}
		rooms.MatchDuration = time.Duration(secs) * time.Second
	}

	grader := grading.NewHTTPGrader(logger)
	transcriber := stt.NewHTTPTranscriber(logger)
	pipeline := stt.NewPipeline(rooms, registry, transcriber, grader, logger)
	rooms.OnMatchEnd = pipeline.FinalizeAndGrade

	queue := matchmaking.NewQueue(st, rooms, logger)
	go queue.Run(ctx, matchmaking.DefaultPollInterval)
	go rooms.RunSweeper(ctx, 5*time.Minute)

	srv := handlers.NewServer(auth.JWTSessions{}, rooms, queue, pipeline, logger)

	mux := http.NewServeMux()

	// match endpoints
	mux.Handle("/match/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.MatchDispatchHandler(),
	)))

	// room websocket
	mux.Handle("/room/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.RoomWSHandler(),
	)))

	// matchmaking websocket
	mux.Handle("/matchmaking/join", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.JoinQueueWSHandler(),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
