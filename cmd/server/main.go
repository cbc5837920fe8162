package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"neuroflow/internal/api"
	"neuroflow/internal/db"
	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	tasks := task.NewPgStore(pool)
	states := brainstate.NewPgStore(pool)

	if err := tasks.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure tasks table: %v", err)
	}
	if err := states.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure brain_states table: %v", err)
	}

	server := api.New(tasks, states)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("neuroflow api listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
