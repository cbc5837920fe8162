// Command neuroflow is a terminal shell around the client engine: check in,
// manage tasks and watch them sync. It stands in for the mobile UI during
// development.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"neuroflow/pkg/ai"
	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/cache"
	"neuroflow/pkg/engine"
	"neuroflow/pkg/quota"
	"neuroflow/pkg/reconcile"
	"neuroflow/pkg/remote"
	"neuroflow/pkg/task"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	account := os.Getenv("NEUROFLOW_ACCOUNT")
	if account == "" {
		account = "dev"
	}
	apiURL := os.Getenv("NEUROFLOW_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	dataDir := os.Getenv("NEUROFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir = filepathJoinHome(".neuroflow")
	}

	logger := logrus.New()
	if os.Getenv("NEUROFLOW_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	logEntry := logrus.NewEntry(logger)

	durable, err := cache.OpenSQLite(dataDir)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	store := cache.NewFallback(durable, logEntry)
	defer store.Close()

	rec, err := reconcile.New(ctx, reconcile.Config{
		AccountID: account,
		Store:     store,
		Client:    remote.NewHTTPClient(apiURL),
		Log:       logEntry,
	})
	if err != nil {
		log.Fatalf("start reconciler: %v", err)
	}
	defer rec.Close()

	e := engine.New(engine.Config{
		AccountID:  account,
		Reconciler: rec,
		Quota:      quota.New(store, quota.DefaultMonthlyLimit, logEntry),
		Generator:  ai.NewHTTPGenerator(apiURL + "/api/generate"),
		Log:        logEntry,
	})

	// App start behaves like a foreground transition.
	e.OnForeground(ctx)

	fmt.Printf("neuroflow shell (account %s, api %s)\n", account, apiURL)
	fmt.Println("commands: checkin E F M | add TITLE/COMPLEXITY | list | all | done ID | rm ID | breakdown ID | quota | refresh | offline | online | quit")

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		if cmd == "quit" || cmd == "exit" {
			return
		}
		run(ctx, e, cmd, strings.TrimSpace(rest))
	}
}

func run(ctx context.Context, e *engine.Engine, cmd, arg string) {
	switch cmd {
	case "checkin":
		doCheckin(ctx, e, arg)
	case "add":
		doAdd(ctx, e, arg)
	case "list":
		d := e.Adaptation(ctx)
		fmt.Printf("adaptation: complexity<=%d spacing=%s touch=%dpx tone=%s\n",
			d.MaxTaskComplexity, d.SpacingTier, d.TouchTargetPx, d.Tone)
		printTasks(e.FilteredTasks(ctx))
	case "all":
		printTasks(e.Tasks())
	case "done":
		if _, err := e.CompleteTask(ctx, arg); err != nil {
			fmt.Println("error:", err)
		}
	case "rm":
		if err := e.DeleteTask(ctx, arg); err != nil {
			fmt.Println("error:", err)
		}
	case "breakdown":
		doBreakdown(ctx, e, arg)
	case "quota":
		q := e.Quota(ctx)
		fmt.Printf("ai quota: %d/%d used, resets %s\n", q.Used, q.Limit, q.ResetAt.Format("2006-01-02"))
	case "refresh":
		if err := e.Refresh(ctx); err != nil {
			fmt.Println("refresh failed:", err)
		}
	case "offline":
		e.OnConnectivityChange(ctx, false)
		fmt.Println("network off: changes are saved locally")
	case "online":
		e.OnConnectivityChange(ctx, true)
		fmt.Println("network on: syncing")
	default:
		fmt.Println("unknown command:", cmd)
	}
}

func doCheckin(ctx context.Context, e *engine.Engine, arg string) {
	parts := strings.Fields(arg)
	if len(parts) != 3 {
		fmt.Println("usage: checkin ENERGY FOCUS MOOD (each 1-10)")
		return
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			fmt.Println("not a number:", p)
			return
		}
		vals[i] = n
	}
	_, err := e.SubmitBrainState(ctx, brainInput(vals[0], vals[1], vals[2]))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d := e.Adaptation(ctx)
	fmt.Printf("checked in: complexity ceiling %d, tone %s\n", d.MaxTaskComplexity, d.Tone)
}

func doAdd(ctx context.Context, e *engine.Engine, arg string) {
	title, level, ok := strings.Cut(arg, "/")
	complexity := 3
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(level))
		if err != nil {
			fmt.Println("complexity must be a number 1-5")
			return
		}
		complexity = n
	}
	t, err := e.CreateTask(ctx, taskInput(strings.TrimSpace(title), complexity))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("added %s (%s)\n", t.ID, t.SyncState)
}

func printTasks(ts []task.Task) {
	if len(ts) == 0 {
		fmt.Println("no tasks")
		return
	}
	for _, t := range ts {
		marker := " "
		if t.IsCompleted {
			marker = "x"
		}
		note := ""
		switch {
		case t.SyncState == task.StateConflict:
			note = " [conflict: " + t.ConflictReason + "]"
		case t.Pending():
			note = " [saved offline]"
		}
		fmt.Printf("[%s] %s  c%d  %s%s\n", marker, t.ID, t.ComplexityLevel, t.Title, note)
	}
}

func brainInput(energy, focus, mood int) brainstate.Input {
	return brainstate.Input{Energy: energy, Focus: focus, Mood: mood}
}

func taskInput(title string, complexity int) task.Input {
	return task.Input{Title: title, ComplexityLevel: complexity}
}

func filepathJoinHome(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, dir)
}

func doBreakdown(ctx context.Context, e *engine.Engine, arg string) {
	d, err := e.RequestBreakdown(ctx, arg)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !d.Allowed {
		fmt.Printf("not available: %s (%d/%d used, resets %s)\n",
			d.Reason, d.Used, d.Limit, d.ResetAt.Format("2006-01-02"))
		return
	}
	fmt.Printf("breakdown attached (%d/%d used this month)\n", d.Used, d.Limit)
}
