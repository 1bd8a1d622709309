package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"itemward.dev/internal/ban/engine"
	"itemward.dev/internal/ban/sidefx"
	"itemward.dev/internal/ban/table"
	"itemward.dev/internal/config"
	"itemward.dev/internal/persistence/banlog"
	"itemward.dev/internal/persistence/indexdb"
	"itemward.dev/internal/transport/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8085", "admin http listen address")
		rulesPath = flag.String("rules", "./configs/rules.yml", "rules config path")
		worlds    = flag.String("worlds", "", "comma-separated world catalog (enables world wildcards)")
		materials = flag.String("materials", "", "path to material catalog, one name per line (enables item wildcards)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		disableDB = flag.Bool("disable_db", false, "disable the sqlite decision index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[itemward] ", log.LstdFlags|log.Lmicroseconds)

	cat := config.Catalog{}
	if w := strings.TrimSpace(*worlds); w != "" {
		for _, t := range strings.Split(w, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cat.Worlds = append(cat.Worlds, t)
			}
		}
	}
	if *materials != "" {
		mats, err := readLines(*materials)
		if err != nil {
			logger.Fatalf("read materials: %v", err)
		}
		cat.Materials = mats
	}

	holder := table.NewHolder()
	if err := loadRules(holder, *rulesPath, cat, logger); err != nil {
		logger.Fatalf("load rules: %v", err)
	}

	blog := banlog.NewWriter(filepath.Join(*dataDir, "bans"))
	defer blog.Close()

	var idx *indexdb.Index
	if !*disableDB {
		var err error
		idx, err = indexdb.Open(filepath.Join(*dataDir, "index", "decisions.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	admin := ws.NewServer(holder, logger)

	fx := sidefx.New()
	fx.Message = func(playerID, text string) { logger.Printf("msg %s: %s", playerID, text) }
	fx.Command = func(cmd string) { logger.Printf("run: %s", cmd) }
	fx.Staff = func(text string) { logger.Printf("staff: %s", text) }

	eng := engine.New(engine.Config{
		Tables:  holder,
		Effects: fx,
		OnDecision: func(rec engine.Record) {
			if err := blog.Write(rec); err != nil {
				logger.Printf("banlog write: %v", err)
			}
			idx.Record(rec)
			admin.Broadcast(rec)
		},
	})
	// SIGHUP rebuilds the tables off the hot path and swaps them in.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := loadRules(holder, *rulesPath, cat, logger); err != nil {
				logger.Printf("reload failed, keeping current tables: %v", err)
			} else {
				logger.Printf("rules reloaded")
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/admin/ws", admin.Handler())
	mux.HandleFunc("/v1/eval", evalHandler(eng))
	mux.HandleFunc("/v1/disconnect", disconnectHandler(holder))

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("admin listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Printf("shutting down")
	_ = srv.Close()
	if idx != nil {
		idx.Flush()
	}
}

func loadRules(holder *table.Holder, path string, cat config.Catalog, logger *log.Logger) error {
	res, err := config.Load(path, cat)
	if err != nil {
		return err
	}
	for _, d := range res.Diagnostics {
		logger.Printf("config: %s", d)
	}
	holder.Replace(res.Snapshot)
	return nil
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, nil
}
