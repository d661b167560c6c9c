package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/equiclimate/enrich-cli/internal/enrich"
	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/observability"
	"github.com/equiclimate/enrich-cli/internal/score"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment HTTP server",
	Long: `Exposes the batch scheduler, single-region enrichment, and scoring as
HTTP endpoints, plus /health and Prometheus /metrics. Batch requests run
synchronously and return the batch result; the caller owns re-invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnrich(ctx, observability.NewMetrics())
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newServeMux(env *appEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /enrich/batch", func(w http.ResponseWriter, r *http.Request) {
		var req enrich.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Year == 0 {
			http.Error(w, `{"error":"year is required"}`, http.StatusBadRequest)
			return
		}
		if _, err := parseRegionType(string(req.RegionType)); err != nil {
			http.Error(w, `{"error":"region_type must be country or subdivision"}`, http.StatusBadRequest)
			return
		}

		result, err := env.Scheduler.RunBatch(r.Context(), req)
		if err != nil {
			zap.L().Error("serve: batch failed", zap.Error(err))
			http.Error(w, `{"error":"batch failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /enrich/region", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RegionCode string `json:"region_code"`
			Year       int    `json:"year"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.RegionCode == "" || req.Year == 0 {
			http.Error(w, `{"error":"region_code and year are required"}`, http.StatusBadRequest)
			return
		}

		result, err := env.Worker.EnrichOne(r.Context(), req.RegionCode, req.Year)
		if err != nil {
			zap.L().Error("serve: region enrichment failed",
				zap.String("region", req.RegionCode),
				zap.Error(err),
			)
			http.Error(w, `{"error":"enrichment failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /score", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Year       int    `json:"year"`
			RegionType string `json:"region_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		rt, err := parseRegionType(req.RegionType)
		if err != nil || req.Year == 0 {
			http.Error(w, `{"error":"year and region_type are required"}`, http.StatusBadRequest)
			return
		}

		summary, err := env.Scorer.ScorePartition(r.Context(), model.Partition{
			RegionType: rt,
			DataYear:   req.Year,
		})
		if err != nil {
			zap.L().Error("serve: scoring failed", zap.Error(err))
			http.Error(w, `{"error":"scoring failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("GET /score/aggregate", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		country := q.Get("country")
		year := 0
		fmt.Sscanf(q.Get("year"), "%d", &year)
		if country == "" || year == 0 {
			http.Error(w, `{"error":"country and year are required"}`, http.StatusBadRequest)
			return
		}
		method := score.AggPopulationWeighted
		if q.Get("method") == "simple" {
			method = score.AggSimpleMean
		}

		cii, err := env.Scorer.CountryAggregate(r.Context(), country, year, method)
		if err != nil {
			zap.L().Error("serve: aggregate failed", zap.Error(err))
			http.Error(w, `{"error":"aggregate failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"country":   country,
			"year":      year,
			"method":    string(method),
			"cii_score": cii,
		})
	})

	return mux
}
