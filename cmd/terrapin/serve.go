package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrapinhq/terrapin/engine"
	"github.com/terrapinhq/terrapin/engine/worker"
	"github.com/terrapinhq/terrapin/interp"
	"github.com/terrapinhq/terrapin/lesson"
	"github.com/terrapinhq/terrapin/progress"
	"github.com/terrapinhq/terrapin/turtle"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playground HTTP server",
	Long: `Start an HTTP server backing the playground UI.

Endpoints:
  POST /api/execute     Execute code, returns the full result
  POST /api/stop        Cancel the in-flight execution
  GET  /api/metrics     Execution metrics
  GET  /api/canvas      Current turtle canvas as PNG
  GET  /api/lessons     Lesson listing
  GET  /api/lessons/{id}
  POST /api/lessons/{id}/exercises/{exerciseID}/validate
  GET  /api/progress/lessons
  PUT  /api/progress/lessons/{id}
  GET  /api/progress/state
  PUT  /api/progress/state
  GET  /health`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("lessons", "lessons", "Lesson content directory")
	serveCmd.Flags().String("db", "terrapin.db", "Progress database path")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Default execution timeout")
	serveCmd.Flags().String("canvas", "800x600", "Canvas size as WIDTHxHEIGHT")
	rootCmd.AddCommand(serveCmd)
}

// executor is the slice of the engine the handlers need; tests swap in
// a stub.
type executor interface {
	Execute(ctx context.Context, req engine.Request) interp.Result
	Stop()
	Metrics() engine.Snapshot
}

type server struct {
	eng            executor
	canvas         *turtle.Turtle
	lessons        *lesson.Loader
	store          *progress.Store
	defaultTimeout time.Duration
	log            *zap.Logger
}

func runServe(cmd *cobra.Command, args []string) {
	path, err := interpreterPath(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	port, _ := cmd.Flags().GetInt("port")
	lessonsDir, _ := cmd.Flags().GetString("lessons")
	dbPath, _ := cmd.Flags().GetString("db")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	canvasSize, _ := cmd.Flags().GetString("canvas")

	width, height, err := parseCanvas(canvasSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	t := turtle.NewWithSurface(width, height)
	bind := turtle.Bind(t)

	profile := interp.DefaultProfile(path)

	client := interp.NewClient(profile, clientOptions(cmd, bind.Call)...)
	factory := func(ctx context.Context, h interp.Handlers, call interp.CallHandler) (worker.Session, error) {
		c := interp.NewClient(profile, clientOptions(cmd, call)...)
		if err := c.Initialize(ctx, h); err != nil {
			return nil, err
		}
		return c, nil
	}
	eng := engine.New(client,
		engine.WithWorkerFactory(factory),
		engine.WithCallHandler(bind.Call),
		engine.WithLogger(log.Named("engine")))
	defer eng.Close()

	if err := client.Initialize(cmd.Context(), eng.Handlers()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Dispose()

	store, err := progress.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	s := &server{
		eng:            eng,
		canvas:         t,
		lessons:        lesson.NewLoader(lessonsDir, lesson.WithLoaderLogger(log.Named("lessons"))),
		store:          store,
		defaultTimeout: timeout,
		log:            log.Named("http"),
	}

	addr := fmt.Sprintf(":%d", port)
	log.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/stop", s.handleStop)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/canvas", s.handleCanvas)

		r.Get("/lessons", s.handleListLessons)
		r.Get("/lessons/{id}", s.handleGetLesson)
		r.Post("/lessons/{id}/exercises/{exerciseID}/validate", s.handleValidate)

		r.Get("/progress/lessons", s.handleGetLessonProgress)
		r.Put("/progress/lessons/{id}", s.handlePutLessonProgress)
		r.Get("/progress/state", s.handleGetAppState)
		r.Put("/progress/state", s.handlePutAppState)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executeRequest struct {
	Code      string `json:"code"`
	TimeoutMs int64  `json:"timeoutMs"`
	Worker    bool   `json:"worker"`
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Code == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", "code is required")
		return
	}

	timeout := s.defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	res := s.eng.Execute(r.Context(), engine.Request{
		SourceText: req.Code,
		Timeout:    timeout,
		UseWorker:  req.Worker,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.eng.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Metrics())
}

func (s *server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, s.canvas.Snapshot()); err != nil {
		s.log.Warn("canvas encode failed", zap.Error(err))
	}
}

func (s *server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	list, err := s.lessons.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	ls, err := s.lessons.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

type validateRequest struct {
	Output string `json:"output"`
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ls, err := s.lessons.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	exerciseID := chi.URLParam(r, "exerciseID")
	var ex *lesson.Exercise
	for i := range ls.Content.Exercises {
		if ls.Content.Exercises[i].ID == exerciseID {
			ex = &ls.Content.Exercises[i]
			break
		}
	}
	if ex == nil {
		writeErrorResponse(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("exercise %q not found in lesson %q", exerciseID, ls.ID))
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, ex.CheckOutput(req.Output))
}

func (s *server) handleGetLessonProgress(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Lessons()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handlePutLessonProgress(w http.ResponseWriter, r *http.Request) {
	var rec progress.LessonRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := s.store.RecordLesson(chi.URLParam(r, "id"), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *server) handleGetAppState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.LoadAppState())
}

func (s *server) handlePutAppState(w http.ResponseWriter, r *http.Request) {
	var st progress.AppState
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := s.store.SaveAppState(st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// errorResponse is the error shape every endpoint returns.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, lesson.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}
