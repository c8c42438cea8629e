// Package api serves the GPT apps over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/config"
	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/quiz"
	"github.com/fabfab/fullstack-gpt/retrieval"
	"github.com/fabfab/fullstack-gpt/session"
)

const maxUploadBytes = 32 << 20

// Server exposes HTTP handlers for ChefGPT, DocumentGPT and QuizGPT.
type Server struct {
	cfg      config.Config
	logger   *log.Logger
	sessions *session.Manager
	chat     *chat.Service
	quiz     *quiz.Service
	recipes  retrieval.VectorStore
	handler  http.Handler
}

// Deps are the services the handlers call. Recipes may be nil when no vector
// database is reachable; /recipes then answers 503.
type Deps struct {
	Sessions *session.Manager
	Chat     *chat.Service
	Quiz     *quiz.Service
	Recipes  retrieval.VectorStore
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type recipeDocument struct {
	PageContent string `json:"page_content"`
}

type sessionResponse struct {
	ID             string `json:"id"`
	HasSavedMemory bool   `json:"has_saved_memory"`
}

type messagesResponse struct {
	Messages []chat.DisplayMessage `json:"messages"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type doneEvent struct {
	Answer  string        `json:"answer"`
	Sources []chat.Source `json:"sources"`
}

type restoreResponse struct {
	Restored int `json:"restored"`
}

type quizRequest struct {
	Topic string `json:"topic"`
}

type quizResponse struct {
	Topic string    `json:"topic"`
	Quiz  quiz.Quiz `json:"quiz"`
}

type gradeRequest struct {
	Selections []*string `json:"selections"`
}

// New constructs a Server that serves the HTTP API using the provided configuration.
func New(cfg config.Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: deps.Sessions,
		chat:     deps.Chat,
		quiz:     deps.Quiz,
		recipes:  deps.Recipes,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/recipes", s.handleRecipes)
	mux.HandleFunc("/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("/v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("/v1/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("/v1/sessions/{id}/files", s.handleUpload)
	mux.HandleFunc("/v1/sessions/{id}/chat", s.handleChat)
	mux.HandleFunc("/v1/sessions/{id}/memory/restore", s.handleRestoreMemory)
	mux.HandleFunc("/v1/sessions/{id}/quiz", s.handleQuiz)
	mux.HandleFunc("/v1/sessions/{id}/quiz/grade", s.handleGrade)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	ingredient := strings.TrimSpace(r.URL.Query().Get("ingredient"))
	if ingredient == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("ingredient is required"))
		return
	}
	if s.recipes == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("recipe index is not configured"))
		return
	}

	docs, err := s.recipes.SimilaritySearch(r.Context(), ingredient, retrieval.DefaultK)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("recipe search failed: %w", err))
		return
	}

	out := make([]recipeDocument, len(docs))
	for i, d := range docs {
		out[i] = recipeDocument{PageContent: d.PageContent}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess := s.sessions.Create()
	s.writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, HasSavedMemory: s.chat.HasSavedMemory()})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}

	if err := s.sessions.End(r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "session ended"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{Messages: sess.Chat.Messages()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	name, data, err := readUpload(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.chat.Embed(r.Context(), sess.Chat, name, data)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("embed file: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	stream, err := s.chat.Ask(r.Context(), sess.Chat, req.Question)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("chat failed: %w", err))
		return
	}
	defer stream.Close()

	s.streamAnswer(w, stream)
}

func (s *Server) handleRestoreMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	n, err := s.chat.RestoreMemory(sess.Chat)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("restore memory: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, restoreResponse{Restored: n})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		name, data, readErr := readUpload(w, r)
		if readErr != nil {
			s.writeError(w, http.StatusBadRequest, readErr)
			return
		}
		_, err = s.quiz.FromFile(ctx, sess.Quiz, name, data)
	} else {
		var req quizRequest
		if decodeErr := decodeJSON(r, &req); decodeErr != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", decodeErr))
			return
		}
		if strings.TrimSpace(req.Topic) == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("file or topic is required"))
			return
		}
		_, err = s.quiz.FromTopic(ctx, sess.Quiz, req.Topic)
	}
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("load quiz source: %w", err))
		return
	}

	docs, topic := sess.Quiz.Source()
	q, err := s.quiz.Run(ctx, sess.Quiz, docs, topic)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("make quiz: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, quizResponse{Topic: topic, Quiz: q})
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req gradeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	current, ok := sess.Quiz.Current()
	if !ok {
		s.writeError(w, http.StatusConflict, fmt.Errorf("no quiz has been generated"))
		return
	}
	s.writeJSON(w, http.StatusOK, quiz.GradeAll(current, req.Selections))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return nil, false
	}
	return sess, true
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNoDocument), errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, quiz.ErrSchemaMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
