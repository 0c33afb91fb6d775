package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/api"
	"github.com/marginalia-app/marginalia/internal/store"
	"github.com/marginalia-app/marginalia/internal/svcctx"
)

// OKResponse acknowledges a state change.
type OKResponse struct {
	OK bool `json:"ok"`
}

// MarkSeenEndpoint handles POST /api/annotations/{id}/seen.
type MarkSeenEndpoint struct{}

func (e *MarkSeenEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/annotations/{id}/seen", e.handler
}

func (e *MarkSeenEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	err := st.MarkAnnotationSeen(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "annotation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (e *MarkSeenEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "seen <annotation-id>",
		Short: "Mark an annotation as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp OKResponse
			return client.Post(cmd.Context(), "/api/annotations/"+args[0]+"/seen", nil, &resp)
		},
	}
}

// QuizAnswerRequest records the user's answer to a quiz question.
type QuizAnswerRequest struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback,omitempty"`
}

// QuizAnswerEndpoint handles POST /api/quiz/{id}/answer.
type QuizAnswerEndpoint struct{}

func (e *QuizAnswerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/quiz/{id}/answer", e.handler
}

func (e *QuizAnswerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	var req QuizAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := st.RecordQuizAnswer(r.Context(), r.PathValue("id"), req.Correct, req.Feedback)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "quiz question not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (e *QuizAnswerEndpoint) Command(getServerURL func() string) *cobra.Command {
	var correct bool
	var feedback string
	cmd := &cobra.Command{
		Use:   "answer <question-id>",
		Short: "Record an answer to a quiz question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp OKResponse
			req := QuizAnswerRequest{Correct: correct, Feedback: feedback}
			if err := client.Post(cmd.Context(), "/api/quiz/"+args[0]+"/answer", req, &resp); err != nil {
				return err
			}
			fmt.Println("recorded")
			return nil
		},
	}
	cmd.Flags().BoolVar(&correct, "correct", false, "whether the answer was correct")
	cmd.Flags().StringVar(&feedback, "feedback", "", "quality feedback on the question")
	return cmd
}
