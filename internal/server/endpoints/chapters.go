package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/analysis"
	"github.com/marginalia-app/marginalia/internal/api"
	"github.com/marginalia-app/marginalia/internal/store"
	"github.com/marginalia-app/marginalia/internal/svcctx"
)

// AnalysisEvent is the NDJSON wire form of one analysis event.
type AnalysisEvent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Total  int              `json:"total,omitempty"`
	Usage  *analysis.Usage  `json:"usage,omitempty"`
	Result *analysis.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// encodeEvent converts an analysis event to its wire form.
func encodeEvent(ev analysis.Event) AnalysisEvent {
	switch e := ev.(type) {
	case analysis.ThinkingEvent:
		return AnalysisEvent{Type: "thinking", Text: e.Text}
	case analysis.InsightFoundEvent:
		return AnalysisEvent{Type: "insight_found", Total: e.Total}
	case analysis.QuizQuestionFoundEvent:
		return AnalysisEvent{Type: "quiz_question_found", Total: e.Total}
	case analysis.UsageEvent:
		u := e.Usage
		return AnalysisEvent{Type: "usage", Usage: &u}
	case analysis.CompletedEvent:
		return AnalysisEvent{Type: "completed", Result: e.Result}
	case analysis.FailedEvent:
		return AnalysisEvent{Type: "failed", Error: e.Err.Error()}
	default:
		return AnalysisEvent{Type: "unknown"}
	}
}

// AnalyzeChapterEndpoint handles POST /api/chapters/{id}/analyze. The
// response is an NDJSON stream of analysis events; joining an in-flight
// run streams its remaining events.
type AnalyzeChapterEndpoint struct{}

func (e *AnalyzeChapterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/chapters/{id}/analyze", e.handler
}

func (e *AnalyzeChapterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	coord := svcctx.CoordinatorFrom(r.Context())
	if st == nil || coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	chapter, err := st.GetChapter(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chapter not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	book, err := st.GetBook(r.Context(), chapter.BookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run, err := coord.Analyze(r.Context(), book, chapter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range run.Events {
		if err := enc.Encode(encodeEvent(ev)); err != nil {
			// Client went away; the run keeps going in the background.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (e *AnalyzeChapterEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <chapter-id>",
		Short: "Analyze a chapter, streaming progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/chapters/" + args[0] + "/analyze"
			return client.PostStream(cmd.Context(), path, nil, func(line []byte) error {
				var ev AnalysisEvent
				if err := json.Unmarshal(line, &ev); err != nil {
					return fmt.Errorf("bad event: %w", err)
				}
				switch ev.Type {
				case "thinking":
					fmt.Print(ev.Text)
				case "insight_found":
					fmt.Printf("\ninsight found (%d)\n", ev.Total)
				case "quiz_question_found":
					fmt.Printf("\nquiz question found (%d)\n", ev.Total)
				case "usage":
					fmt.Printf("\ntokens: in=%d reasoning=%d out=%d\n",
						ev.Usage.InputTokens, ev.Usage.ReasoningTokens, ev.Usage.OutputTokens)
				case "completed":
					fmt.Printf("\ncompleted: %d annotations, %d quiz questions\n",
						len(ev.Result.Annotations), len(ev.Result.QuizQuestions))
					fmt.Printf("summary: %s\n", ev.Result.Summary)
				case "failed":
					return fmt.Errorf("analysis failed: %s", ev.Error)
				}
				return nil
			})
		},
	}
}

// CancelResponse is the response for cancelling an analysis.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CancelAnalysisEndpoint handles POST /api/chapters/{id}/cancel.
type CancelAnalysisEndpoint struct{}

func (e *CancelAnalysisEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/chapters/{id}/cancel", e.handler
}

func (e *CancelAnalysisEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}
	cancelled := coord.Cancel(r.PathValue("id"))
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (e *CancelAnalysisEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <chapter-id>",
		Short: "Cancel a running chapter analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelResponse
			if err := client.Post(cmd.Context(), "/api/chapters/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			if resp.Cancelled {
				fmt.Println("cancelled")
			} else {
				fmt.Println("no analysis running")
			}
			return nil
		},
	}
}

// ChapterStatusResponse combines stored chapter state with the live
// processing state.
type ChapterStatusResponse struct {
	ChapterID            string `json:"chapter_id"`
	Title                string `json:"title"`
	Phase                string `json:"phase"`
	IsProcessing         bool   `json:"is_processing"`
	LastError            string `json:"last_error,omitempty"`
	Processed            bool   `json:"processed"`
	Summary              string `json:"summary,omitempty"`
	IsGarbage            bool   `json:"is_garbage"`
	UserOverride         bool   `json:"user_override"`
	ClassificationStatus string `json:"classification_status"`
}

// ChapterStatusEndpoint handles GET /api/chapters/{id}/status.
type ChapterStatusEndpoint struct{}

func (e *ChapterStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/chapters/{id}/status", e.handler
}

func (e *ChapterStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	coord := svcctx.CoordinatorFrom(r.Context())
	if st == nil || coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	id := r.PathValue("id")
	chapter, err := st.GetChapter(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chapter not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := coord.ProcessingState(id)
	writeJSON(w, http.StatusOK, ChapterStatusResponse{
		ChapterID:            chapter.ID,
		Title:                chapter.Title,
		Phase:                state.Phase.String(),
		IsProcessing:         state.IsProcessingInsights(),
		LastError:            state.LastError,
		Processed:            chapter.Processed,
		Summary:              chapter.Summary,
		IsGarbage:            chapter.IsGarbage,
		UserOverride:         chapter.UserOverride,
		ClassificationStatus: string(chapter.ClassificationStatus),
	})
}

func (e *ChapterStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <chapter-id>",
		Short: "Get chapter processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChapterStatusResponse
			if err := client.Get(cmd.Context(), "/api/chapters/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ChapterInsightsResponse bundles everything anchored to a chapter's blocks.
type ChapterInsightsResponse struct {
	Annotations      []*store.Annotation      `json:"annotations"`
	QuizQuestions    []*store.QuizQuestion    `json:"quiz_questions"`
	ImageSuggestions []*store.ImageSuggestion `json:"image_suggestions"`
	Footnotes        []*store.Footnote        `json:"footnotes"`
}

// ChapterInsightsEndpoint handles GET /api/chapters/{id}/insights.
type ChapterInsightsEndpoint struct{}

func (e *ChapterInsightsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/chapters/{id}/insights", e.handler
}

func (e *ChapterInsightsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	if _, err := st.GetChapter(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chapter not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	annotations, err := st.ListAnnotations(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	quiz, err := st.ListQuizQuestions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	images, err := st.ListImageSuggestions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	footnotes, err := st.ListFootnotes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChapterInsightsResponse{
		Annotations:      annotations,
		QuizQuestions:    quiz,
		ImageSuggestions: images,
		Footnotes:        footnotes,
	})
}

func (e *ChapterInsightsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "insights <chapter-id>",
		Short: "List a chapter's annotations, quiz questions and image suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChapterInsightsResponse
			if err := client.Get(cmd.Context(), "/api/chapters/"+args[0]+"/insights", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
