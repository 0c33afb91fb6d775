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

// ListBooksResponse is the response for listing books.
type ListBooksResponse struct {
	Books []*store.Book `json:"books"`
}

// ListBooksEndpoint handles GET /api/books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books", e.handler
}

func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	books, err := st.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListBooksResponse{Books: books})
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List imported books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), "/api/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetBookResponse is the response for fetching one book with its chapters.
type GetBookResponse struct {
	Book     *store.Book      `json:"book"`
	Chapters []*store.Chapter `json:"chapters"`
}

// GetBookEndpoint handles GET /api/books/{id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}", e.handler
}

func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	book, err := st.GetBook(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chapters, err := st.ListChapters(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Chapter markup can be large; the listing surface doesn't need it.
	trimmed := make([]*store.Chapter, len(chapters))
	for i, ch := range chapters {
		c := *ch
		c.HTML = ""
		trimmed[i] = &c
	}

	writeJSON(w, http.StatusOK, GetBookResponse{Book: book, Chapters: trimmed})
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "book <id>",
		Short: "Get a book and its chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetBookResponse
			if err := client.Get(cmd.Context(), "/api/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ImportBookRequest is the request body for importing an EPUB.
type ImportBookRequest struct {
	Path string `json:"path"`
}

// ImportBookResponse is the response for a successful import.
type ImportBookResponse struct {
	Book     *store.Book `json:"book"`
	Chapters int         `json:"chapters"`
}

// ImportBookEndpoint handles POST /api/books/import.
type ImportBookEndpoint struct{}

func (e *ImportBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/import", e.handler
}

func (e *ImportBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ImportBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	im := svcctx.ImporterFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	if im == nil || st == nil {
		writeError(w, http.StatusServiceUnavailable, "importer not initialized")
		return
	}

	book, err := im.ImportEPUB(r.Context(), req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chapters, err := st.ListChapters(r.Context(), book.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ImportBookResponse{Book: book, Chapters: len(chapters)})
}

func (e *ImportBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Import an EPUB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ImportBookResponse
			if err := client.Post(cmd.Context(), "/api/books/import", ImportBookRequest{Path: args[0]}, &resp); err != nil {
				return err
			}
			fmt.Printf("Imported %q (%s): %d chapters\n", resp.Book.Title, resp.Book.ID, resp.Chapters)
			return nil
		},
	}
}

// DeleteBookEndpoint handles DELETE /api/books/{id}. Deleting a book removes
// its chapters and everything anchored to them.
type DeleteBookEndpoint struct{}

func (e *DeleteBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/books/{id}", e.handler
}

func (e *DeleteBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	if _, err := st.GetBook(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := st.DeleteBook(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (e *DeleteBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book and all its chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/books/"+args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

// ClassifyBookResponse is the response for a classification sweep.
type ClassifyBookResponse struct {
	Classified int `json:"classified"`
}

// ClassifyBookEndpoint handles POST /api/books/{id}/classify.
type ClassifyBookEndpoint struct{}

func (e *ClassifyBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/classify", e.handler
}

func (e *ClassifyBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	n, err := coord.ClassifyBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ClassifyBookResponse{Classified: n})
}

func (e *ClassifyBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <book-id>",
		Short: "Classify a book's chapters as content or front/back matter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ClassifyBookResponse
			if err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/classify", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Classified %d chapters\n", resp.Classified)
			return nil
		},
	}
}
