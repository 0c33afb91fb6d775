package endpoints

import (
	"github.com/marginalia-app/marginalia/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health
		&HealthEndpoint{},

		// Books
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&ImportBookEndpoint{},
		&ClassifyBookEndpoint{},
		&DeleteBookEndpoint{},

		// Chapters
		&AnalyzeChapterEndpoint{},
		&CancelAnalysisEndpoint{},
		&ChapterStatusEndpoint{},
		&ChapterInsightsEndpoint{},

		// Annotations and quiz
		&MarkSeenEndpoint{},
		&QuizAnswerEndpoint{},
	}
}
