package analysis

import "encoding/json"

// Result is the sole output of a successful analysis run. It is transient:
// never partially persisted mid-stream.
type Result struct {
	Summary          string            `json:"summary"`
	Annotations      []Annotation      `json:"annotations,omitempty"`
	QuizQuestions    []QuizQuestion    `json:"quizQuestions,omitempty"`
	ImageSuggestions []ImageSuggestion `json:"imageSuggestions,omitempty"`
}

// Annotation is one extracted insight, anchored to a source block.
type Annotation struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	SourceBlockID int    `json:"sourceBlockId"`
}

// QuizQuestion is one extracted comprehension question.
type QuizQuestion struct {
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	SourceBlockID int    `json:"sourceBlockId"`
}

// ImageSuggestion is one extracted image prompt.
type ImageSuggestion struct {
	Prompt        string `json:"prompt"`
	SourceBlockID int    `json:"sourceBlockId"`
}

// ResultSchema is the JSON Schema the extractor validates candidates
// against. Only summary is required so a minimal response still decodes;
// entity arrays are validated strictly when present.
var ResultSchema = json.RawMessage(`{
	"type": "object",
	"required": ["summary"],
	"properties": {
		"summary": {"type": "string"},
		"annotations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "title", "content", "sourceBlockId"],
				"properties": {
					"type": {"type": "string", "enum": ["science", "history", "philosophy", "connection", "world"]},
					"title": {"type": "string"},
					"content": {"type": "string"},
					"sourceBlockId": {"type": "integer", "minimum": 0}
				}
			}
		},
		"quizQuestions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question", "answer", "sourceBlockId"],
				"properties": {
					"question": {"type": "string"},
					"answer": {"type": "string"},
					"sourceBlockId": {"type": "integer", "minimum": 0}
				}
			}
		},
		"imageSuggestions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["prompt", "sourceBlockId"],
				"properties": {
					"prompt": {"type": "string"},
					"sourceBlockId": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`)
