package answer

import (
	"strings"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/citation"
	"github.com/feichai0017/vectordocs/pkg/llm"
)

// NoAnswer is streamed when retrieval finds nothing.
const NoAnswer = "Documents do not contain an answer to the question.\n"

var systemPrompt = strings.Join([]string{
	"You are an assistant that answers user questions based on the provided documents.",
	"You are given the user's query and a list of text fragments from documents with file identifiers, file names and page numbers.",
	"Your task:",
	"Use only the provided fragments to answer.",
	"If the information is insufficient, explicitly state that the documents do not contain the answer.",
	"Respond briefly, clearly, and to the point.",
	"Answer format:",
	"First, provide a concise and accurate answer to the user's question.",
	"Then list every fragment you relied on, one per line, between the markers below:",
	citation.BeginTag,
	"<fileUuid>/<fileName>/<pageNumber>",
	citation.EndTag,
}, "\n")

var rewritePrompt = strings.Join([]string{
	"You are part of a retrieval-augmented generation (RAG) system.",
	"The user is having an ongoing conversation with an assistant.",
	"Your task is to create a single, clear, and information-rich search query",
	"that captures the user's current information need based on the entire conversation so far.",
	"Focus on the key topic and the user's intent, not on casual or irrelevant parts of the chat.",
	"Return ONLY the search query as plain text, without explanations, formatting, or quotes.",
}, "\n")

// BuildMessages assembles the answer prompt: instructions, earlier turns,
// the question and finally the retrieved fragments.
func BuildMessages(query string, history []models.ChatTurn, fragments string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = appendHistory(messages, history)
	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: query},
		llm.Message{Role: llm.RoleSystem, Content: "Fragments:\n" + fragments},
	)
	return messages
}

// buildRewriteMessages asks for a standalone search query.
func buildRewriteMessages(query string, history []models.ChatTurn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rewritePrompt})
	messages = appendHistory(messages, history)
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}

func appendHistory(messages []llm.Message, history []models.ChatTurn) []llm.Message {
	for _, turn := range history {
		switch turn.Role {
		case "agent":
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Message})
		case "user":
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Message})
		}
	}
	return messages
}
