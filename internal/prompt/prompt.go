package prompt

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// template variables
const (
	VarContext     = "context"
	VarLanguage    = "language"
	VarInput       = "input"
	VarChatHistory = "chat_history"
)

const answerSystem = "You are a helpful assistant. Answer the user's questions to the best of your ability in language : {{.language}}. " +
	"Use only the context below. Answer only if you are sure about the answer. If you are not sure, say 'I don't know'.\n\n{{.context}}"

const contextualizeSystem = "Given a chat history and the latest user question which might reference context in the chat history, " +
	"formulate a standalone question which can be understood without the chat history. " +
	"Do NOT answer the question, just reformulate it if needed and otherwise return it as is."

// Plain answers from the retrieved context only.
func Plain() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(answerSystem, []string{VarLanguage, VarContext}),
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{VarInput}),
	})
}

// HistoryAware answers from the retrieved context with the conversation so far.
func HistoryAware() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(answerSystem, []string{VarLanguage, VarContext}),
		prompts.MessagesPlaceholder{VariableName: VarChatHistory},
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{VarInput}),
	})
}

// Contextualize rewrites a follow-up question into a standalone one.
func Contextualize() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(contextualizeSystem, nil),
		prompts.MessagesPlaceholder{VariableName: VarChatHistory},
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{VarInput}),
	})
}

// Values builds the variable map shared by the three templates.
func Values(input, language, context string, history []llms.ChatMessage) map[string]any {
	if history == nil {
		history = []llms.ChatMessage{}
	}
	return map[string]any{
		VarInput:       input,
		VarLanguage:    language,
		VarContext:     context,
		VarChatHistory: history,
	}
}
