package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n"
	ExitCommand      = "exit"
)
