// Package a2a implements the slice of the Agent-to-Agent protocol the
// assistant speaks: serving an agent card, answering message/send
// requests from peers, and sending them to peer agents it discovers.
package a2a

import "fmt"

// WellKnownPath is where peers fetch the agent card.
const WellKnownPath = "/.well-known/agent.json"

// Card advertises an agent to its peers.
type Card struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills"`
}

type Capabilities struct {
	Streaming bool `json:"streaming"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// DefaultCard describes this assistant. url is the externally reachable
// base URL peers should send messages to, and may be empty when the
// deployment has no public address yet.
func DefaultCard(appName, url string) Card {
	return Card{
		Name: fmt.Sprintf("%s Assistant", appName),
		Description: fmt.Sprintf("%s is a comprehensive AI assistant with voice interaction, persistent memory, "+
			"and real-world integrations including web search, document processing, task management, calendar, and email.", appName),
		URL:                url,
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       Capabilities{Streaming: false},
		Skills: []Skill{
			{
				ID:          "web_search",
				Name:        "Web Search & Research",
				Description: "Search the web for information and provide detailed research.",
				Tags:        []string{"search", "research", "web"},
				Examples:    []string{"Search for the latest news about AI", "Research quantum computing"},
			},
			{
				ID:          "document_processing",
				Name:        "Document Analysis",
				Description: "Process, analyze and extract information from documents and images.",
				Tags:        []string{"documents", "analysis", "ocr"},
				Examples:    []string{"Analyze this PDF document", "Extract text from this image"},
			},
			{
				ID:          "task_management",
				Name:        "Task & Project Management",
				Description: "Manage tasks, projects, and to-do lists using Todoist integration.",
				Tags:        []string{"tasks", "productivity", "todoist"},
				Examples:    []string{"Add a task to my project", "Show my upcoming deadlines"},
			},
			{
				ID:          "calendar_management",
				Name:        "Calendar Management",
				Description: "Manage calendar events, scheduling, and availability using Google Calendar.",
				Tags:        []string{"calendar", "scheduling", "events"},
				Examples:    []string{"Schedule a meeting for tomorrow", "Check my availability next week"},
			},
			{
				ID:          "email_management",
				Name:        "Email Management",
				Description: "Read, compose, and manage emails using Gmail integration.",
				Tags:        []string{"email", "gmail", "communication"},
				Examples:    []string{"Check my latest emails", "Send an email to John"},
			},
			{
				ID:          "memory_retrieval",
				Name:        "Conversation Memory",
				Description: "Access and recall information from previous conversations and interactions.",
				Tags:        []string{"memory", "history", "context"},
				Examples:    []string{"What did we discuss yesterday?", "Remember my project preferences"},
			},
		},
	}
}
