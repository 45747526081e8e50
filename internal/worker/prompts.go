package worker

import (
	"fmt"
	"strings"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
)

const planSystemPrompt = `You are a content strategist. Generate a detailed content plan based on the user's requirements.

Respond in well-structured Markdown. Use the following sections with headings:

## Executive Summary
A brief overview of the content plan.

## Target Audience
Description of who this content is for.

## Key Messages
A bulleted list of the core messages to convey.

## Content Structure
The format, estimated length, and a list of planned sections with their purpose.

## Success Criteria
A bulleted list of measurable criteria for success.

## Tone & Style
Description of the writing tone and style to use.

Write clearly and concisely. Do not wrap output in code fences.`

const outlineSystemPrompt = `You are a content outline architect. Generate a detailed, well-structured content outline based on the approved plan.

Respond in well-structured Markdown: a title heading, then one heading per section with 2-4 bullet points describing what the section covers. Order sections so the piece builds logically. Do not wrap output in code fences.`

const contentSystemPrompt = `You are an expert content writer. Write the full piece following the approved outline, section by section.

Respond with the finished content as Markdown. Keep the outline's section order and cover every section. Do not wrap output in code fences.`

func planMessages(session *model.Session) []client.ChatMessage {
	var user strings.Builder
	user.WriteString("Create a content plan for the following:\n\n")
	user.WriteString(session.PromptContext())

	if len(session.Sources) > 0 {
		user.WriteString("\n\nReference sources:")
		for _, src := range session.Sources {
			fmt.Fprintf(&user, "\n- %s (%s)", src.Title, src.Type)
			if src.ParsedContent != "" {
				preview := src.ParsedContent
				if len(preview) > 500 {
					preview = preview[:500] + "..."
				}
				fmt.Fprintf(&user, "\n  Content preview: %s", preview)
			}
		}
	}

	return []client.ChatMessage{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: user.String()},
	}
}

func outlineMessages(session *model.Session, planContent string) []client.ChatMessage {
	user := fmt.Sprintf("Session context:\n%s\n\nApproved plan:\n%s\n\nCreate the content outline.",
		session.PromptContext(), planContent)
	return []client.ChatMessage{
		{Role: "system", Content: outlineSystemPrompt},
		{Role: "user", Content: user},
	}
}

func contentMessages(session *model.Session, outlineContent string) []client.ChatMessage {
	user := fmt.Sprintf("Session context:\n%s\n\nApproved outline:\n%s\n\nWrite the full content.",
		session.PromptContext(), outlineContent)
	return []client.ChatMessage{
		{Role: "system", Content: contentSystemPrompt},
		{Role: "user", Content: user},
	}
}

func criticMessages(typ model.ArtifactType, content, sessionContext string) []client.ChatMessage {
	system := fmt.Sprintf(`You are a rigorous content critic. Evaluate the provided %[1]s and determine if it meets quality standards.

You MUST respond with valid JSON:
{
  "approved": true/false,
  "score": 1-10,
  "objections": ["list of specific issues that must be fixed"],
  "suggestions": ["list of improvements that would enhance quality"],
  "summary": "Brief overall assessment"
}

Approve (score >= 7) if the %[1]s is:
- Well-structured and logically organized
- Comprehensive and addresses the requirements
- Clear and actionable
- Appropriate for the target audience

Reject (score < 7) if there are significant gaps, unclear sections, or structural problems.`, typ)

	user := fmt.Sprintf("Session context:\n%s\n\n%s to review:\n%s",
		sessionContext, strings.ToUpper(string(typ)), content)
	return []client.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func revisionMessages(typ model.ArtifactType, content, sessionContext string, feedback model.CriticFeedback) []client.ChatMessage {
	format := "Respond with the revised content as plain text. Do not wrap output in code fences."
	if typ != model.ArtifactContent {
		format = "Respond with valid JSON matching the same structure as the input."
	}
	system := fmt.Sprintf(`You revise content based on critic feedback. Revise the provided %s to address every objection and incorporate the suggestions. %s`, typ, format)

	user := fmt.Sprintf(`Session context:
%s

Current %s:
%s

Critic feedback:
- Score: %d/10
- Objections: %s
- Suggestions: %s

Please revise the %s to address the objections and incorporate the suggestions.`,
		sessionContext, typ, content,
		feedback.Score,
		strings.Join(feedback.Objections, "; "),
		strings.Join(feedback.Suggestions, "; "),
		typ)

	return []client.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
