// Package demo registers sample workflows that exercise every composite
// pattern against a deterministic stand-in for a language model.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// LLM completes a prompt. Real providers are adapted to this interface by
// the caller; the demos only need text in and text out.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMFunc adapts a function to LLM.
type LLMFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements LLM.
func (f LLMFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Mock answers prompts by their verb prefix ("summarize:", "answer:",
// "draft:", "classify:", "publish:", "greet:") with canned, deterministic
// output.
type Mock struct{}

// Complete implements LLM.
func (Mock) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	verb, body, _ := strings.Cut(prompt, ":")
	body = strings.TrimSpace(body)

	switch verb {
	case "summarize":
		return firstSentence(body), nil
	case "answer":
		question, context, _ := strings.Cut(body, "\ncontext:")
		context = strings.TrimSpace(context)
		if context == "" {
			return "I don't know.", nil
		}
		return fmt.Sprintf("%s (asked: %s)", firstSentence(context), strings.TrimSpace(question)), nil
	case "draft":
		return "Draft about " + body + ".", nil
	case "classify":
		return classify(body), nil
	case "publish":
		h := fnv.New32a()
		h.Write([]byte(body))
		return fmt.Sprintf("post-%08x", h.Sum32()), nil
	case "greet":
		return greet(body), nil
	default:
		return body, nil
	}
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}

func classify(message string) string {
	lower := strings.ToLower(message)
	ticket := map[string]string{"category": "general", "priority": "low"}
	switch {
	case strings.Contains(lower, "refund"), strings.Contains(lower, "invoice"), strings.Contains(lower, "charge"):
		ticket["category"] = "billing"
	case strings.Contains(lower, "crash"), strings.Contains(lower, "error"), strings.Contains(lower, "broken"):
		ticket["category"] = "bug"
	}
	if strings.Contains(lower, "urgent") || strings.Contains(lower, "asap") {
		ticket["priority"] = "high"
	}
	out, _ := json.Marshal(ticket)
	return string(out)
}

func greet(body string) string {
	lang, name, _ := strings.Cut(body, " ")
	switch lang {
	case "es":
		return "Hola, " + name
	case "fr":
		return "Bonjour, " + name
	case "de":
		return "Hallo, " + name
	default:
		return "Hello, " + name
	}
}
