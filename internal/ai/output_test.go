package ai

import (
	"testing"
)

func TestParseOutput(t *testing.T) {
	raw := `{"text":"done","fileTree":{"index.html":{"file":{"contents":"<html>"}}},"buildCommand":{"mainItem":"npm","commands":["install"]}}`

	out, ok := ParseOutput(raw)
	if !ok {
		t.Fatal("Expected parse to succeed")
	}
	if out.Text != "done" {
		t.Errorf("Expected text done, got %q", out.Text)
	}
	if len(out.FileTree) == 0 {
		t.Error("Expected file tree present")
	}
	if out.BuildCommand == nil || out.BuildCommand.MainItem != "npm" {
		t.Errorf("Expected npm build command, got %+v", out.BuildCommand)
	}
	if out.StartCommand != nil {
		t.Errorf("Expected absent start command, got %+v", out.StartCommand)
	}
}

func TestParseOutputStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"text\":\"fenced\"}\n```"

	out, ok := ParseOutput(raw)
	if !ok {
		t.Fatal("Expected fenced JSON to parse")
	}
	if out.Text != "fenced" {
		t.Errorf("Expected fenced, got %q", out.Text)
	}
}

func TestParseOutputMalformed(t *testing.T) {
	if _, ok := ParseOutput("sorry, I can only help with web development"); ok {
		t.Error("Expected plain prose to fail parsing")
	}
	if _, ok := ParseOutput(""); ok {
		t.Error("Expected empty output to fail parsing")
	}
}
