package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Sternrassler/repo-mashup/pkg/mashup"
)

type recordingSearcher struct {
	keywords []string
	fail     map[string]error
}

func (r *recordingSearcher) Search(_ context.Context, keyword string) (*mashup.AggregateResult, error) {
	r.keywords = append(r.keywords, keyword)
	if err := r.fail[keyword]; err != nil {
		return nil, err
	}
	return &mashup.AggregateResult{Subjects: []mashup.SubjectResult{{Subject: mashup.Subject{Name: keyword + "-project"}}}}, nil
}

func TestRun_SearchesEachLine(t *testing.T) {
	s := &recordingSearcher{}
	out := &bytes.Buffer{}

	err := run(context.Background(), strings.NewReader("reactive\n\n  streams  \n"), out, s)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if len(s.keywords) != 2 || s.keywords[0] != "reactive" || s.keywords[1] != "streams" {
		t.Errorf("keywords = %v", s.keywords)
	}
	if !strings.Contains(out.String(), `"name": "reactive-project"`) {
		t.Errorf("output missing indented result: %q", out.String())
	}
}

func TestRun_StopsOnExit(t *testing.T) {
	s := &recordingSearcher{}

	err := run(context.Background(), strings.NewReader("reactive\nEXIT\nstreams\n"), &bytes.Buffer{}, s)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(s.keywords) != 1 {
		t.Errorf("keywords = %v, want only the one before exit", s.keywords)
	}
}

func TestRun_ContinuesAfterFailure(t *testing.T) {
	s := &recordingSearcher{fail: map[string]error{"broken": errors.New("retry exhausted")}}
	out := &bytes.Buffer{}

	if err := run(context.Background(), strings.NewReader("broken\nreactive\n"), out, s); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if !strings.Contains(out.String(), "error: retry exhausted") {
		t.Errorf("output missing error line: %q", out.String())
	}
	if len(s.keywords) != 2 {
		t.Errorf("keywords = %v, want both searched", s.keywords)
	}
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	s := &recordingSearcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run(ctx, strings.NewReader("reactive\n"), &bytes.Buffer{}, s); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(s.keywords) != 0 {
		t.Errorf("keywords = %v, want none", s.keywords)
	}
}
