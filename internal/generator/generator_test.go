package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeBackend is a Backend with a canned reply.
type fakeBackend struct {
	// reply is returned when err is nil.
	reply string
	// err, when set, fails every call.
	err error
	// prompts records every prompt received.
	prompts []string
}

func (f *fakeBackend) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

var errBackendDown = errors.New("backend down")

func TestExtract(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 600)
	tests := []struct {
		name    string
		context string
		want    string
	}{
		{
			name:    "drops block labels",
			context: "[Document 1] (Source: a.txt, Relevance: 0.900)\nfoo bar\nbaz",
			want:    "foo bar baz",
		},
		{
			name: "first five lines only",
			context: "[Document 1] (Source: a, Relevance: 0.500)\none\ntwo\n\n---\n" +
				"[Document 2] (Source: b, Relevance: 0.400)\nthree\nfour\nfive",
			want: "one two --- three four",
		},
		{
			name:    "truncates to 500 characters",
			context: "[Document 1] (Source: a, Relevance: 0.500)\n" + long,
			want:    strings.Repeat("é", 500) + "...",
		},
		{
			name:    "exactly 500 characters is not truncated",
			context: strings.Repeat("a", 500),
			want:    strings.Repeat("a", 500),
		},
		{
			name:    "only labels",
			context: "[Document 1] (Source: a, Relevance: 0.500)\n\n  \n",
			want:    NoInformationAnswer,
		},
		{
			name:    "empty",
			context: "",
			want:    NoInformationAnswer,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Extract(tc.context); got != tc.want {
				t.Errorf("Extract:\n got %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestExtractive_Generate(t *testing.T) {
	t.Parallel()

	a := NewExtractive().Generate(context.Background(), "q", "[Document 1] x\nfoo bar\nbaz")
	if a.Text != "foo bar baz" || a.Method != MethodExtractive || a.FallbackErr != nil {
		t.Errorf("unexpected answer: %+v", a)
	}
}

func TestDelegated_Generate(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{reply: "  The answer is 42.  "}
	g, err := NewDelegated(b)
	if err != nil {
		t.Fatal(err)
	}

	a := g.Generate(context.Background(), "what is it?", "[Document 1] x\nctx line")
	if a.Text != "The answer is 42." || a.Method != MethodDelegated || a.FallbackErr != nil {
		t.Errorf("unexpected answer: %+v", a)
	}
	if len(b.prompts) != 1 {
		t.Fatalf("want 1 backend call, got %d", len(b.prompts))
	}
	p := b.prompts[0]
	for _, want := range []string{
		"Answer the question based ONLY on the provided context.",
		"Context:\n[Document 1] x\nctx line\n\nQuestion: what is it?\n\nAnswer:",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestDelegated_FallsBackOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend *fakeBackend
	}{
		{name: "backend error", backend: &fakeBackend{err: errBackendDown}},
		{name: "wrapped error", backend: &fakeBackend{err: fmt.Errorf("chat: %w", errBackendDown)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g, _ := NewDelegated(tc.backend)
			a := g.Generate(context.Background(), "q", "[Document 1] x\nfoo bar\nbaz")
			if a.Text != "foo bar baz" || a.Method != MethodExtractive {
				t.Errorf("unexpected answer: %+v", a)
			}
			if a.FallbackErr == nil {
				t.Error("FallbackErr must record the backend failure")
			}
		})
	}
}

func TestDelegated_BlankReplyIsKept(t *testing.T) {
	t.Parallel()

	g, _ := NewDelegated(&fakeBackend{reply: " \n "})
	a := g.Generate(context.Background(), "q", "[Document 1] x\nfoo bar")
	if a.Text != "" || a.Method != MethodDelegated || a.FallbackErr != nil {
		t.Errorf("blank reply should be returned as-is, got %+v", a)
	}
}

func TestNewDelegated_NilBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewDelegated(nil); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestCompletion(t *testing.T) {
	t.Parallel()

	if (Completion{Text: "ok"}).Failed() {
		t.Error("text completion reported as failed")
	}
	if !(Completion{Err: errBackendDown}).Failed() {
		t.Error("error completion reported as success")
	}
	if c := complete(context.Background(), &fakeBackend{err: errBackendDown}, "p"); !errors.Is(c.Err, errBackendDown) {
		t.Errorf("complete should carry the backend error, got %v", c.Err)
	}
}
