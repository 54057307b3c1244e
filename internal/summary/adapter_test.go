package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/gateway/gatewaytest"
)

func TestCombineTranscripts(t *testing.T) {
	got := CombineTranscripts([]NamedTranscript{
		{Name: "1607.json", Text: "hello hi\n"},
		{Name: "1607-followup.json", Text: "second visit"},
	})
	want := "=== 1607.json ===\nhello hi\n\n=== 1607-followup.json ===\nsecond visit"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if CombineTranscripts(nil) != "" {
		t.Fatalf("expected empty string for no transcripts")
	}
}

func TestBuildImageSetKeepsDocumentAndPageOrder(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.PutFile("1607", "1607-a.pdf", []byte("A"))
	srv.PutFile("1607", "1607-b.pdf", []byte("B"))
	client := srv.Client()

	listing, err := client.ListArtifacts(context.Background(), "1607", gateway.PatternPDF)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	a := NewAdapter(&fakeBackend{}, client, &fakeRasterizer{pages: map[string]int{"A": 2, "B": 1}}, nil)
	images, err := a.BuildImageSet(context.Background(), listing.Artifacts)
	if err != nil {
		t.Fatalf("BuildImageSet: %v", err)
	}

	var got []string
	for _, img := range images {
		got = append(got, string(img.Data))
	}
	want := []string{"A-p1", "A-p2", "B-p1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildImageSetFailsOnRenderError(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.PutFile("1607", "1607.pdf", []byte("A"))
	client := srv.Client()
	listing, _ := client.ListArtifacts(context.Background(), "1607", gateway.PatternPDF)

	boom := errors.New("magick crashed")
	a := NewAdapter(&fakeBackend{}, client, &fakeRasterizer{err: boom}, nil)
	if _, err := a.BuildImageSet(context.Background(), listing.Artifacts); !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
}

func TestSummarizeRetriesNetworkFailures(t *testing.T) {
	backend := &fakeBackend{
		errs:      []error{gateway.ErrNetwork, gateway.ErrNetwork},
		responses: []string{"retry-success"},
	}
	rec := &sleepRecorder{}
	a := NewAdapter(backend, nil, nil, nil)
	a.sleep = rec.sleep

	got, err := a.Summarize(context.Background(), Request{PromptPrefix: "p"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "retry-success" {
		t.Fatalf("got %q", got)
	}
	if backend.calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", backend.calls())
	}
	if len(rec.sleeps) != 2 || rec.sleeps[0] != time.Second || rec.sleeps[1] != 4*time.Second {
		t.Fatalf("unexpected backoff: %v", rec.sleeps)
	}
}

func TestSummarizeGivesUpAfterBackoff(t *testing.T) {
	backend := &fakeBackend{errs: []error{gateway.ErrNetwork, gateway.ErrNetwork, gateway.ErrNetwork, gateway.ErrNetwork}}
	rec := &sleepRecorder{}
	a := NewAdapter(backend, nil, nil, nil)
	a.sleep = rec.sleep

	_, err := a.Summarize(context.Background(), Request{})
	if !errors.Is(err, gateway.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if backend.calls() != 4 {
		t.Fatalf("expected 4 calls, got %d", backend.calls())
	}
	if len(rec.sleeps) != 3 || rec.sleeps[2] != 16*time.Second {
		t.Fatalf("unexpected backoff: %v", rec.sleeps)
	}
}

func TestSummarizeDoesNotRetryOtherErrors(t *testing.T) {
	for _, failure := range []error{ErrMalformedAIResponse, gateway.ErrUnauthorized} {
		backend := &fakeBackend{errs: []error{failure}}
		a := NewAdapter(backend, nil, nil, nil)
		a.sleep = (&sleepRecorder{}).sleep

		if _, err := a.Summarize(context.Background(), Request{}); !errors.Is(err, failure) {
			t.Fatalf("expected %v, got %v", failure, err)
		}
		if backend.calls() != 1 {
			t.Fatalf("%v: expected a single call, got %d", failure, backend.calls())
		}
	}
}

func TestSummarizeStopsWhenContextEnds(t *testing.T) {
	backend := &fakeBackend{errs: []error{gateway.ErrNetwork}}
	a := NewAdapter(backend, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Summarize(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
