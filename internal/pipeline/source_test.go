package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSource_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"posts":[
			{"id":"p1","text":"stuck on positioning","created_at":"2025-03-12T11:00:00Z",
			 "likes":12,"replies":3,"impressions":900,
			 "author":{"handle":"maker","display_name":"Maker","bio":"founder","followers":420,"verified":false}},
			{"id":"","text":"missing id, dropped"}
		]}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL)
	posts, err := source.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1 (id-less doc dropped)", len(posts))
	}

	post := posts[0]
	if post.ID != "p1" || post.Author.Handle != "maker" || post.Likes != 12 {
		t.Errorf("unexpected post: %+v", post)
	}
	want := time.Date(2025, 3, 12, 11, 0, 0, 0, time.UTC)
	if !post.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", post.CreatedAt, want)
	}
}

func TestHTTPSource_Errors(t *testing.T) {
	if _, err := NewHTTPSource("").Discover(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Errorf("empty url error = %v, want ErrNoSource", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "search backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL).Discover(context.Background()); err == nil {
		t.Error("expected error on 502")
	}
}
