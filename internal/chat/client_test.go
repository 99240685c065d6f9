package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	c := NewClient("bot-token", WithBaseURL(srv.URL))
	if err := c.Send(context.Background(), "12345", "Your prayer slot starts in 10 minutes"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.ChatID != "12345" {
		t.Errorf("chat_id = %q, want 12345", gotBody.ChatID)
	}
}

func TestSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendMessageResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	c := NewClient("bot-token", WithBaseURL(srv.URL))
	if err := c.Send(context.Background(), "12345", "hello"); err == nil {
		t.Fatal("rejected message should be an error")
	}
}

func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("bot-token", WithBaseURL(srv.URL))
	if err := c.Send(context.Background(), "12345", "hello"); err == nil {
		t.Fatal("5xx should be an error")
	}
}

func TestSendUnconfigured(t *testing.T) {
	c := NewClient("")
	if err := c.Send(context.Background(), "12345", "hello"); err == nil {
		t.Fatal("unconfigured client should refuse to send")
	}
}
