package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"neuroflow/pkg/task"
)

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient error", Transient("boom", errors.New("conn reset")), true},
		{"permanent error", Permanent(409, "stale version"), false},
		{"wrapped permanent", &Error{Class: ClassPermanent, Status: 400, Msg: "bad"}, false},
		{"unclassified", errors.New("mystery"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHTTPClientStatusClasses(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantClass Class
	}{
		{"server error", 500, ClassTransient},
		{"throttled", 429, ClassTransient},
		{"conflict", 409, ClassPermanent},
		{"validation", 400, ClassPermanent},
		{"missing", 404, ClassPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL)
			_, err := c.CreateTask(context.Background(), "acct-1", &task.Task{Title: "x"})
			var re *Error
			if !errors.As(err, &re) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if re.Class != tc.wantClass {
				t.Errorf("Class = %s, want %s", re.Class, tc.wantClass)
			}
			if re.Msg != "nope" {
				t.Errorf("Msg = %q, want server-provided message", re.Msg)
			}
		})
	}
}

func TestHTTPClientUnreachableIsTransient(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.ListTasks(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected error from unreachable server")
	}
	if !IsTransient(err) {
		t.Errorf("unreachable server error = %v, want transient", err)
	}
}

func TestHTTPClientSendsAccountHeader(t *testing.T) {
	var gotAccount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = r.Header.Get("X-Account-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.ListTasks(context.Background(), "acct-42"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAccount != "acct-42" {
		t.Errorf("X-Account-ID = %q, want acct-42", gotAccount)
	}
}
