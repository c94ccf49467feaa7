package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"photowatch/pkg/photowatch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChangeMessage(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	o := &photowatch.Observation{
		SourceURL:   "https://pps.whatsapp.net/v/t61/photo.jpg?oh=abc",
		Fingerprint: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		ObservedAt:  time.Date(2025, 3, 1, 17, 30, 0, 0, time.UTC),
	}

	msg := ChangeMessage(o, bogota)
	if !strings.Contains(msg.Body, o.SourceURL) {
		t.Errorf("body must reference the source URL:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, "01 Mar 25 12:30") {
		t.Errorf("body should show local time 01 Mar 25 12:30:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, "0123456789ab\n") {
		t.Errorf("body should show a shortened fingerprint:\n%s", msg.Body)
	}
	if strings.Contains(msg.Body, "Location:") {
		t.Errorf("body without a reading should not show a location:\n%s", msg.Body)
	}

	o.Location = &photowatch.GeoReading{Latitude: 4.6, Longitude: -74.08}
	if msg := ChangeMessage(o, nil); !strings.Contains(msg.Body, "Location: 4.600000, -74.080000") {
		t.Errorf("body should include the location:\n%s", msg.Body)
	}
}

type failingProvider struct{}

func (failingProvider) Send(context.Context, Message) (string, error) {
	return "", errors.New("gateway down")
}

func TestSender(t *testing.T) {
	s := New(NewMockProvider(quietLogger()), quietLogger())
	id1, err := s.Send(context.Background(), Message{Body: "one"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	id2, _ := s.Send(context.Background(), Message{Body: "two"})
	if id1 != "mock-1" || id2 != "mock-2" {
		t.Errorf("delivery ids = %q, %q, want mock-1, mock-2", id1, id2)
	}

	if _, err := New(failingProvider{}, quietLogger()).Send(context.Background(), Message{}); err == nil {
		t.Error("Send() with failing provider expected error")
	}
}

func TestTwilioProvider(t *testing.T) {
	var gotForm map[string]string
	var gotUser, gotPass, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = map[string]string{
			"From": r.PostForm.Get("From"),
			"To":   r.PostForm.Get("To"),
			"Body": r.PostForm.Get("Body"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC1", "secret", "+14155238886", "whatsapp:+573001112233", quietLogger())
	p.baseURL = srv.URL
	p.client = srv.Client()

	sid, err := p.Send(context.Background(), Message{Subject: "ignored", Body: "photo changed"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sid != "SM123" {
		t.Errorf("Send() sid = %q, want SM123", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC1" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	want := map[string]string{"From": "whatsapp:+14155238886", "To": "whatsapp:+573001112233", "Body": "photo changed"}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form %s = %q, want %q", k, gotForm[k], v)
		}
	}
}

func TestTwilioProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":63007,"message":"Twilio could not find a Channel with the specified From address","status":400}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC1", "secret", "+1", "+2", quietLogger())
	p.baseURL = srv.URL

	_, err := p.Send(context.Background(), Message{Body: "x"})
	if err == nil {
		t.Fatal("Send() expected error")
	}
	if !strings.Contains(err.Error(), "63007") {
		t.Errorf("error should carry the twilio code: %v", err)
	}
}

func TestBrevoProvider(t *testing.T) {
	var got brevoSendRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<201@smtp-relay.mailin.fr>"}`))
	}))
	defer srv.Close()

	p := NewBrevoProvider("key-1", "alerts@example.com", "photowatch", "me@example.com", quietLogger())
	p.endpoint = srv.URL

	id, err := p.Send(context.Background(), Message{Subject: "Profile photo changed", Body: "body"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "<201@smtp-relay.mailin.fr>" {
		t.Errorf("Send() id = %q", id)
	}
	if gotKey != "key-1" {
		t.Errorf("api-key = %q", gotKey)
	}
	if got.Text != "body" || got.Subject != "Profile photo changed" || len(got.To) != 1 || got.To[0].Email != "me@example.com" {
		t.Errorf("request = %+v", got)
	}
}

func TestBrevoProviderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewBrevoProvider("bad", "a@example.com", "", "b@example.com", quietLogger())
	p.endpoint = srv.URL
	if _, err := p.Send(context.Background(), Message{Body: "x"}); err == nil {
		t.Error("Send() expected error on 401")
	}
}

func TestBuildMIMESanitizesHeaders(t *testing.T) {
	raw := buildMIME("me@example.com\r\nBcc: evil@example.com", Message{Subject: "hi\nX-Injected: 1", Body: "line1\nline2"})
	if strings.Contains(raw, "\r\nBcc:") || strings.Contains(raw, "\nX-Injected") {
		t.Errorf("header injection not stripped:\n%q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nline1\nline2") {
		t.Errorf("body not preserved:\n%q", raw)
	}
	if !strings.Contains(raw, "Content-Type: text/plain; charset=utf-8") {
		t.Errorf("missing plain-text content type:\n%q", raw)
	}
}

func TestWhatsappAddr(t *testing.T) {
	tests := map[string]string{
		"+573001112233":          "whatsapp:+573001112233",
		"whatsapp:+573001112233": "whatsapp:+573001112233",
		" +1 ":                   "whatsapp:+1",
		"":                       "",
	}
	for in, want := range tests {
		if got := whatsappAddr(in); got != want {
			t.Errorf("whatsappAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChangeHTML(t *testing.T) {
	o := &photowatch.Observation{
		SourceURL:   "https://cdn.example.com/p.jpg?a=1&b=<2>",
		Fingerprint: "0123456789abcdef",
		ObservedAt:  time.Date(2025, 3, 1, 17, 30, 0, 0, time.UTC),
	}
	html := ChangeMessage(o, time.UTC).HTML

	if !strings.Contains(html, `<img src="https://cdn.example.com/p.jpg?a=1&amp;b=&lt;2&gt;"`) {
		t.Errorf("photo should be inlined with an escaped URL:\n%s", html)
	}
	if !strings.Contains(html, "01 Mar 25 17:30") {
		t.Errorf("missing detection time:\n%s", html)
	}

	o.SourceURL = "javascript:alert(1)"
	if html := ChangeMessage(o, time.UTC).HTML; strings.Contains(html, "<img") {
		t.Errorf("unsafe URL must not be inlined:\n%s", html)
	}
}

func TestIsSafeURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.jpg", true},
		{"HTTP://example.com/a.jpg", true},
		{"javascript:alert(1)", false},
		{"data:image/png;base64,AAAA", false},
		{"/relative.jpg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isSafeURL(tt.url); got != tt.want {
			t.Errorf("isSafeURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestBuildMIMEMultipart(t *testing.T) {
	raw := buildMIME("me@example.com", Message{Subject: "s", Body: "plain body", HTML: "<p>rich</p>"})
	for _, want := range []string{
		`Content-Type: multipart/alternative; boundary="` + mimeBoundary + `"`,
		"Content-Type: text/plain; charset=utf-8\r\n\r\nplain body",
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>rich</p>",
		"--" + mimeBoundary + "--",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("MIME message missing %q:\n%s", want, raw)
		}
	}
}
