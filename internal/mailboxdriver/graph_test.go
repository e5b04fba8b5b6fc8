package mailboxdriver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchConvertsAndPaginates(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())

		if strings.Contains(r.URL.Path, "/mailFolders/Inbox/messages") && !strings.Contains(r.URL.RawQuery, "page=2") {
			fmt.Fprintf(w, `{
				"value": [{
					"id": "m1",
					"conversationId": "c1",
					"subject": "Budget approval",
					"body": {"contentType": "html", "content": "<p>please approve</p>"},
					"from": {"emailAddress": {"name": "Alice", "address": "alice@corp.example"}},
					"toRecipients": [{"emailAddress": {"address": "bob@corp.example"}}],
					"ccRecipients": [],
					"importance": "High",
					"flag": {"flagStatus": "flagged"},
					"receivedDateTime": "2024-12-15T09:00:00Z",
					"internetMessageHeaders": [{"name": "In-Reply-To", "value": "<abc@corp.example>"}],
					"attachments": [{"name": "budget.xlsx"}]
				}],
				"@odata.nextLink": "%s/me/mailFolders/Inbox/messages?page=2"
			}`, server.URL)
			return
		}

		fmt.Fprint(w, `{"value": [{
			"id": "m2",
			"conversationId": "c1",
			"subject": "Re: Budget approval",
			"body": {"contentType": "text", "content": "approved"},
			"from": {"emailAddress": {"name": "Bob", "address": "bob@corp.example"}},
			"toRecipients": [{"emailAddress": {"address": "alice@corp.example"}}],
			"importance": "normal",
			"flag": {"flagStatus": "notFlagged"},
			"receivedDateTime": "2024-12-15T10:00:00Z"
		}]}`)
	}))
	defer server.Close()

	driver := newTestDriver(server.URL, server.Client())

	windowStart := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2024, 12, 16, 0, 0, 0, 0, time.UTC)

	records, err := driver.Fetch(context.Background(), windowStart, windowEnd, []string{"Inbox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records across both pages, got %d", len(records))
	}
	if len(requests) != 2 {
		t.Fatalf("expected pagination to follow @odata.nextLink for 2 requests, got %d", len(requests))
	}

	first := records[0]
	if first.ItemID != "m1" || first.ConversationID != "c1" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.FromEmail != "alice@corp.example" || first.FromName != "Alice" {
		t.Fatalf("unexpected sender: %+v", first)
	}
	if first.BodyHTML != "<p>please approve</p>" || first.BodyPlain != "" {
		t.Fatalf("expected html body only, got %+v", first)
	}
	if first.Importance != "high" {
		t.Fatalf("expected lowercased importance, got %q", first.Importance)
	}
	if !first.IsFlagged {
		t.Fatal("expected first record to be flagged")
	}
	if len(first.AttachmentNames) != 1 || first.AttachmentNames[0] != "budget.xlsx" {
		t.Fatalf("unexpected attachment names: %+v", first.AttachmentNames)
	}
	if first.InReplyTo != "<abc@corp.example>" {
		t.Fatalf("expected In-Reply-To header mapped, got %q", first.InReplyTo)
	}

	second := records[1]
	if second.BodyPlain != "approved" || second.BodyHTML != "" {
		t.Fatalf("expected plain body only for second record, got %+v", second)
	}
	if second.IsFlagged {
		t.Fatal("expected second record not to be flagged")
	}
}

func TestFetchWrapsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "token expired"}}`)
	}))
	defer server.Close()

	driver := newTestDriver(server.URL, server.Client())

	_, err := driver.Fetch(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), []string{"Inbox"})
	if err == nil {
		t.Fatal("expected an error from a 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected the status code in the wrapped error, got %v", err)
	}
}

func TestFetchQueriesEachRequestedFolder(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		fmt.Fprint(w, `{"value": []}`)
	}))
	defer server.Close()

	driver := newTestDriver(server.URL, server.Client())

	_, err := driver.Fetch(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), []string{"Inbox", "Sent Items"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected one request per folder, got %d: %v", len(paths), paths)
	}
	if !strings.Contains(paths[0], "/mailFolders/Inbox/") {
		t.Fatalf("expected first request against Inbox, got %s", paths[0])
	}
	if !strings.Contains(paths[1], "/mailFolders/Sent%20Items/") && !strings.Contains(paths[1], "/mailFolders/Sent+Items/") {
		t.Fatalf("expected second request against the escaped Sent Items folder, got %s", paths[1])
	}
}
